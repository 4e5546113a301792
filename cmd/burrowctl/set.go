package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/internal/cache"
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a single key",
	Args:  cobra.ExactArgs(2),
	RunE:  runSet,
}

func init() {
	setCmd.Flags().String("tag", "", "Tag this row for later eviction")
	setCmd.Flags().Duration("ttl", 0, "Expire this row after the given duration")
}

func runSet(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := cache.SetOptions{}
	if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
		opts.Tag = &tag
	}
	if ttl, _ := cmd.Flags().GetDuration("ttl"); ttl > 0 {
		seconds := ttl.Seconds()
		opts.Expire = &seconds
	}

	_, err = e.Set(args[0], args[1], opts)
	return err
}
