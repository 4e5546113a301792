package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/internal/cache"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a single key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().Bool("with-expire", false, "Print the expire time alongside the value")
	getCmd.Flags().Bool("with-tag", false, "Print the tag alongside the value")
}

func runGet(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	withExpire, _ := cmd.Flags().GetBool("with-expire")
	withTag, _ := cmd.Flags().GetBool("with-tag")

	res, err := e.Get(args[0], cache.GetOptions{
		WantExpire: withExpire,
		WantTag:    withTag,
	})
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("key not found")
	}

	fmt.Printf("%v\n", res.Value)
	if withExpire && res.ExpireTime != nil {
		fmt.Printf("expire: %v\n", *res.ExpireTime)
	}
	if withTag && res.Tag != nil {
		fmt.Printf("tag: %s\n", *res.Tag)
	}
	return nil
}
