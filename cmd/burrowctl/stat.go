package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print entry count, volume, and hit/miss counters",
	Args:  cobra.NoArgs,
	RunE:  runStat,
}

func init() {
	statCmd.Flags().Bool("reset", false, "Reset hit/miss counters after reading them")
}

func runStat(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.Len()
	if err != nil {
		return err
	}
	volume, err := e.Volume()
	if err != nil {
		return err
	}
	reset, _ := cmd.Flags().GetBool("reset")
	hits, misses, err := e.Stats(nil, reset)
	if err != nil {
		return err
	}

	fmt.Printf("entries: %d\n", n)
	fmt.Printf("volume:  %d bytes\n", volume)
	fmt.Printf("hits:    %d\n", hits)
	fmt.Printf("misses:  %d\n", misses)
	return nil
}
