package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the integrity checker, optionally repairing what it finds",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().Bool("fix", false, "Repair counters and remove orphaned heap files")
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	fix, _ := cmd.Flags().GetBool("fix")
	warnings, err := e.Check(fix)
	if err != nil {
		return err
	}

	if len(warnings) == 0 {
		fmt.Println("no issues found")
		return nil
	}
	for _, w := range warnings {
		fmt.Println(w)
	}
	return nil
}
