package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Remove rows past their expire time",
	Args:  cobra.NoArgs,
	RunE:  runExpire,
}

func init() {
	expireCmd.Flags().Bool("retry", false, "Retry under write contention instead of failing with a timeout")
}

func runExpire(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	retry, _ := cmd.Flags().GetBool("retry")
	n, err := e.Expire(nil, retry)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired rows\n", n)
	return nil
}

var evictCmd = &cobra.Command{
	Use:   "evict <tag>",
	Short: "Remove every row carrying the given tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvict,
}

func init() {
	evictCmd.Flags().Bool("retry", false, "Retry under write contention instead of failing with a timeout")
}

func runEvict(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	retry, _ := cmd.Flags().GetBool("retry")
	n, err := e.Evict(args[0], retry)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d tagged rows\n", n)
	return nil
}
