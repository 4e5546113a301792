// Command burrowctl is a single-binary operator tool for a burrow cache
// root: get/set/stat/check/expire/evict against the on-disk database
// directly, plus a standalone Prometheus exporter.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/internal/blog"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrowctl",
	Short: "Inspect and operate a burrow cache root",
	Long: `burrowctl opens a burrow cache directory directly and runs a single
operation against it: reading or writing a key, reporting statistics,
running the integrity checker, or sweeping expired/tagged rows.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("burrowctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("dir", "", "Cache root directory (required)")
	rootCmd.PersistentFlags().String("settings", "", "Optional YAML settings file, applied over defaults")
	_ = rootCmd.MarkPersistentFlagRequired("dir")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	blog.Init(blog.Config{
		Level:      blog.Level(level),
		JSONOutput: jsonOut,
	})
}
