package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/internal/cache"
	"github.com/cuemby/burrow/internal/config"
)

// openFromFlags opens the cache root named by the --dir flag, applying
// --settings over the defaults when given.
func openFromFlags(cmd *cobra.Command) (*cache.Engine, error) {
	dir, _ := cmd.Flags().GetString("dir")
	settingsPath, _ := cmd.Flags().GetString("settings")

	settings := config.Default()
	if settingsPath != "" {
		loaded, err := config.Load(settingsPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	return cache.Open(dir, cache.Options{Settings: settings})
}
