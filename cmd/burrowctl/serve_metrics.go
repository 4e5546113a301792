package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/internal/blog"
	"github.com/cuemby/burrow/internal/cache"
	"github.com/cuemby/burrow/internal/metrics"
)

const defaultPollInterval = 15 * time.Second

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Poll stat periodically and serve it as Prometheus metrics",
	Long: `serve-metrics opens the cache root read-only-in-spirit (it still
takes the process's usual write lock) and exposes its counters on
/metrics for scraping, refreshing them on a fixed interval.`,
	Args: cobra.NoArgs,
	RunE: runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().String("addr", ":9090", "Address to serve /metrics on")
	serveMetricsCmd.Flags().Duration("interval", defaultPollInterval, "Stat polling interval")
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	e, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	dir, _ := cmd.Flags().GetString("dir")
	interval, _ := cmd.Flags().GetDuration("interval")
	addr, _ := cmd.Flags().GetString("addr")

	stop := startPolling(e, dir, interval)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	logger := blog.WithComponent("serve-metrics")
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return http.ListenAndServe(addr, mux)
}

// startPolling refreshes the root-labeled gauges on a fixed interval,
// modeled on the teacher's metrics.Collector ticker loop. It returns a
// stop function that halts the ticker goroutine.
func startPolling(e *cache.Engine, root string, interval time.Duration) func() {
	stopCh := make(chan struct{})
	logger := blog.WithComponent("serve-metrics")

	poll := func() {
		n, err := e.Len()
		if err != nil {
			logger.Warn().Err(err).Msg("poll: len")
			return
		}
		volume, err := e.Volume()
		if err != nil {
			logger.Warn().Err(err).Msg("poll: volume")
			return
		}
		metrics.Entries.WithLabelValues(root).Set(float64(n))
		metrics.VolumeBytes.WithLabelValues(root).Set(float64(volume))
	}

	ticker := time.NewTicker(interval)
	go func() {
		poll()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(stopCh) }
}
