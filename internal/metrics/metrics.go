// Package metrics provides Prometheus metrics collection and exposition
// for burrow. It defines and registers the cache's counters and gauges
// using the Prometheus client library, and exposes them over an HTTP
// endpoint for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_hits_total",
			Help: "Total number of cache hits by cache root.",
		},
		[]string{"root"},
	)

	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_misses_total",
			Help: "Total number of cache misses by cache root.",
		},
		[]string{"root"},
	)

	Entries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_entries",
			Help: "Current number of resident entries by cache root.",
		},
		[]string{"root"},
	)

	VolumeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_volume_bytes",
			Help: "Current on-disk volume (database pages plus heap bytes) by cache root.",
		},
		[]string{"root"},
	)

	CullTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_cull_total",
			Help: "Total number of entries removed by size-bounded culling.",
		},
		[]string{"root"},
	)

	ExpireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_expire_total",
			Help: "Total number of entries removed by the expiration sweep.",
		},
		[]string{"root"},
	)

	EvictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_evict_total",
			Help: "Total number of entries removed by tag eviction.",
		},
		[]string{"root", "tag"},
	)

	TxnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_txn_duration_seconds",
			Help:    "Transaction scope duration in seconds by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	FanoutShardTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_fanout_shard_timeouts_total",
			Help: "Total number of per-shard timeouts absorbed by the fanout router.",
		},
		[]string{"shard"},
	)
)

func init() {
	prometheus.MustRegister(
		HitsTotal,
		MissesTotal,
		Entries,
		VolumeBytes,
		CullTotal,
		ExpireTotal,
		EvictTotal,
		TxnDuration,
		FanoutShardTimeoutsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation; ObserveDurationVec records the time
// since NewTimer to a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
