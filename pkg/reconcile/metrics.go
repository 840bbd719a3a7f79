package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubdir_sync_cycles_total",
		Help: "Total number of sync cycles started",
	})

	cycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubdir_sync_cycle_errors_total",
		Help: "Sync cycles that finished with at least one error",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubdir_sync_cycle_duration_seconds",
		Help:    "Duration of sync cycles",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
	})

	entriesPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubdir_sync_entries_purged_total",
		Help: "Stale mirrored entries deleted, by kind",
	}, []string{"kind"})

	purgeProbeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubdir_sync_purge_probe_errors_total",
		Help: "Existence probes that failed during purge scans",
	})

	lastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hubdir_sync_last_success_timestamp_seconds",
		Help: "Unix time of the last fully successful sync cycle",
	})
)
