package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_scan_cycles_total",
			Help: "Scan cycles by outcome (ok, feed_unavailable, store_error, busy).",
		},
		[]string{"result"},
	)
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sniper_scan_duration_seconds",
			Help:    "Wall time of completed scan cycles.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
	ItemsUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_items_updated_total",
			Help: "Tracked items that received a new price observation.",
		},
	)
	ItemsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_items_skipped_total",
			Help: "Tracked items absent from the feed during a cycle.",
		},
	)
	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_persistence_failures_total",
			Help: "Per-item store writes that failed during a cycle.",
		},
	)
	AlertsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_alerts_fired_total",
			Help: "Target-price alerts handed to the notification sender.",
		},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_notification_failures_total",
			Help: "Notification deliveries that failed, by channel.",
		},
		[]string{"channel"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_cache_lookups_total",
			Help: "Listing cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ScanCycles,
		ScanDuration,
		ItemsUpdated,
		ItemsSkipped,
		PersistenceFailures,
		AlertsFired,
		NotificationFailures,
		CacheLookups,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
