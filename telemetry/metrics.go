package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan metrics. Registered on the default registry; served via promhttp
// when a metrics address is configured.
var (
	AccountsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartograph_accounts_scanned_total",
		Help: "Accounts scanned successfully.",
	})

	AccountScanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartograph_account_scan_failures_total",
		Help: "Account scan attempts that raised and will be retried.",
	})

	AccountScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cartograph_account_scan_duration_seconds",
		Help:    "Wall time of individual account scans.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	APICalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartograph_api_calls_total",
		Help: "Remote API calls issued across all accounts in a run.",
	})
)
