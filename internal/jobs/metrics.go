package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	runs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "maintenance_runs_total",
		Help: "Completed maintenance passes.",
	})
	purged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "maintenance_idempotency_purged_total",
		Help: "Expired idempotency records deleted.",
	})
	swept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "maintenance_quota_windows_reset_total",
		Help: "Elapsed quota windows reset by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(runs, purged, swept)
}
