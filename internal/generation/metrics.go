package generation

import "github.com/prometheus/client_golang/prometheus"

var (
	// generations counts produced images by source (real|fallback).
	generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pattern_generations_total",
		Help: "Generated pattern images by source.",
	}, []string{"source"})

	// fallbacks counts fallback generations by reason.
	fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pattern_generation_fallbacks_total",
		Help: "Placeholder fallbacks by provider failure reason.",
	}, []string{"reason"})

	// providerLatency observes provider round-trips, successful or not.
	providerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pattern_provider_duration_seconds",
		Help:    "Latency of external image provider calls.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(generations, fallbacks, providerLatency)
}
