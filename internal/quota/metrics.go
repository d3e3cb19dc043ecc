package quota

import "github.com/prometheus/client_golang/prometheus"

var (
	// reservations counts granted reservation units.
	reservations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_reservations_total",
		Help: "Quota units reserved for generation.",
	})

	// releases counts reservation units returned after a failed item.
	releases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_releases_total",
		Help: "Quota units released after failed generation.",
	})

	// denials counts admission denials by window scope.
	denials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_denials_total",
		Help: "Reservations denied because a quota window was exhausted.",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(reservations, releases, denials)
}
