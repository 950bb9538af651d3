package credentials

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fallbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trailmate",
			Name:      "credential_fallback_total",
			Help:      "Resolutions that fell back to the shared default credential, by reason.",
		},
		[]string{"reason"},
	)

	registerMetrics sync.Once
)

// RegisterMetrics registers the package collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(fallbackCounter)
	})
}

func recordFallback(reason string) {
	fallbackCounter.WithLabelValues(reason).Inc()
}
