package syncer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	providerSyncCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trailmate",
			Subsystem: "sync",
			Name:      "provider_total",
			Help:      "Settled provider sync tasks by provider and status.",
		},
		[]string{"provider", "status"},
	)
	recordsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trailmate",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Activity records upserted by provider.",
		},
		[]string{"provider"},
	)

	registerMetrics sync.Once
)

// RegisterMetrics registers the sync collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(providerSyncCounter, recordsCounter)
	})
}

func recordOutcome(o ProviderOutcome) {
	providerSyncCounter.WithLabelValues(o.Provider, string(o.Status)).Inc()
	if o.Records > 0 {
		recordsCounter.WithLabelValues(o.Provider).Add(float64(o.Records))
	}
}
