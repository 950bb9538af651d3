package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess       = "success"
	outcomeRetried       = "retried"
	outcomeRateLimited   = "rate_limited"
	outcomeUpstreamError = "upstream_error"
)

var (
	requestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trailmate",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound provider attempts by outcome.",
		},
		[]string{"outcome"},
	)
	throttledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trailmate",
			Subsystem: "gateway",
			Name:      "throttled_total",
			Help:      "Invocations refused as rate limited, by where the limit came from.",
		},
		[]string{"source"},
	)

	registerMetrics sync.Once
)

// RegisterMetrics registers the gateway collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(requestsCounter, throttledCounter)
	})
}

func recordOutcome(outcome string) {
	requestsCounter.WithLabelValues(outcome).Inc()
}

func recordThrottled(source string) {
	throttledCounter.WithLabelValues(source).Inc()
}
