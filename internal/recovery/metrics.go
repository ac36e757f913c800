package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"autoheal/internal/breaker"
)

// Metrics holds all recovery pipeline instruments, constructed eagerly at
// orchestrator build time so no request path performs lazy registration.
// Params: attempt counters, duration histogram, and breaker event vectors.
// Returns: instrument set shared by orchestrator and breaker observer.
type Metrics struct {
	WebhooksReceived prometheus.Counter
	AttemptsTotal    prometheus.Counter
	SuccessTotal     prometheus.Counter
	FailureTotal     prometheus.Counter
	Duration         prometheus.Histogram

	BreakerTransitions *prometheus.CounterVec
	BreakerRejected    *prometheus.CounterVec
}

// NewMetrics registers all recovery instruments on one registerer.
// Params: prometheus registerer (tests pass a fresh registry).
// Returns: initialized metrics set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "recovery",
			Name:      "webhooks_received_total",
			Help:      "Total webhook payloads handed to the orchestrator",
		}),
		AttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Total automated recovery attempts initiated",
		}),
		SuccessTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "recovery",
			Name:      "success_total",
			Help:      "Total recoveries that succeeded",
		}),
		FailureTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "recovery",
			Name:      "failure_total",
			Help:      "Total recoveries that failed",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autoheal",
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of recovery handler invocations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions by protected service",
		}, []string{"service", "from", "to"}),
		BreakerRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoheal",
			Subsystem: "circuit_breaker",
			Name:      "rejected_calls_total",
			Help:      "Calls rejected fast by an open circuit breaker",
		}, []string{"service"}),
	}
}

// StateChanged records one breaker state transition.
// Params: service key and from/to states.
// Returns: none; implements breaker.Observer.
func (m *Metrics) StateChanged(service string, from, to breaker.State) {
	m.BreakerTransitions.WithLabelValues(service, string(from), string(to)).Inc()
}

// CallRejected records one fast-failed call on an open breaker.
// Params: service key.
// Returns: none; implements breaker.Observer.
func (m *Metrics) CallRejected(service string) {
	m.BreakerRejected.WithLabelValues(service).Inc()
}
