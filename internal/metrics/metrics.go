// Package metrics exposes the Prometheus instruments for the acquisition
// pipeline. A single Registry is wired through the orchestrator so tests can
// run isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the pipeline's instruments on one Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	JobsProcessed *prometheus.CounterVec
	ProviderCalls *prometheus.CounterVec
	CircuitState  *prometheus.GaugeVec
	BudgetSpent   prometheus.Gauge
	QueuePending  prometheus.Gauge
	WorkersActive prometheus.Gauge
	DeadLettered  prometheus.Counter
}

// NewRegistry creates and registers all instruments.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fdp",
		Name:      "jobs_processed_total",
		Help:      "Jobs completed, by terminal result.",
	}, []string{"result"})

	r.ProviderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fdp",
		Name:      "provider_calls_total",
		Help:      "Provider fetch attempts, by provider and outcome.",
	}, []string{"provider", "result"})

	r.CircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fdp",
		Name:      "provider_circuit_state",
		Help:      "Circuit state per provider (0 closed, 1 half-open, 2 open).",
	}, []string{"provider"})

	r.BudgetSpent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fdp",
		Name:      "budget_spent",
		Help:      "Budget spent today in dollars.",
	})

	r.QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fdp",
		Name:      "queue_pending",
		Help:      "Jobs delivered but not yet acknowledged.",
	})

	r.WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fdp",
		Name:      "workers_active",
		Help:      "Workers currently running.",
	})

	r.DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fdp",
		Name:      "jobs_dead_lettered_total",
		Help:      "Jobs moved to the dead-letter stream.",
	})

	r.reg.MustRegister(
		r.JobsProcessed,
		r.ProviderCalls,
		r.CircuitState,
		r.BudgetSpent,
		r.QueuePending,
		r.WorkersActive,
		r.DeadLettered,
	)
	return r
}

// Prometheus returns the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
