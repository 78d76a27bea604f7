package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus metrics for the resilience engine. All methods
// are safe to call on a disabled (nil-registry) instance, so callers never
// need to branch on whether metrics are on.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry

	deploymentsStarted   prometheus.Counter
	deploymentsCompleted *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	retryAttempts        *prometheus.HistogramVec
	breakerTransitions   *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec
	secretCacheLookups   *prometheus.CounterVec
	rollbackCleanups     *prometheus.CounterVec
}

// NewMetrics creates a metrics collector; a disabled config yields a no-op
// instance.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{cfg: cfg}
	}

	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		cfg:      cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deployments_started_total",
			Help:      "Total number of deployment runs started",
		}),
		deploymentsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deployments_completed_total",
			Help:      "Total number of deployment runs completed",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "step_duration_seconds",
			Help:      "Duration of provisioning step execution in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		retryAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "retry_attempts",
			Help:      "Attempts used per retried operation",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}, []string{"operation"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		secretCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "secret_cache_lookups_total",
			Help:      "Secret cache lookups by outcome",
		}, []string{"outcome"}),
		rollbackCleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rollback_cleanups_total",
			Help:      "Rollback cleanup actions by outcome",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.stepDuration,
		m.retryAttempts,
		m.breakerTransitions,
		m.breakerState,
		m.secretCacheLookups,
		m.rollbackCleanups,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DeploymentStarted records the start of a deployment run.
func (m *Metrics) DeploymentStarted() {
	if m.registry == nil {
		return
	}
	m.deploymentsStarted.Inc()
}

// DeploymentCompleted records a finished run with its terminal status.
func (m *Metrics) DeploymentCompleted(status string) {
	if m.registry == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
}

// StepExecuted records the duration and outcome of one provisioning step.
func (m *Metrics) StepExecuted(kind, status string, seconds float64) {
	if m.registry == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(seconds)
}

// RetryAttempts records how many attempts an operation consumed.
func (m *Metrics) RetryAttempts(operation string, attempts int) {
	if m.registry == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// BreakerTransition records a circuit breaker state change. It doubles as
// the source of the per-breaker state gauge.
func (m *Metrics) BreakerTransition(name, from, to string, toValue int) {
	if m.registry == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
	m.breakerState.WithLabelValues(name).Set(float64(toValue))
}

// SecretCacheLookup records a secret cache lookup outcome: hit, miss,
// fallback, or error.
func (m *Metrics) SecretCacheLookup(outcome string) {
	if m.registry == nil {
		return
	}
	m.secretCacheLookups.WithLabelValues(outcome).Inc()
}

// RollbackCleanup records one rollback cleanup action outcome.
func (m *Metrics) RollbackCleanup(status string) {
	if m.registry == nil {
		return
	}
	m.rollbackCleanups.WithLabelValues(status).Inc()
}
