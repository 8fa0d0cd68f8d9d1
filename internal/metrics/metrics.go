// Package metrics defines the Prometheus metrics for the signal processor.
// No business logic depends on metric emission succeeding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the reconciliation pipeline.
type Metrics struct {
	// PhaseOutcomes counts phase completions by phase and outcome.
	PhaseOutcomes *prometheus.CounterVec
	// PhaseDuration observes per-phase wall time in seconds.
	PhaseDuration *prometheus.HistogramVec
	// ClassificationConfidence observes the confidence per dimension.
	ClassificationConfidence *prometheus.HistogramVec
	// ClassificationSource counts which tier produced each dimension.
	ClassificationSource *prometheus.CounterVec
	// DetectionFailures counts detector query failures per characteristic.
	DetectionFailures *prometheus.CounterVec
	// PolicyReloads counts hot-reload attempts by outcome.
	PolicyReloads *prometheus.CounterVec
	// PolicyEvaluations counts policy evaluations by query and outcome.
	PolicyEvaluations *prometheus.CounterVec
	// PolicyTruncations counts sanitizer truncations by bound.
	PolicyTruncations *prometheus.CounterVec
	// StatusConflicts counts optimistic-concurrency write conflicts.
	StatusConflicts prometheus.Counter
	// AuditDropped counts audit events dropped because the buffer was full.
	AuditDropped prometheus.Counter
}

// New creates and registers the pipeline metrics on the given registerer.
// Passing a fresh registry keeps tests isolated from the global one.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_phase_outcomes_total",
			Help: "Reconciliation phase completions by phase and outcome",
		}, []string{"phase", "outcome"}),

		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalprocessor_phase_duration_seconds",
			Help:    "Wall time spent per reconciliation phase",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),

		ClassificationConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalprocessor_classification_confidence",
			Help:    "Confidence of classified dimensions",
			Buckets: []float64{0.4, 0.6, 0.8, 1.0},
		}, []string{"dimension"}),

		ClassificationSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_classification_source_total",
			Help: "Classification tier used per dimension",
		}, []string{"dimension", "source"}),

		DetectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_detection_failures_total",
			Help: "Characteristic detection queries that failed",
		}, []string{"characteristic"}),

		PolicyReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_policy_reloads_total",
			Help: "Policy hot-reload attempts by outcome",
		}, []string{"outcome"}),

		PolicyEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_policy_evaluations_total",
			Help: "Policy evaluations by query and outcome",
		}, []string{"query", "outcome"}),

		PolicyTruncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalprocessor_policy_truncations_total",
			Help: "Policy output truncations by sanitizer bound",
		}, []string{"bound"}),

		StatusConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalprocessor_status_conflicts_total",
			Help: "Optimistic-concurrency conflicts on status writes",
		}),

		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalprocessor_audit_dropped_total",
			Help: "Audit events dropped due to a full buffer",
		}),
	}

	reg.MustRegister(
		m.PhaseOutcomes,
		m.PhaseDuration,
		m.ClassificationConfidence,
		m.ClassificationSource,
		m.DetectionFailures,
		m.PolicyReloads,
		m.PolicyEvaluations,
		m.PolicyTruncations,
		m.StatusConflicts,
		m.AuditDropped,
	)

	return m
}
