// Package metrics exposes prometheus collectors for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's prometheus collectors. A nil *Metrics is
// valid and records nothing, so instrumentation points need no guards.
type Metrics struct {
	ExecutionsStarted   prometheus.Counter
	ExecutionsCompleted *prometheus.CounterVec
	WavesLaunched       prometheus.Counter
	AdmissionDenials    prometheus.Counter
	ReconcileRuns       prometheus.Counter
	ReconcileFailures   prometheus.Counter
	NotifyFailures      prometheus.Counter
	ActiveExecutions    prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_executions_started_total",
			Help: "Executions admitted and started.",
		}),
		ExecutionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_executions_finished_total",
			Help: "Executions reaching a terminal status.",
		}, []string{"status"}),
		WavesLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_waves_launched_total",
			Help: "Recovery jobs launched for waves.",
		}),
		AdmissionDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_admission_denials_total",
			Help: "Capacity admission denials.",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_reconcile_runs_total",
			Help: "Reconciliation passes over executions.",
		}),
		ReconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_reconcile_failures_total",
			Help: "Reconciliation passes that returned an error.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_notify_failures_total",
			Help: "Notification deliveries that failed.",
		}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ripcord_active_executions",
			Help: "Executions currently in a non-terminal status.",
		}),
	}
	reg.MustRegister(
		m.ExecutionsStarted,
		m.ExecutionsCompleted,
		m.WavesLaunched,
		m.AdmissionDenials,
		m.ReconcileRuns,
		m.ReconcileFailures,
		m.NotifyFailures,
		m.ActiveExecutions,
	)
	return m
}

// IncExecutionsStarted increments the started counter.
func (m *Metrics) IncExecutionsStarted() {
	if m != nil {
		m.ExecutionsStarted.Inc()
	}
}

// IncExecutionsFinished increments the finished counter for a status.
func (m *Metrics) IncExecutionsFinished(status string) {
	if m != nil {
		m.ExecutionsCompleted.WithLabelValues(status).Inc()
	}
}

// IncWavesLaunched increments the waves-launched counter.
func (m *Metrics) IncWavesLaunched() {
	if m != nil {
		m.WavesLaunched.Inc()
	}
}

// IncAdmissionDenials increments the admission-denial counter.
func (m *Metrics) IncAdmissionDenials() {
	if m != nil {
		m.AdmissionDenials.Inc()
	}
}

// IncReconcileRuns increments the reconcile-run counter.
func (m *Metrics) IncReconcileRuns() {
	if m != nil {
		m.ReconcileRuns.Inc()
	}
}

// IncReconcileFailures increments the reconcile-failure counter.
func (m *Metrics) IncReconcileFailures() {
	if m != nil {
		m.ReconcileFailures.Inc()
	}
}

// SetActiveExecutions records how many executions the latest reconciliation
// sweep found in a non-terminal status.
func (m *Metrics) SetActiveExecutions(count int) {
	if m != nil {
		m.ActiveExecutions.Set(float64(count))
	}
}

// IncNotifyFailures increments the notify-failure counter.
func (m *Metrics) IncNotifyFailures() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}
