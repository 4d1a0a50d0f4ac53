package reconciler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gitsync/internal/api"
	"gitsync/pkg/logging"
)

const metricsNamespace = "gitsync"

// Metrics exposes the reconciliation activity of the controller.
//
// All series are registered on the registerer given to NewMetrics, so tests
// and embedders can use their own registry instead of the global one.
type Metrics struct {
	operations        *prometheus.CounterVec
	actions           *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	coalesced         prometheus.Counter
	rejected          prometheus.Counter
	eventsDropped     prometheus.Counter
	phase             *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_operations_total",
			Help:      "Finished sync operations by application and final status.",
		}, []string{"application", "status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_actions_total",
			Help:      "Terminal action outcomes by action type.",
		}, []string{"type", "outcome"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent processing one reconcile request.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "triggers_coalesced_total",
			Help:      "Triggers merged into a request already waiting for the same application.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "triggers_rejected_total",
			Help:      "Triggers rejected because the trigger channel was full.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a slow subscriber.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "application_phase",
			Help:      "1 for the current sync phase of each application, 0 for the others.",
		}, []string{"application", "phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.actions, m.reconcileDuration, m.coalesced, m.rejected, m.eventsDropped, m.phase)
	}
	return m
}

// The recorders below accept a nil receiver so the controller can run
// without metrics.

func (m *Metrics) recordOperation(op *api.SyncOperation) {
	if m == nil || op == nil {
		return
	}
	m.operations.WithLabelValues(op.Application, string(op.Status)).Inc()
}

func (m *Metrics) recordAction(a api.Action) {
	if m == nil || !a.Outcome.IsTerminal() {
		return
	}
	m.actions.WithLabelValues(string(a.Type), string(a.Outcome)).Inc()
}

func (m *Metrics) observeReconcile(kind RequestKind, d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) recordCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) recordRejected(application string) {
	if m == nil {
		return
	}
	m.rejected.Inc()
	logging.Debug("ReconcilerMetrics", "Trigger for %s rejected, channel full", application)
}

// RecordEventDropped counts an event lost by a slow subscriber. It is meant
// to be installed with Bus.OnDrop.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) setPhase(application string, phase api.Phase) {
	if m == nil {
		return
	}
	for _, p := range api.AllPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(application, string(p)).Set(v)
	}
}

func (m *Metrics) forget(application string) {
	if m == nil {
		return
	}
	m.phase.DeletePartialMatch(prometheus.Labels{"application": application})
	m.operations.DeletePartialMatch(prometheus.Labels{"application": application})
}
