package reconciler

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsync/internal/api"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.recordOperation(&api.SyncOperation{Application: "guestbook", Status: api.OperationSucceeded})
	m.recordOperation(&api.SyncOperation{Application: "guestbook", Status: api.OperationFailed})
	m.recordAction(api.Action{Type: api.ActionCreate, Outcome: api.OutcomeSucceeded})
	m.recordAction(api.Action{Type: api.ActionCreate, Outcome: api.OutcomeRunning})
	m.recordCoalesced()
	m.recordRejected("guestbook")
	m.RecordEventDropped()
	m.observeReconcile(KindSync, 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("guestbook", "Succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("guestbook", "Failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("Create", "Succeeded")), "non-terminal outcomes are not counted")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reconcileDuration))
}

func TestMetrics_PhaseGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.setPhase("guestbook", api.PhaseSyncing)
	m.setPhase("guestbook", api.PhaseSynced)

	expected := `
# HELP gitsync_application_phase 1 for the current sync phase of each application, 0 for the others.
# TYPE gitsync_application_phase gauge
gitsync_application_phase{application="guestbook",phase="Degraded"} 0
gitsync_application_phase{application="guestbook",phase="Failed"} 0
gitsync_application_phase{application="guestbook",phase="OutOfSyncDetected"} 0
gitsync_application_phase{application="guestbook",phase="Synced"} 1
gitsync_application_phase{application="guestbook",phase="Syncing"} 0
gitsync_application_phase{application="guestbook",phase="Unknown"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gitsync_application_phase"))

	m.forget("guestbook")
	assert.Equal(t, 0, testutil.CollectAndCount(m.phase))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordOperation(&api.SyncOperation{})
		m.recordAction(api.Action{Outcome: api.OutcomeFailed})
		m.recordCoalesced()
		m.recordRejected("guestbook")
		m.RecordEventDropped()
		m.observeReconcile(KindRefresh, time.Second)
		m.setPhase("guestbook", api.PhaseSynced)
		m.forget("guestbook")
	})
}
