package events

import (
	"strings"
	"testing"
	"time"

	"gitsync/internal/api"
)

func newTestGenerator(t *testing.T) (*EventGenerator, <-chan Event) {
	t.Helper()
	bus := NewBus(10)
	ch, cancel := bus.Subscribe(16)
	t.Cleanup(cancel)
	g := NewEventGenerator(bus)
	g.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g, ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return Event{}
	}
}

func TestEventGenerator_PhaseEvent(t *testing.T) {
	g, ch := newTestGenerator(t)

	g.PhaseEvent("guestbook", api.PhaseSyncing, api.PhaseSynced, "")
	e := next(t, ch)
	if e.Reason != ReasonPhaseChanged {
		t.Errorf("Expected reason %s, got %s", ReasonPhaseChanged, e.Reason)
	}
	if e.Type != EventTypeNormal {
		t.Errorf("Expected event type %s, got %s", EventTypeNormal, e.Type)
	}
	if e.FromPhase != api.PhaseSyncing || e.ToPhase != api.PhaseSynced {
		t.Errorf("Unexpected phases %s -> %s", e.FromPhase, e.ToPhase)
	}
	expected := "Application guestbook moved from Syncing to Synced"
	if e.Message != expected {
		t.Errorf("Expected message %q, got %q", expected, e.Message)
	}

	g.PhaseEvent("guestbook", "", api.PhaseFailed, "plan failed")
	e = next(t, ch)
	if e.Type != EventTypeWarning {
		t.Errorf("Expected event type %s, got %s", EventTypeWarning, e.Type)
	}
	expected = "Application guestbook moved from Unknown to Failed: plan failed"
	if e.Message != expected {
		t.Errorf("Expected message %q, got %q", expected, e.Message)
	}
}

func TestEventGenerator_OperationEvent(t *testing.T) {
	g, ch := newTestGenerator(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	op := &api.SyncOperation{
		ID:          "3f1c2a7e-9b4d-4c1e-8f00-1234567890ab",
		Application: "guestbook",
		Revision:    "0123456789abcdef0123",
		Trigger:     api.TriggerManual,
		Status:      api.OperationPending,
		StartedAt:   started,
	}

	g.OperationEvent(op)
	e := next(t, ch)
	expected := "Sync 3f1c2a7e of guestbook queued (manual) at revision 0123456789ab"
	if e.Message != expected {
		t.Errorf("Expected message %q, got %q", expected, e.Message)
	}
	if e.OperationID != op.ID {
		t.Errorf("Expected operation ID %s, got %s", op.ID, e.OperationID)
	}

	finished := started.Add(1500 * time.Millisecond)
	op.Status = api.OperationSucceeded
	op.FinishedAt = &finished
	op.Actions = []api.Action{
		{ID: 1, Outcome: api.OutcomeSucceeded},
		{ID: 2, Outcome: api.OutcomeSucceeded},
		{ID: 3, Outcome: api.OutcomeSkipped},
	}
	g.OperationEvent(op)
	e = next(t, ch)
	if e.Reason != ReasonOperationSucceeded {
		t.Errorf("Expected reason %s, got %s", ReasonOperationSucceeded, e.Reason)
	}
	expected = "Sync 3f1c2a7e of guestbook succeeded (2 applied, 1 skipped) in 1.5s"
	if e.Message != expected {
		t.Errorf("Expected message %q, got %q", expected, e.Message)
	}

	op.Status = api.OperationFailed
	op.Error = &api.ErrorInfo{Type: api.ErrorTypeAction, Message: "action #2 failed"}
	g.OperationEvent(op)
	e = next(t, ch)
	if e.Type != EventTypeWarning {
		t.Errorf("Expected event type %s, got %s", EventTypeWarning, e.Type)
	}
	if !strings.HasSuffix(e.Message, "failed: action #2 failed") {
		t.Errorf("Unexpected message %q", e.Message)
	}
}

func TestEventGenerator_ActionEvent(t *testing.T) {
	g, ch := newTestGenerator(t)
	key := api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "cfg"}

	g.ActionEvent("guestbook", "op-1", api.Action{ID: 1, Type: api.ActionCreate, Key: key, Outcome: api.OutcomeRunning})
	select {
	case e := <-ch:
		t.Fatalf("Running actions must not publish, got %+v", e)
	default:
	}

	tests := []struct {
		name     string
		action   api.Action
		reason   EventReason
		expected string
	}{
		{
			name:     "succeeded after retries",
			action:   api.Action{ID: 1, Type: api.ActionCreate, Key: key, Outcome: api.OutcomeSucceeded, Attempts: 3},
			reason:   ReasonActionSucceeded,
			expected: "Create ConfigMap/default/cfg succeeded after 3 attempts",
		},
		{
			name:     "failed",
			action:   api.Action{ID: 1, Type: api.ActionUpdate, Key: key, Outcome: api.OutcomeFailed, Attempts: 1, Message: "forbidden"},
			reason:   ReasonActionFailed,
			expected: "Update ConfigMap/default/cfg failed: forbidden",
		},
		{
			name:     "dry run",
			action:   api.Action{ID: 1, Type: api.ActionDelete, Key: key, Outcome: api.OutcomeSkipped, Message: "dry run"},
			reason:   ReasonActionSkipped,
			expected: "Delete ConfigMap/default/cfg skipped: dry run",
		},
		{
			name:     "skipped with prefix",
			action:   api.Action{ID: 1, Type: api.ActionCreate, Key: key, Outcome: api.OutcomeSkipped, Message: "skipped: sync aborted"},
			reason:   ReasonActionSkipped,
			expected: "Create ConfigMap/default/cfg skipped: sync aborted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.ActionEvent("guestbook", "op-1", tt.action)
			e := next(t, ch)
			if e.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, e.Reason)
			}
			if e.Message != tt.expected {
				t.Errorf("Expected message %q, got %q", tt.expected, e.Message)
			}
			if e.Action == nil || e.Action.Key != key {
				t.Errorf("Expected action for %s, got %+v", key, e.Action)
			}
		})
	}
}

func TestMessageTemplateEngine(t *testing.T) {
	engine := NewMessageTemplateEngine()

	for reason := range defaultTemplates {
		if _, ok := engine.GetTemplate(reason); !ok {
			t.Errorf("Missing default template for %s", reason)
		}
	}

	if err := engine.SetTemplate(ReasonApplicationRegistered, `{{.Application | upper}} joined`); err != nil {
		t.Fatalf("SetTemplate failed: %v", err)
	}
	if got := engine.Render(ReasonApplicationRegistered, EventData{Application: "guestbook"}); got != "GUESTBOOK joined" {
		t.Errorf("Unexpected render %q", got)
	}

	if err := engine.SetTemplate(ReasonApplicationRegistered, `{{.Application`); err == nil {
		t.Error("Expected parse error for broken template")
	}

	if got := engine.Render("Unknown", EventData{Application: "guestbook"}); got != "Event: Unknown for guestbook" {
		t.Errorf("Unexpected fallback %q", got)
	}

	got := engine.Render(ReasonActionFailed, EventData{Application: "guestbook"})
	if !strings.Contains(got, "template error") {
		t.Errorf("Expected template error fallback, got %q", got)
	}
}
