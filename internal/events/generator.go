package events

import (
	"time"

	"gitsync/internal/api"
	"gitsync/pkg/logging"
)

// EventGenerator renders and publishes the events of the sync controller.
type EventGenerator struct {
	bus       *Bus
	templates *MessageTemplateEngine
	now       func() time.Time
}

// NewEventGenerator creates a generator publishing to bus.
func NewEventGenerator(bus *Bus) *EventGenerator {
	return &EventGenerator{
		bus:       bus,
		templates: NewMessageTemplateEngine(),
		now:       time.Now,
	}
}

// Bus returns the bus events are published to.
func (g *EventGenerator) Bus() *Bus {
	return g.bus
}

func (g *EventGenerator) emit(reason EventReason, data EventData, event Event) {
	event.Time = g.now()
	event.Reason = reason
	event.Type = getEventType(reason, data)
	event.Application = data.Application
	event.Message = g.templates.Render(reason, data)

	logging.Debug("Events", "Publishing %s event: reason=%s, message=%s", event.Type, reason, event.Message)
	g.bus.Publish(event)
}

// ApplicationEvent publishes a registration, update or removal event.
func (g *EventGenerator) ApplicationEvent(application string, reason EventReason, message string) {
	g.emit(reason, EventData{Application: application, Message: message}, Event{})
}

// PhaseEvent publishes a phase transition of an application.
func (g *EventGenerator) PhaseEvent(application string, from, to api.Phase, message string) {
	data := EventData{Application: application, FromPhase: from, ToPhase: to, Message: message}
	g.emit(ReasonPhaseChanged, data, Event{FromPhase: from, ToPhase: to})
}

// CompareFailedEvent publishes a failed compare.
func (g *EventGenerator) CompareFailedEvent(application string, err error) {
	data := EventData{Application: application}
	if err != nil {
		data.Error = err.Error()
	}
	g.emit(ReasonCompareFailed, data, Event{})
}

// OperationEvent publishes the current status of op.
func (g *EventGenerator) OperationEvent(op *api.SyncOperation) {
	data := EventData{
		Application: op.Application,
		Revision:    op.Revision,
		OperationID: op.ID,
		Trigger:     string(op.Trigger),
		DryRun:      op.DryRun,
		Message:     op.Message,
	}
	if op.Error != nil {
		data.Error = op.Error.Message
	}
	if op.Status.IsTerminal() {
		data.Counts = make(map[string]int)
		for outcome, n := range op.CountOutcomes() {
			data.Counts[string(outcome)] = n
		}
		if op.FinishedAt != nil {
			data.Duration = op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond)
		}
	}
	g.emit(OperationReason(op.Status), data, Event{OperationID: op.ID})
}

// ActionEvent publishes the outcome of a finished action. Non-terminal
// outcomes are ignored.
func (g *EventGenerator) ActionEvent(application, operationID string, action api.Action) {
	reason, ok := ActionReason(action.Outcome)
	if !ok {
		return
	}
	a := action.DeepCopy()
	data := EventData{Application: application, OperationID: operationID, Action: &a}
	g.emit(reason, data, Event{OperationID: operationID, Action: &a})
}

// SetTemplate allows customizing the message template for a specific event reason.
func (g *EventGenerator) SetTemplate(reason EventReason, template string) error {
	return g.templates.SetTemplate(reason, template)
}

// GetTemplate returns the template for a specific event reason.
func (g *EventGenerator) GetTemplate(reason EventReason) (string, bool) {
	return g.templates.GetTemplate(reason)
}
