package events

import (
	"time"

	"gitsync/internal/api"
)

// EventType represents the severity of an event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// Application lifecycle reasons
const (
	ReasonApplicationRegistered EventReason = "ApplicationRegistered"
	ReasonApplicationUpdated    EventReason = "ApplicationUpdated"
	ReasonApplicationRemoved    EventReason = "ApplicationRemoved"

	// ReasonPhaseChanged is published on every sync phase transition.
	ReasonPhaseChanged EventReason = "PhaseChanged"

	// ReasonCompareFailed indicates desired or live state could not be fetched.
	ReasonCompareFailed EventReason = "CompareFailed"
)

// Sync operation reasons, one per operation status transition.
const (
	ReasonOperationPending   EventReason = "OperationPending"
	ReasonOperationRunning   EventReason = "OperationRunning"
	ReasonOperationSucceeded EventReason = "OperationSucceeded"
	ReasonOperationFailed    EventReason = "OperationFailed"
	ReasonOperationDegraded  EventReason = "OperationDegraded"
)

// Action reasons, one per terminal action outcome.
const (
	ReasonActionSucceeded EventReason = "ActionSucceeded"
	ReasonActionFailed    EventReason = "ActionFailed"
	ReasonActionSkipped   EventReason = "ActionSkipped"
)

// Event is one published notification.
type Event struct {
	Time        time.Time   `json:"time"`
	Type        EventType   `json:"type"`
	Reason      EventReason `json:"reason"`
	Application string      `json:"application"`
	OperationID string      `json:"operationId,omitempty"`
	Message     string      `json:"message"`

	// Set for phase transitions.
	FromPhase api.Phase `json:"fromPhase,omitempty"`
	ToPhase   api.Phase `json:"toPhase,omitempty"`

	// Set for action outcomes.
	Action *api.Action `json:"action,omitempty"`
}

// EventData holds contextual information for event message templating.
type EventData struct {
	// Application is the name of the application involved in the event.
	Application string

	// Revision is the source revision of the operation or compare.
	Revision string

	// OperationID identifies the sync operation.
	OperationID string

	// Trigger is what started the operation.
	Trigger string

	// DryRun is set for dry run operations.
	DryRun bool

	FromPhase api.Phase
	ToPhase   api.Phase

	// Action is the action whose outcome is reported.
	Action *api.Action

	// Counts tallies action outcomes of a finished operation by outcome name.
	Counts map[string]int

	// Error contains error information for failure events.
	Error string

	// Message is free text, such as a phase transition cause.
	Message string

	// Duration is the duration of an operation.
	Duration time.Duration
}

// getEventType returns the appropriate EventType for a given reason and data.
func getEventType(reason EventReason, data EventData) EventType {
	switch reason {
	case ReasonOperationFailed,
		ReasonOperationDegraded,
		ReasonActionFailed,
		ReasonCompareFailed:
		return EventTypeWarning
	case ReasonPhaseChanged:
		switch data.ToPhase {
		case api.PhaseFailed, api.PhaseDegraded, api.PhaseOutOfSyncDetected:
			return EventTypeWarning
		}
	}
	return EventTypeNormal
}

// OperationReason maps an operation status to its event reason.
func OperationReason(status api.OperationStatus) EventReason {
	switch status {
	case api.OperationPending:
		return ReasonOperationPending
	case api.OperationRunning:
		return ReasonOperationRunning
	case api.OperationSucceeded:
		return ReasonOperationSucceeded
	case api.OperationDegraded:
		return ReasonOperationDegraded
	default:
		return ReasonOperationFailed
	}
}

// ActionReason maps a terminal action outcome to its event reason. It
// returns false for outcomes that are not terminal.
func ActionReason(outcome api.ActionOutcome) (EventReason, bool) {
	switch outcome {
	case api.OutcomeSucceeded:
		return ReasonActionSucceeded, true
	case api.OutcomeFailed:
		return ReasonActionFailed, true
	case api.OutcomeSkipped:
		return ReasonActionSkipped, true
	}
	return "", false
}
