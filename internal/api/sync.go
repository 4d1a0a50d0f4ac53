package api

import (
	"fmt"
	"time"
)

// ResourceKey identifies a resource within a destination. Cluster-scoped
// resources have an empty Namespace.
type ResourceKey struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// String renders the key as Kind/namespace/name, or Kind/name when cluster-scoped.
func (k ResourceKey) String() string {
	if k.Namespace == "" {
		return k.Kind + "/" + k.Name
	}
	return k.Kind + "/" + k.Namespace + "/" + k.Name
}

// Less orders keys by kind, namespace, then name.
func (k ResourceKey) Less(o ResourceKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Namespace != o.Namespace {
		return k.Namespace < o.Namespace
	}
	return k.Name < o.Name
}

// OperationStatus is the lifecycle state of a SyncOperation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "Pending"
	OperationRunning   OperationStatus = "Running"
	OperationSucceeded OperationStatus = "Succeeded"
	OperationFailed    OperationStatus = "Failed"
	OperationDegraded  OperationStatus = "Degraded"
)

// IsTerminal reports whether the operation has finished.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationSucceeded || s == OperationFailed || s == OperationDegraded
}

// ActionType is the mutation an Action performs.
type ActionType string

const (
	ActionCreate ActionType = "Create"
	ActionUpdate ActionType = "Update"
	// ActionReplace is executed as a delete followed by a create of the same resource.
	ActionReplace ActionType = "Replace"
	ActionDelete  ActionType = "Delete"
)

// ActionOutcome is the result of a single Action.
type ActionOutcome string

const (
	OutcomePending   ActionOutcome = "Pending"
	OutcomeRunning   ActionOutcome = "Running"
	OutcomeSucceeded ActionOutcome = "Succeeded"
	OutcomeFailed    ActionOutcome = "Failed"
	OutcomeSkipped   ActionOutcome = "Skipped"
)

// IsTerminal reports whether the action will not change any more.
func (o ActionOutcome) IsTerminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeSkipped
}

// TriggerSource records why a SyncOperation was started.
type TriggerSource string

const (
	TriggerManual    TriggerSource = "Manual"
	TriggerAutomated TriggerSource = "Automated"
	TriggerSelfHeal  TriggerSource = "SelfHeal"
	TriggerRollback  TriggerSource = "Rollback"
	TriggerTeardown  TriggerSource = "Teardown"
)

// Action is one step of a sync plan.
type Action struct {
	// ID is the ordinal of the action within its operation, starting at 1.
	ID   int         `json:"id"`
	Type ActionType  `json:"type"`
	Key  ResourceKey `json:"key"`

	// Tier is the fixed ordering tier of the resource kind.
	Tier int `json:"tier"`

	// Wave groups actions that may run concurrently. Waves execute in order.
	Wave int `json:"wave"`

	// Predecessors lists the IDs of actions that must succeed first.
	Predecessors []int `json:"predecessors,omitempty"`

	Outcome    ActionOutcome `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Message    string        `json:"message,omitempty"`
	Error      *ErrorInfo    `json:"error,omitempty"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// String is used in log lines.
func (a Action) String() string {
	return fmt.Sprintf("#%d %s %s", a.ID, a.Type, a.Key)
}

// SyncOperation is one tracked attempt to converge an application.
type SyncOperation struct {
	ID          string          `json:"id"`
	Application string          `json:"application"`
	Revision    string          `json:"revision"`
	DryRun      bool            `json:"dryRun"`
	Prune       bool            `json:"prune"`
	Trigger     TriggerSource   `json:"trigger"`
	Actions     []Action        `json:"actions"`
	Status      OperationStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// DeepCopy returns a copy that shares no mutable memory with op.
func (op *SyncOperation) DeepCopy() *SyncOperation {
	if op == nil {
		return nil
	}
	out := *op
	out.Error = op.Error.DeepCopy()
	out.FinishedAt = copyTime(op.FinishedAt)
	if op.Actions != nil {
		out.Actions = make([]Action, len(op.Actions))
		for i, a := range op.Actions {
			out.Actions[i] = a.DeepCopy()
		}
	}
	return &out
}

// DeepCopy returns a copy that shares no mutable memory with a.
func (a Action) DeepCopy() Action {
	out := a
	if a.Predecessors != nil {
		out.Predecessors = make([]int, len(a.Predecessors))
		copy(out.Predecessors, a.Predecessors)
	}
	out.Error = a.Error.DeepCopy()
	out.StartedAt = copyTime(a.StartedAt)
	out.FinishedAt = copyTime(a.FinishedAt)
	return out
}

// CountOutcomes tallies action outcomes.
func (op *SyncOperation) CountOutcomes() map[ActionOutcome]int {
	counts := make(map[ActionOutcome]int)
	for _, a := range op.Actions {
		counts[a.Outcome]++
	}
	return counts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TriggerOptions are the knobs of a manual sync request.
type TriggerOptions struct {
	// Prune deletes orphaned resources even if the policy does not enable pruning.
	Prune bool `json:"prune"`

	// DryRun plans and records actions without mutating the destination.
	DryRun bool `json:"dryRun"`

	// Revision overrides the application's target revision for this sync only.
	Revision string `json:"revision,omitempty"`
}
