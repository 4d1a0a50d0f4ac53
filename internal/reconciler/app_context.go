package reconciler

import (
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"gitsync/internal/api"
	"gitsync/internal/diff"
)

// appContext is the state of one registered application. Only the worker
// reconciling the application mutates it; every reader gets a deep copy.
type appContext struct {
	mu sync.RWMutex

	app        api.Application
	phase      api.Phase
	maxHistory int

	// current is the non-terminal operation, nil when idle.
	current *api.SyncOperation
	abort   chan struct{}
	aborted bool

	// history holds finished operations, oldest first.
	history []*api.SyncOperation

	revision         string
	syncedRevision   string
	lastAutoRevision string

	diffs      []diff.ResourceDiff
	kinds      []schema.GroupVersionKind
	resources  []api.ResourceStatus
	health     api.HealthSummary
	compareErr *api.ErrorInfo
	comparedAt *time.Time

	removing  bool
	gone      chan struct{}
	removeErr error
}

func newAppContext(app api.Application, maxHistory int) *appContext {
	return &appContext{
		app:        app,
		phase:      api.PhaseUnknown,
		maxHistory: maxHistory,
	}
}

func (ac *appContext) name() string {
	return ac.app.Name
}

func (ac *appContext) application() api.Application {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.app
}

func (ac *appContext) setPolicy(policy api.SyncPolicy) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.app.SyncPolicy = policy
}

func (ac *appContext) currentPhase() api.Phase {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.phase
}

// setPhase moves the application to phase to and returns the previous phase.
func (ac *appContext) setPhase(to api.Phase) (api.Phase, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	from := ac.phase
	mustTransition(ac.app.Name, from, to)
	ac.phase = to
	return from, from != to
}

// begin installs op as the in-flight operation and returns its abort channel.
func (ac *appContext) begin(op *api.SyncOperation) <-chan struct{} {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.current = op
	ac.abort = make(chan struct{})
	ac.aborted = false
	return ac.abort
}

// abortCurrent closes the abort channel of the in-flight operation. It
// reports false when no operation is in flight.
func (ac *appContext) abortCurrent() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.current == nil || ac.current.Status.IsTerminal() {
		return false
	}
	if !ac.aborted {
		ac.aborted = true
		close(ac.abort)
	}
	return true
}

// updateOperation applies fn to the in-flight operation and returns a copy
// of the result.
func (ac *appContext) updateOperation(fn func(op *api.SyncOperation)) *api.SyncOperation {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.current == nil {
		return nil
	}
	fn(ac.current)
	return ac.current.DeepCopy()
}

func (ac *appContext) updateAction(a api.Action) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.current == nil || a.ID < 1 || a.ID > len(ac.current.Actions) {
		return
	}
	ac.current.Actions[a.ID-1] = a.DeepCopy()
}

// finish moves the in-flight operation into the history.
func (ac *appContext) finish() {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.current == nil {
		return
	}
	op := ac.current
	ac.current = nil
	ac.history = append(ac.history, op)
	if over := len(ac.history) - ac.maxHistory; over > 0 {
		ac.history = append([]*api.SyncOperation(nil), ac.history[over:]...)
	}
	if !op.DryRun && op.Status != api.OperationFailed && op.Trigger != api.TriggerTeardown {
		ac.syncedRevision = op.Revision
	}
}

// lastOperation returns the most recent operation without copying.
// Callers must hold ac.mu.
func (ac *appContext) lastOperation() *api.SyncOperation {
	if ac.current != nil {
		return ac.current
	}
	if n := len(ac.history); n > 0 {
		return ac.history[n-1]
	}
	return nil
}

// lastFailedAt reports whether the last finished operation failed at revision.
func (ac *appContext) lastFailedAt(revision string) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	n := len(ac.history)
	return n > 0 && ac.history[n-1].Status == api.OperationFailed && ac.history[n-1].Revision == revision
}

func (ac *appContext) revisions() (synced, lastAuto string) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.syncedRevision, ac.lastAutoRevision
}

func (ac *appContext) markAutoRevision(revision string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.lastAutoRevision = revision
}

// recordCompare stores the outcome of a compare. A failed compare keeps the
// previous diffs so that GetDiff still shows the last known state.
func (ac *appContext) recordCompare(cr *compareResult, err error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	now := time.Now()
	ac.comparedAt = &now
	ac.compareErr = api.ToErrorInfo(err)
	if cr == nil {
		return
	}
	ac.revision = cr.snapshot.Revision
	ac.diffs = cr.diffs
	ac.kinds = mergeKinds(ac.kinds, cr.kinds)
	ac.resources = cr.resources
	ac.health = cr.health
}

// trackedKinds is the inventory of every kind the application has desired
// since it was registered. It only grows.
func (ac *appContext) trackedKinds() []schema.GroupVersionKind {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return append([]schema.GroupVersionKind(nil), ac.kinds...)
}

func (ac *appContext) status() *api.AppStatus {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	s := &api.AppStatus{
		Application:       ac.app,
		Phase:             ac.phase,
		Revision:          ac.revision,
		SyncedRevision:    ac.syncedRevision,
		LastSyncOperation: ac.lastOperation(),
		Health:            ac.health,
		Resources:         ac.resources,
		Error:             ac.compareErr,
		LastComparedAt:    ac.comparedAt,
	}
	if ac.phase == api.PhaseFailed || ac.phase == api.PhaseDegraded {
		var opErr *api.ErrorInfo
		if last := ac.lastOperation(); last != nil {
			opErr = last.Error
		}
		s.Error = api.MostSpecific(ac.compareErr, opErr)
	}
	return s.DeepCopy()
}

// listHistory returns up to limit finished operations, newest first.
func (ac *appContext) listHistory(limit int) []api.SyncOperation {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	n := len(ac.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]api.SyncOperation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *ac.history[i].DeepCopy())
	}
	return out
}

func (ac *appContext) operation(id string) *api.SyncOperation {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.current != nil && ac.current.ID == id {
		return ac.current.DeepCopy()
	}
	for _, op := range ac.history {
		if op.ID == id {
			return op.DeepCopy()
		}
	}
	return nil
}

func (ac *appContext) diffSummaries() []api.DiffSummary {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return diff.Summaries(ac.diffs)
}

// markRemoving flags the application for removal and returns the channel
// closed once the removal attempt finished.
func (ac *appContext) markRemoving() (<-chan struct{}, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.removing {
		return ac.gone, false
	}
	ac.removing = true
	ac.removeErr = nil
	ac.gone = make(chan struct{})
	return ac.gone, true
}

func (ac *appContext) isRemoving() bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.removing
}

// finishRemoval releases the waiters of RemoveApplication. On failure the
// application stays registered and can be removed again.
func (ac *appContext) finishRemoval(err error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if !ac.removing {
		return
	}
	ac.removeErr = err
	if err != nil {
		ac.removing = false
	}
	close(ac.gone)
}

func (ac *appContext) removalError() error {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.removeErr
}
