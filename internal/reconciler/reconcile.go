package reconciler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"gitsync/internal/api"
	"gitsync/internal/cluster"
	"gitsync/internal/diff"
	"gitsync/internal/events"
	"gitsync/internal/executor"
	"gitsync/internal/planner"
	"gitsync/internal/resource"
	"gitsync/internal/source"
	"gitsync/pkg/logging"
)

// compareResult is desired state at one revision matched against live state.
type compareResult struct {
	snapshot  *source.Snapshot
	runtime   cluster.Runtime
	kinds     []schema.GroupVersionKind
	prune     bool
	diffs     []diff.ResourceDiff
	resources []api.ResourceStatus
	health    api.HealthSummary
}

// reconcile runs compare, decides whether an operation is due and runs it.
func (c *Controller) reconcile(ctx context.Context, ac *appContext, req Request) {
	app := ac.application()
	prune := app.SyncPolicy.Prune || (req.Kind == KindSync && req.Options.Prune)

	logging.Debug("Reconciler", "Reconciling %s (%s: %s)", app.Name, req.Kind, req.Reason)

	cr, err := c.compare(ctx, app, req.Options.Revision, prune, ac.trackedKinds())
	ac.recordCompare(cr, err)
	if err != nil {
		logging.Warn("Reconciler", "Compare of %s failed: %v", app.Name, err)
		c.events.CompareFailedEvent(app.Name, err)
		if req.Kind == KindSync {
			c.rejectOperation(ac, req, err)
			return
		}
		c.transition(ac, api.PhaseFailed, err.Error())
		return
	}

	trigger, ok := c.decide(ac, req, cr)
	if !ok {
		c.settle(ac, cr)
		return
	}
	c.operate(ctx, ac, req, trigger, cr)
}

// compare fetches desired state at revision (the target revision when
// empty) and live state, and diffs them. Live state is listed for the
// default kinds, the desired kinds and every kind in known, so resources of
// any kind that left the source are still found.
func (c *Controller) compare(ctx context.Context, app api.Application, revision string, prune bool, known []schema.GroupVersionKind) (*compareResult, error) {
	fetchApp := app
	if revision != "" {
		fetchApp.Source.TargetRevision = revision
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	snap, err := c.fetcher.FetchDesired(fctx, fetchApp)
	if err != nil {
		return nil, err
	}
	rt, err := c.clusters.Get(app.Destination)
	if err != nil {
		return nil, err
	}

	cr := &compareResult{
		snapshot: snap,
		runtime:  rt,
		kinds:    mergeKinds(resource.DefaultTrackedKinds(), desiredKinds(snap), known),
		prune:    prune,
	}
	if err := c.refreshLive(fctx, app.Name, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// refreshLive reads live state again and recomputes the diffs of cr against
// its unchanged snapshot.
func (c *Controller) refreshLive(ctx context.Context, application string, cr *compareResult) error {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	live, err := cr.runtime.List(lctx, application, cr.kinds)
	if err != nil {
		return err
	}
	cr.diffs = diff.Compare(cr.snapshot.Resources, live, diff.Options{Prune: cr.prune, Application: application})
	cr.resources, cr.health = assess(cr.diffs)
	return nil
}

// assess evaluates the health of every diffed resource. Only desired
// resources count towards the summary.
func assess(diffs []diff.ResourceDiff) ([]api.ResourceStatus, api.HealthSummary) {
	var health api.HealthSummary
	resources := make([]api.ResourceStatus, 0, len(diffs))
	for _, d := range diffs {
		rs := api.ResourceStatus{Key: d.Key, Status: d.Status, Health: api.HealthMissing}
		if d.Live != nil {
			rs.Health, rs.Message = cluster.EvaluateHealth(*d.Live)
		}
		if d.Replace {
			rs.Message = "immutable fields changed: " + strings.Join(d.ImmutableFields, ", ")
		}
		if d.Desired != nil {
			health.Add(rs.Health)
		}
		resources = append(resources, rs)
	}
	if health.Status == "" {
		health.Status = api.HealthUnknown
	}
	return resources, health
}

// decide returns the trigger of the operation to start, if any. Explicit
// syncs always start one. Automated applications sync each new revision
// once, and again on drift when self-heal is on.
func (c *Controller) decide(ac *appContext, req Request, cr *compareResult) (api.TriggerSource, bool) {
	if req.Kind == KindSync {
		if req.Trigger == "" {
			return api.TriggerManual, true
		}
		return req.Trigger, true
	}

	policy := ac.application().SyncPolicy
	if !policy.Automated {
		return "", false
	}
	synced, lastAuto := ac.revisions()
	revision := cr.snapshot.Revision
	if revision != synced && revision != lastAuto {
		return api.TriggerAutomated, true
	}
	if policy.SelfHeal && diff.Drifted(cr.diffs) {
		return api.TriggerSelfHeal, true
	}
	return "", false
}

// settle sets the phase after a compare that started no operation.
func (c *Controller) settle(ac *appContext, cr *compareResult) {
	drifted := diff.Drifted(cr.diffs)
	switch {
	case drifted && ac.currentPhase() == api.PhaseFailed && ac.lastFailedAt(cr.snapshot.Revision):
		// The failed operation of this revision stays visible until the
		// revision changes or a sync succeeds.
	case drifted:
		c.transition(ac, api.PhaseOutOfSyncDetected, driftMessage(cr.diffs))
	case cr.health.Status == api.HealthDegraded:
		c.transition(ac, api.PhaseDegraded, "")
	default:
		c.transition(ac, api.PhaseSynced, "")
	}
}

func driftMessage(diffs []diff.ResourceDiff) string {
	var parts []string
	for _, d := range diffs {
		if d.Status != api.DiffInSync {
			parts = append(parts, d.Key.String()+" "+string(d.Status))
		}
	}
	const listed = 5
	if len(parts) > listed {
		parts = append(parts[:listed], "...")
	}
	return strings.Join(parts, ", ")
}

// operate runs one sync operation on the snapshot of cr. The in-flight
// operation always finishes on this snapshot; newer revisions are picked up
// by the follow-up request.
func (c *Controller) operate(ctx context.Context, ac *appContext, req Request, trigger api.TriggerSource, cr *compareResult) {
	app := ac.application()
	dryRun := req.Kind == KindSync && req.Options.DryRun

	op := &api.SyncOperation{
		ID:          uuid.NewString(),
		Application: app.Name,
		Revision:    cr.snapshot.Revision,
		DryRun:      dryRun,
		Prune:       cr.prune,
		Trigger:     trigger,
		Status:      api.OperationPending,
		StartedAt:   time.Now(),
	}
	if trigger == api.TriggerAutomated {
		ac.markAutoRevision(op.Revision)
	}
	abort := c.startOperation(ac, op)

	fail := func(err error) {
		final := c.finishOperation(ac, api.OperationFailed, nil, err, "")
		c.transition(ac, api.PhaseFailed, final.Message)
	}

	// Live state is read again now that the operation owns the application.
	if err := c.refreshLive(ctx, app.Name, cr); err != nil {
		fail(err)
		return
	}
	if err := guardEmpty(app, cr); err != nil {
		fail(err)
		return
	}
	plan, err := planner.Build(cr.diffs, planner.Options{AllowDestructive: cr.prune})
	if err != nil {
		fail(err)
		return
	}

	res := c.runPlan(ctx, ac, plan, cr.runtime, dryRun, abort)
	final := c.finishOperation(ac, res.Status, res.Actions, res.Err, res.Message())

	c.postSync(ctx, ac, cr, final)
}

// rejectOperation records an explicit sync that could not get past compare
// as a failed operation.
func (c *Controller) rejectOperation(ac *appContext, req Request, err error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = api.TriggerManual
	}
	op := &api.SyncOperation{
		ID:          uuid.NewString(),
		Application: ac.name(),
		Revision:    req.Options.Revision,
		DryRun:      req.Options.DryRun,
		Prune:       req.Options.Prune,
		Trigger:     trigger,
		Status:      api.OperationPending,
		StartedAt:   time.Now(),
	}
	c.startOperation(ac, op)
	final := c.finishOperation(ac, api.OperationFailed, nil, err, "")
	c.transition(ac, api.PhaseFailed, final.Message)
}

// guardEmpty refuses to prune everything because the desired state came back
// empty, unless the policy explicitly allows it.
func guardEmpty(app api.Application, cr *compareResult) error {
	if len(cr.snapshot.Resources) > 0 || !cr.prune || app.SyncPolicy.AllowEmpty {
		return nil
	}
	for _, d := range cr.diffs {
		if d.Status == api.DiffOrphaned {
			return api.NewValidationError("syncPolicy.allowEmpty",
				"desired state is empty, refusing to prune every live resource of the application")
		}
	}
	return nil
}

func (c *Controller) startOperation(ac *appContext, op *api.SyncOperation) <-chan struct{} {
	abort := ac.begin(op)
	c.events.OperationEvent(op.DeepCopy())
	logging.Info("Reconciler", "Starting %s sync %s of %s at revision %s (dryRun=%t, prune=%t)",
		op.Trigger, op.ID, op.Application, op.Revision, op.DryRun, op.Prune)
	c.transition(ac, api.PhaseSyncing, "")
	return abort
}

// runPlan marks the operation Running and executes plan, recording every
// action transition on the operation.
func (c *Controller) runPlan(ctx context.Context, ac *appContext, plan *planner.Plan, rt cluster.Runtime, dryRun bool, abort <-chan struct{}) *executor.Result {
	running := ac.updateOperation(func(op *api.SyncOperation) {
		op.Status = api.OperationRunning
		op.Actions = plan.Actions()
	})
	c.events.OperationEvent(running)

	opts := c.cfg.Executor
	opts.Application = ac.name()
	opts.DryRun = dryRun

	return executor.New(opts).Execute(ctx, plan, rt, abort, func(a api.Action) {
		ac.updateAction(a)
		if a.Outcome.IsTerminal() {
			c.metrics.recordAction(a)
			c.events.ActionEvent(running.Application, running.ID, a)
		}
	})
}

func (c *Controller) finishOperation(ac *appContext, status api.OperationStatus, actions []api.Action, err error, message string) *api.SyncOperation {
	if message == "" && err != nil {
		message = err.Error()
	}
	final := ac.updateOperation(func(op *api.SyncOperation) {
		now := time.Now()
		op.Status = status
		if actions != nil {
			op.Actions = actions
		}
		op.Error = api.ToErrorInfo(err)
		op.Message = message
		op.FinishedAt = &now
	})
	ac.finish()

	c.metrics.recordOperation(final)
	c.events.OperationEvent(final)
	if status == api.OperationSucceeded {
		logging.Info("Reconciler", "Sync %s of %s succeeded: %s", final.ID, final.Application, message)
	} else {
		logging.Warn("Reconciler", "Sync %s of %s ended %s: %s", final.ID, final.Application, status, message)
	}
	return final
}

// postSync compares live state against the snapshot of the finished
// operation and sets the resulting phase.
func (c *Controller) postSync(ctx context.Context, ac *appContext, cr *compareResult, op *api.SyncOperation) {
	if err := c.refreshLive(ctx, ac.name(), cr); err != nil {
		ac.recordCompare(nil, err)
		c.transition(ac, api.PhaseFailed, err.Error())
		return
	}
	ac.recordCompare(cr, nil)

	switch {
	case op.Status == api.OperationFailed:
		c.transition(ac, api.PhaseFailed, op.Message)
	case diff.Drifted(cr.diffs):
		c.transition(ac, api.PhaseOutOfSyncDetected, driftMessage(cr.diffs))
	case op.Status == api.OperationDegraded:
		c.transition(ac, api.PhaseDegraded, op.Message)
	default:
		c.transition(ac, api.PhaseSynced, "")
	}
}

// teardown removes an application, deleting its live resources first when
// the request cascades. A failed cascade keeps the application registered.
func (c *Controller) teardown(ctx context.Context, ac *appContext, req Request) {
	if req.Cascade {
		if err := c.cascade(ctx, ac); err != nil {
			logging.Error("Reconciler", err, "Teardown of %s failed, application stays registered", ac.name())
			ac.finishRemoval(err)
			return
		}
	}
	c.unregister(ac, req.Cascade)
	ac.finishRemoval(nil)
}

// cascade deletes every tracked live resource of the application in reverse
// tier order through a tracked operation.
func (c *Controller) cascade(ctx context.Context, ac *appContext) error {
	app := ac.application()
	ac.mu.RLock()
	revision := ac.revision
	ac.mu.RUnlock()

	op := &api.SyncOperation{
		ID:          uuid.NewString(),
		Application: app.Name,
		Revision:    revision,
		Prune:       true,
		Trigger:     api.TriggerTeardown,
		Status:      api.OperationPending,
		StartedAt:   time.Now(),
	}
	abort := c.startOperation(ac, op)

	fail := func(err error) error {
		final := c.finishOperation(ac, api.OperationFailed, nil, err, "")
		c.transition(ac, api.PhaseFailed, final.Message)
		return err
	}

	rt, err := c.clusters.Get(app.Destination)
	if err != nil {
		return fail(err)
	}
	cr := &compareResult{
		snapshot: &source.Snapshot{Revision: revision},
		runtime:  rt,
		kinds:    mergeKinds(resource.DefaultTrackedKinds(), ac.trackedKinds()),
		prune:    true,
	}
	if err := c.refreshLive(ctx, app.Name, cr); err != nil {
		return fail(err)
	}
	plan, err := planner.Build(cr.diffs, planner.Options{AllowDestructive: true})
	if err != nil {
		return fail(err)
	}

	res := c.runPlan(ctx, ac, plan, rt, false, abort)
	final := c.finishOperation(ac, res.Status, res.Actions, res.Err, res.Message())
	if final.Status == api.OperationFailed {
		c.transition(ac, api.PhaseFailed, final.Message)
		if res.Err != nil {
			return res.Err
		}
		return errors.New(final.Message)
	}
	return nil
}

func (c *Controller) unregister(ac *appContext, cascade bool) {
	name := ac.name()

	c.mu.Lock()
	delete(c.apps, name)
	c.mu.Unlock()

	c.queue.Forget(name)
	if c.watcher != nil {
		c.watcher.Unwatch(name)
	}
	c.metrics.forget(name)

	message := "live resources orphaned"
	if cascade {
		message = "live resources deleted"
	}
	logging.Info("Reconciler", "Removed application %s, %s", name, message)
	c.events.ApplicationEvent(name, events.ReasonApplicationRemoved, message)
}

func desiredKinds(snap *source.Snapshot) []schema.GroupVersionKind {
	kinds := make([]schema.GroupVersionKind, 0, len(snap.Resources))
	for _, d := range snap.Resources {
		kinds = append(kinds, d.GVK())
	}
	return kinds
}

// mergeKinds returns the union of the kind lists, keeping first-seen order.
func mergeKinds(lists ...[]schema.GroupVersionKind) []schema.GroupVersionKind {
	seen := make(map[schema.GroupVersionKind]bool)
	var out []schema.GroupVersionKind
	for _, list := range lists {
		for _, gvk := range list {
			if !seen[gvk] {
				seen[gvk] = true
				out = append(out, gvk)
			}
		}
	}
	return out
}
