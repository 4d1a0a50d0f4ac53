package reconciler

import (
	"fmt"
	"path/filepath"

	"gitsync/internal/api"
	"gitsync/internal/events"
	"gitsync/internal/source"
	"gitsync/pkg/logging"
)

var _ api.SyncController = (*Controller)(nil)

// Register registers the controller with the API layer.
func (c *Controller) Register() {
	api.RegisterSyncController(c)
}

// ListApplications returns the status of every registered application.
func (c *Controller) ListApplications() []api.AppStatus {
	apps := c.sortedApps()
	out := make([]api.AppStatus, 0, len(apps))
	for _, ac := range apps {
		out = append(out, *ac.status())
	}
	return out
}

func (c *Controller) GetStatus(name string) (*api.AppStatus, error) {
	ac := c.lookup(name)
	if ac == nil {
		return nil, api.NewApplicationNotFoundError(name)
	}
	return ac.status(), nil
}

func (c *Controller) ListHistory(name string, limit int) ([]api.SyncOperation, error) {
	ac := c.lookup(name)
	if ac == nil {
		return nil, api.NewApplicationNotFoundError(name)
	}
	return ac.listHistory(limit), nil
}

func (c *Controller) GetOperation(name, operationID string) (*api.SyncOperation, error) {
	ac := c.lookup(name)
	if ac == nil {
		return nil, api.NewApplicationNotFoundError(name)
	}
	op := ac.operation(operationID)
	if op == nil {
		return nil, api.NewOperationNotFoundError(operationID)
	}
	return op, nil
}

func (c *Controller) GetDiff(name string) ([]api.DiffSummary, error) {
	ac := c.lookup(name)
	if ac == nil {
		return nil, api.NewApplicationNotFoundError(name)
	}
	return ac.diffSummaries(), nil
}

// active returns the context of an application that accepts new work.
func (c *Controller) active(name string) (*appContext, error) {
	ac := c.lookup(name)
	if ac == nil {
		return nil, api.NewApplicationNotFoundError(name)
	}
	if ac.isRemoving() {
		return nil, api.NewValidationError("name", fmt.Sprintf("application %s is being removed", name))
	}
	return ac, nil
}

func (c *Controller) TriggerSync(name string, opts api.TriggerOptions) error {
	if _, err := c.active(name); err != nil {
		return err
	}
	logging.Info("Reconciler", "Sync of %s requested (prune=%t, dryRun=%t, revision=%q)", name, opts.Prune, opts.DryRun, opts.Revision)
	return c.trigger(Request{
		Application: name,
		Kind:        KindSync,
		Trigger:     api.TriggerManual,
		Options:     opts,
		Reason:      "manual sync",
	})
}

func (c *Controller) Refresh(name string) error {
	if _, err := c.active(name); err != nil {
		return err
	}
	return c.trigger(Request{Application: name, Kind: KindRefresh, Reason: "manual refresh"})
}

// AbortSync stops dispatching new actions of the in-flight operation.
// Actions already applied stay applied.
func (c *Controller) AbortSync(name string) error {
	ac := c.lookup(name)
	if ac == nil {
		return api.NewApplicationNotFoundError(name)
	}
	if !ac.abortCurrent() {
		return api.ErrNoOperationInProgress
	}
	logging.Info("Reconciler", "Abort of the running sync of %s requested", name)
	return nil
}

// Rollback syncs the revision recorded by a past operation. It is refused
// while automated sync is on, since the next automated sync would undo it.
func (c *Controller) Rollback(name, operationID string) error {
	ac, err := c.active(name)
	if err != nil {
		return err
	}
	if ac.application().SyncPolicy.Automated {
		return api.ErrRollbackAutomated
	}
	op := ac.operation(operationID)
	if op == nil {
		return api.NewOperationNotFoundError(operationID)
	}
	if op.Revision == "" {
		return api.NewValidationError("operationID", fmt.Sprintf("operation %s recorded no revision", operationID))
	}
	logging.Info("Reconciler", "Rollback of %s to revision %s of operation %s requested", name, op.Revision, operationID)
	return c.trigger(Request{
		Application: name,
		Kind:        KindSync,
		Trigger:     api.TriggerRollback,
		Options:     api.TriggerOptions{Revision: op.Revision, Prune: op.Prune},
		Reason:      "rollback to " + operationID,
	})
}

// RegisterApplication adds an application and queues its first compare.
func (c *Controller) RegisterApplication(app api.Application) error {
	if err := app.Validate(); err != nil {
		return err
	}
	if _, err := c.clusters.Get(app.Destination); err != nil {
		return api.NewValidationError("destination.cluster", fmt.Sprintf("unknown destination cluster %q", app.Destination.Cluster))
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return api.ErrControllerStopped
	}
	if _, exists := c.apps[app.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", api.ErrAlreadyRegistered, app.Name)
	}
	c.apps[app.Name] = newAppContext(app, c.cfg.MaxHistory)
	c.mu.Unlock()

	c.metrics.setPhase(app.Name, api.PhaseUnknown)
	if c.watcher != nil && source.IsDirectorySource(app.Source.RepoURL) {
		dir := filepath.Join(source.LocalPath(app.Source.RepoURL), filepath.FromSlash(app.Source.Path))
		if err := c.watcher.Watch(app.Name, dir); err != nil {
			logging.Warn("Reconciler", "Cannot watch %s for %s, relying on periodic refresh: %v", dir, app.Name, err)
		}
	}

	logging.Info("Reconciler", "Registered application %s (%s@%s:%s -> %s/%s)", app.Name,
		app.Source.RepoURL, app.Source.TargetRevision, app.Source.Path, app.Destination.Cluster, app.Destination.Namespace)
	c.events.ApplicationEvent(app.Name, events.ReasonApplicationRegistered, "")
	c.enqueue(Request{Application: app.Name, Kind: KindRefresh, Reason: "registered"})
	return nil
}

func (c *Controller) UpdatePolicy(name string, policy api.SyncPolicy) error {
	ac, err := c.active(name)
	if err != nil {
		return err
	}
	ac.setPolicy(policy)
	logging.Info("Reconciler", "Sync policy of %s updated (automated=%t, prune=%t, selfHeal=%t, allowEmpty=%t)",
		name, policy.Automated, policy.Prune, policy.SelfHeal, policy.AllowEmpty)
	c.events.ApplicationEvent(name, events.ReasonApplicationUpdated, "")
	c.enqueue(Request{Application: name, Kind: KindRefresh, Reason: "policy updated"})
	return nil
}

// RemoveApplication aborts the in-flight operation, then tears the
// application down on its worker and waits for the outcome.
func (c *Controller) RemoveApplication(name string, policy api.TeardownPolicy) error {
	if policy == "" {
		policy = api.TeardownOrphan
	}
	if policy != api.TeardownOrphan && policy != api.TeardownCascade {
		return api.NewValidationError("policy", fmt.Sprintf("unknown teardown policy %q", policy))
	}
	ac := c.lookup(name)
	if ac == nil {
		return api.NewApplicationNotFoundError(name)
	}

	c.mu.RLock()
	running, ctx := c.running, c.ctx
	c.mu.RUnlock()
	if !running {
		return api.ErrControllerStopped
	}

	gone, first := ac.markRemoving()
	if first {
		ac.abortCurrent()
		logging.Info("Reconciler", "Removing application %s (%s)", name, policy)
		c.enqueue(Request{Application: name, Kind: KindTeardown, Cascade: policy == api.TeardownCascade, Reason: "removal"})
	}

	select {
	case <-gone:
		return ac.removalError()
	case <-ctx.Done():
		return api.ErrControllerStopped
	}
}
