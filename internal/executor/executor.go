package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"

	"gitsync/internal/api"
	"gitsync/internal/cluster"
	"gitsync/internal/planner"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

// Messages recorded on skipped actions.
const (
	MessageDryRun       = "dry run"
	MessageAborted      = "skipped: sync aborted"
	MessageEarlierWave  = "skipped: an earlier wave failed"
	MessageCancelled    = "skipped: operation cancelled"
	MessageAdopted      = "adopted existing resource"
	MessageCreatedAfter = "resource vanished, created instead"
)

// ErrAborted is the operation error when AbortSync stopped dispatch.
var ErrAborted = errors.New("sync operation aborted")

// Options controls how a plan is executed.
type Options struct {
	// Application is stamped into the tracking label of applied resources.
	Application string

	// MaxConcurrentActions bounds the actions of one wave that run at once.
	MaxConcurrentActions int

	// MaxAttempts bounds tries of an action failing with a transient error.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ActionTimeout bounds one action including its retries.
	ActionTimeout time.Duration

	// HealthTimeout bounds the health gate after the last wave. Zero skips
	// health gating.
	HealthTimeout  time.Duration
	HealthInterval time.Duration

	// ReplacePollInterval is how often a replaced resource is checked for
	// deletion before it is created again.
	ReplacePollInterval time.Duration

	// DryRun records every action as Skipped without touching the runtime.
	DryRun bool
}

// DefaultOptions returns the settings used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentActions: 10,
		MaxAttempts:          5,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           10 * time.Second,
		ActionTimeout:        2 * time.Minute,
		HealthTimeout:        5 * time.Minute,
		HealthInterval:       2 * time.Second,
		ReplacePollInterval:  time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrentActions <= 0 {
		o.MaxConcurrentActions = d.MaxConcurrentActions
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = d.ActionTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = d.HealthInterval
	}
	if o.ReplacePollInterval <= 0 {
		o.ReplacePollInterval = d.ReplacePollInterval
	}
	return o
}

// Result is the outcome of one Execute call.
type Result struct {
	// Status is Succeeded, Failed or Degraded.
	Status api.OperationStatus

	// Actions holds the final state of every planned action, in plan order.
	Actions []api.Action

	// Health aggregates the resources checked by the health gate.
	Health api.HealthSummary

	// Unhealthy lists resources that did not become healthy, with the last
	// message reported for each.
	Unhealthy []string

	Aborted bool

	// Err is the most specific failure, nil on success.
	Err error
}

// Message summarizes the result for an operation record.
func (r *Result) Message() string {
	switch {
	case r.Aborted:
		return "sync aborted"
	case r.Err != nil:
		return r.Err.Error()
	case len(r.Unhealthy) > 0:
		return "resources not healthy: " + strings.Join(r.Unhealthy, "; ")
	case r.Status == api.OperationSucceeded && len(r.Actions) == 0:
		return "nothing to do"
	default:
		return fmt.Sprintf("%d actions executed", len(r.Actions))
	}
}

// Executor applies plans to a runtime.
type Executor struct {
	opts Options
}

func New(opts Options) *Executor {
	return &Executor{opts: opts.withDefaults()}
}

// Options returns the effective settings.
func (e *Executor) Options() Options {
	return e.opts
}

// ReportFunc receives a copy of an action every time its outcome changes.
// Calls are serialized.
type ReportFunc func(api.Action)

// Execute runs plan against rt. Waves run one after another; the actions of a
// wave run concurrently up to MaxConcurrentActions. Transient failures are
// retried with exponential backoff. A failed action skips every later wave,
// while actions already dispatched in its own wave keep their outcome.
// Closing abort stops dispatch and skips what has not started. Once every
// wave succeeded, created and updated resources are polled until healthy.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, rt cluster.Runtime, abort <-chan struct{}, report ReportFunc) *Result {
	r := &run{
		opts:    e.opts,
		plan:    plan,
		rt:      rt,
		abort:   abort,
		report:  report,
		actions: plan.Actions(),
	}
	if r.report == nil {
		r.report = func(api.Action) {}
	}
	return r.execute(ctx)
}

type run struct {
	opts   Options
	plan   *planner.Plan
	rt     cluster.Runtime
	abort  <-chan struct{}
	report ReportFunc

	mu      sync.Mutex
	actions []api.Action
}

func (r *run) execute(ctx context.Context) *Result {
	res := &Result{Status: api.OperationSucceeded}

	if r.opts.DryRun {
		for i := range r.actions {
			r.skip(i+1, MessageDryRun)
		}
		res.Actions = r.actions
		return res
	}

	var failure error
	for _, wave := range r.plan.Waves {
		switch {
		case failure != nil:
			r.skipAll(wave, MessageEarlierWave)
			continue
		case res.Aborted || isClosed(r.abort):
			res.Aborted = true
			r.skipAll(wave, MessageAborted)
			continue
		case ctx.Err() != nil:
			failure = ctx.Err()
			r.skipAll(wave, MessageCancelled)
			continue
		}

		res.Aborted, failure = r.runWave(ctx, wave)
	}

	res.Actions = r.actions
	switch {
	case failure != nil:
		res.Status = api.OperationFailed
		res.Err = failure
		return res
	case res.Aborted:
		res.Status = api.OperationFailed
		res.Err = ErrAborted
		return res
	}

	if r.opts.HealthTimeout > 0 {
		r.healthGate(ctx, res)
		// An abort during the gate cuts polling short; the resources left
		// unhealthy were not given their full timeout.
		if res.Status == api.OperationDegraded && isClosed(r.abort) {
			res.Aborted = true
			res.Status = api.OperationFailed
			res.Err = ErrAborted
		}
	}
	return res
}

// runWave dispatches the actions of one wave and waits for all of them. It
// reports whether abort was seen and returns the first action failure.
func (r *run) runWave(ctx context.Context, wave []int) (bool, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		first   error
		aborted bool
	)
	g.SetLimit(r.opts.MaxConcurrentActions)

	for _, id := range wave {
		if isClosed(r.abort) {
			mu.Lock()
			aborted = true
			mu.Unlock()
			r.skip(id, MessageAborted)
			continue
		}
		g.Go(func() error {
			// A slot may free up only after abort was requested.
			if isClosed(r.abort) {
				mu.Lock()
				aborted = true
				mu.Unlock()
				r.skip(id, MessageAborted)
				return nil
			}
			if err := r.runAction(ctx, id); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return aborted, first
}

// runAction executes one action with retries and records its outcome.
func (r *run) runAction(ctx context.Context, id int) error {
	step := r.plan.Step(id)
	r.update(id, func(a *api.Action) {
		now := time.Now()
		a.Outcome = api.OutcomeRunning
		a.StartedAt = &now
	})

	actx, cancel := context.WithTimeout(ctx, r.opts.ActionTimeout)
	defer cancel()

	attempts := 0
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialBackoff
	eb.MaxInterval = r.opts.MaxBackoff

	message, err := backoff.Retry(actx, func() (string, error) {
		attempts++
		msg, err := r.apply(actx, step)
		if err == nil {
			return msg, nil
		}
		if api.IsTransient(err) && actx.Err() == nil {
			return "", err
		}
		return "", backoff.Permanent(err)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(r.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug("Executor", "Retrying %s in %s: %v", step.Action, next, err)
		}),
	)

	if err != nil && actx.Err() != nil && ctx.Err() == nil {
		key := step.Action.Key
		err = &api.RuntimeError{
			Reason: api.RuntimeTimeout,
			Key:    &key,
			Err:    fmt.Errorf("action did not finish within %s: %w", r.opts.ActionTimeout, err),
		}
	}

	var actionErr *api.ActionError
	if err != nil {
		actionErr = &api.ActionError{
			ActionID:  id,
			Type:      step.Action.Type,
			Key:       step.Action.Key,
			Transient: api.IsTransient(err),
			Cause:     err,
		}
		logging.Warn("Executor", "Action %s failed after %d attempts: %v", step.Action, attempts, err)
	} else {
		logging.Debug("Executor", "Action %s succeeded after %d attempts", step.Action, attempts)
	}

	r.update(id, func(a *api.Action) {
		now := time.Now()
		a.Attempts = attempts
		a.FinishedAt = &now
		if actionErr != nil {
			a.Outcome = api.OutcomeFailed
			a.Message = err.Error()
			a.Error = api.ToErrorInfo(actionErr)
			return
		}
		a.Outcome = api.OutcomeSucceeded
		a.Message = message
	})

	if actionErr != nil {
		return actionErr
	}
	return nil
}

// apply performs one attempt of the action's mutation.
func (r *run) apply(ctx context.Context, step *planner.Step) (string, error) {
	d := step.Diff
	switch step.Action.Type {
	case api.ActionCreate:
		return r.create(ctx, d.Desired)

	case api.ActionUpdate:
		obj, err := resource.ForApply(d.Desired.Object, r.opts.Application)
		if err != nil {
			return "", err
		}
		patch := d.Patch
		if len(patch) == 0 {
			if patch, err = json.Marshal(obj.Object); err != nil {
				return "", err
			}
		}
		err = r.rt.Patch(ctx, obj, patch)
		if api.IsRuntimeReason(err, api.RuntimeNotFound) {
			if err := r.rt.Create(ctx, obj); err != nil {
				return "", err
			}
			return MessageCreatedAfter, nil
		}
		return "", err

	case api.ActionReplace:
		gvk := d.Desired.GVK()
		if err := r.rt.Delete(ctx, gvk, d.Key); err != nil {
			return "", err
		}
		if err := r.awaitGone(ctx, gvk, d.Key); err != nil {
			return "", err
		}
		return r.create(ctx, d.Desired)

	case api.ActionDelete:
		return "", r.rt.Delete(ctx, d.Live.GVK(), d.Key)
	}
	return "", fmt.Errorf("unknown action type %q", step.Action.Type)
}

// create creates desired, adopting a resource that already exists under the
// same key by patching it to the desired payload.
func (r *run) create(ctx context.Context, desired *resource.Desired) (string, error) {
	obj, err := resource.ForApply(desired.Object, r.opts.Application)
	if err != nil {
		return "", err
	}
	err = r.rt.Create(ctx, obj)
	if !api.IsRuntimeReason(err, api.RuntimeAlreadyExists) {
		return "", err
	}
	patch, err := json.Marshal(obj.Object)
	if err != nil {
		return "", err
	}
	if err := r.rt.Patch(ctx, obj, patch); err != nil {
		return "", err
	}
	return MessageAdopted, nil
}

// awaitGone waits until a deleted resource is no longer returned by Get.
func (r *run) awaitGone(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) error {
	return wait.PollUntilContextCancel(ctx, r.opts.ReplacePollInterval, true, func(ctx context.Context) (bool, error) {
		_, err := r.rt.Get(ctx, gvk, key)
		switch {
		case err == nil:
			return false, nil
		case api.IsRuntimeReason(err, api.RuntimeNotFound):
			return true, nil
		case api.IsTransient(err):
			return false, nil
		default:
			return false, err
		}
	})
}

// healthGate polls every created, updated or replaced resource until it is
// healthy. Resources still unhealthy when HealthTimeout expires, or reported
// Degraded, make the result Degraded.
func (r *run) healthGate(ctx context.Context, res *Result) {
	type target struct {
		key api.ResourceKey
		gvk schema.GroupVersionKind
	}
	var targets []target
	for _, s := range r.plan.Steps {
		if s.Action.Type == api.ActionDelete || s.Diff.Desired == nil {
			continue
		}
		targets = append(targets, target{key: s.Action.Key, gvk: s.Diff.Desired.GVK()})
	}
	if len(targets) == 0 {
		return
	}

	type verdict struct {
		status  api.HealthStatus
		message string
	}
	verdicts := make([]verdict, len(targets))

	hctx, cancel := context.WithTimeout(ctx, r.opts.HealthTimeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.abort:
			cancel()
		case <-done:
		}
	}()

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrentActions)
	for i, t := range targets {
		g.Go(func() error {
			v := verdict{status: api.HealthUnknown}
			_ = wait.PollUntilContextCancel(hctx, r.opts.HealthInterval, true, func(ctx context.Context) (bool, error) {
				status, msg, err := r.rt.Health(ctx, t.gvk, t.key)
				if err != nil {
					v = verdict{status: api.HealthUnknown, message: err.Error()}
					return false, nil
				}
				v = verdict{status: status, message: msg}
				return status == api.HealthHealthy || status == api.HealthDegraded, nil
			})
			verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range targets {
		v := verdicts[i]
		res.Health.Add(v.status)
		if v.status == api.HealthHealthy {
			continue
		}
		line := fmt.Sprintf("%s %s", t.key, v.status)
		if v.message != "" {
			line += ": " + v.message
		}
		res.Unhealthy = append(res.Unhealthy, line)
	}
	sort.Strings(res.Unhealthy)

	if len(res.Unhealthy) > 0 {
		res.Status = api.OperationDegraded
		res.Health.Message = fmt.Sprintf("%d of %d resources not healthy", len(res.Unhealthy), len(targets))
		logging.Warn("Executor", "Health gate for %s: %s", r.opts.Application, strings.Join(res.Unhealthy, "; "))
	}
}

func (r *run) update(id int, fn func(a *api.Action)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &r.actions[id-1]
	fn(a)
	r.report(a.DeepCopy())
}

func (r *run) skip(id int, message string) {
	r.update(id, func(a *api.Action) {
		a.Outcome = api.OutcomeSkipped
		a.Message = message
	})
}

func (r *run) skipAll(ids []int, message string) {
	for _, id := range ids {
		r.skip(id, message)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
