package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"gitsync/internal/api"
	"gitsync/internal/cluster"
	"gitsync/internal/events"
	"gitsync/internal/executor"
	"gitsync/internal/resource"
	"gitsync/internal/source"
	"gitsync/internal/source/mock"
)

const clusterName = "in-memory"

const guestbookDocs = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  mode: prod
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  replicas: 2
  selector:
    matchLabels: {app: web}
  template:
    metadata:
      labels: {app: web}
    spec:
      containers:
      - name: web
        image: nginx:1.25
---
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  selector: {app: web}
  ports:
  - port: 80
`

var (
	cfgKey = api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "cfg"}
	appKey = api.ResourceKey{Kind: "Deployment", Namespace: "default", Name: "app"}
	svcKey = api.ResourceKey{Kind: "Service", Namespace: "default", Name: "web"}
)

// fakeFetcher serves manifests from memory. Every published revision stays
// fetchable by its name.
type fakeFetcher struct {
	mu       sync.Mutex
	revision string
	docs     string
	history  map[string]string
	err      error
}

func newFakeFetcher(docs string) *fakeFetcher {
	f := &fakeFetcher{history: make(map[string]string)}
	f.publish("r1", docs)
	return f
}

func (f *fakeFetcher) publish(revision, docs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revision, f.docs = revision, docs
	f.history[revision] = docs
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) FetchDesired(ctx context.Context, app api.Application) (*source.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	revision, docs := f.revision, f.docs
	if want := app.Source.TargetRevision; want != "" && want != "HEAD" {
		d, ok := f.history[want]
		if !ok {
			return nil, &api.SourceError{Reason: api.SourceUnavailable, RepoURL: app.Source.RepoURL, Revision: want, Err: fmt.Errorf("revision %s not found", want)}
		}
		revision, docs = want, d
	}
	desired, errs := source.ParseManifests("app.yaml", docs, app.Destination.Namespace)
	if len(errs) > 0 {
		return nil, &api.SourceError{Reason: api.InvalidManifest, RepoURL: app.Source.RepoURL, Manifests: errs}
	}
	return &source.Snapshot{Revision: revision, Resources: desired, FetchedAt: time.Now()}, nil
}

type harness struct {
	ctrl    *Controller
	rt      *cluster.MemoryRuntime
	fetcher *fakeFetcher
	bus     *events.Bus
	metrics *Metrics
}

func testConfig() Config {
	return Config{
		Workers:         2,
		RefreshInterval: time.Hour,
		MaxHistory:      5,
		FetchTimeout:    5 * time.Second,
		Executor: executor.Options{
			MaxAttempts:         3,
			InitialBackoff:      time.Millisecond,
			MaxBackoff:          5 * time.Millisecond,
			ActionTimeout:       5 * time.Second,
			HealthTimeout:       200 * time.Millisecond,
			HealthInterval:      5 * time.Millisecond,
			ReplacePollInterval: 5 * time.Millisecond,
		},
	}
}

func newHarness(t *testing.T, fetcher source.Fetcher, opts ...cluster.MemoryOption) *harness {
	t.Helper()
	rt := cluster.NewMemoryRuntime(clusterName, opts...)
	clusters := cluster.NewRegistry()
	clusters.Register(clusterName, rt)
	bus := events.NewBus(200)
	metrics := NewMetrics(prometheus.NewRegistry())

	ctrl := New(testConfig(), Dependencies{
		Fetcher:  fetcher,
		Clusters: clusters,
		Events:   events.NewEventGenerator(bus),
		Metrics:  metrics,
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() {
		_ = ctrl.Stop()
		bus.Close()
	})

	h := &harness{ctrl: ctrl, rt: rt, bus: bus, metrics: metrics}
	if f, ok := fetcher.(*fakeFetcher); ok {
		h.fetcher = f
	}
	return h
}

func guestbook(policy api.SyncPolicy) api.Application {
	return api.Application{
		Name:        "guestbook",
		Source:      api.Source{RepoURL: "https://git.example.com/guestbook.git", TargetRevision: "HEAD", Path: "deploy"},
		Destination: api.Destination{Cluster: clusterName, Namespace: "default"},
		SyncPolicy:  policy,
	}
}

func (h *harness) status(t *testing.T) *api.AppStatus {
	t.Helper()
	st, err := h.ctrl.GetStatus("guestbook")
	require.NoError(t, err)
	return st
}

func (h *harness) waitPhase(t *testing.T, phase api.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.ctrl.GetStatus("guestbook")
		return err == nil && st.Phase == phase
	}, 5*time.Second, time.Millisecond, "application never reached %s", phase)
}

// waitOperations waits until n operations finished and the phase left
// Syncing, then returns the history newest first.
func (h *harness) waitOperations(t *testing.T, n int) []api.SyncOperation {
	t.Helper()
	require.Eventually(t, func() bool {
		history, err := h.ctrl.ListHistory("guestbook", 0)
		if err != nil || len(history) < n {
			return false
		}
		st, err := h.ctrl.GetStatus("guestbook")
		return err == nil && st.Phase != api.PhaseSyncing
	}, 5*time.Second, time.Millisecond, "expected %d finished operations", n)
	history, err := h.ctrl.ListHistory("guestbook", 0)
	require.NoError(t, err)
	return history
}

func replicas(t *testing.T, rt *cluster.MemoryRuntime) int64 {
	t.Helper()
	obj := rt.Object(appKey)
	require.NotNil(t, obj)
	n, _, err := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	require.NoError(t, err)
	return n
}

func scaleTo(n int64) func(obj *unstructured.Unstructured) {
	return func(obj *unstructured.Unstructured) {
		_ = unstructured.SetNestedField(obj.Object, n, "spec", "replicas")
	}
}

func TestController_RegisterThenManualSync(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))

	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	st := h.status(t)
	assert.Equal(t, "r1", st.Revision)
	assert.Empty(t, st.SyncedRevision)
	assert.Empty(t, h.rt.MutatingCalls(), "manual policy must not touch the cluster")

	diffs, err := h.ctrl.GetDiff("guestbook")
	require.NoError(t, err)
	require.Len(t, diffs, 3)
	for _, d := range diffs {
		assert.Equal(t, api.DiffMissing, d.Status)
	}

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	history := h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseSynced)

	op := history[0]
	assert.Equal(t, api.OperationSucceeded, op.Status)
	assert.Equal(t, api.TriggerManual, op.Trigger)
	assert.Equal(t, "r1", op.Revision)
	assert.NotNil(t, op.FinishedAt)
	require.Len(t, op.Actions, 3)

	var applied []api.ResourceKey
	for _, c := range h.rt.MutatingCalls() {
		applied = append(applied, c.Key)
	}
	assert.Equal(t, []api.ResourceKey{cfgKey, appKey, svcKey}, applied)

	st = h.status(t)
	assert.Equal(t, "r1", st.SyncedRevision)
	assert.Equal(t, api.HealthHealthy, st.Health.Status)
	assert.Nil(t, st.Error)

	got, err := h.ctrl.GetOperation("guestbook", op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	recent := h.bus.Recent("guestbook", 0)
	var reasons []events.EventReason
	for _, e := range recent {
		reasons = append(reasons, e.Reason)
	}
	assert.Contains(t, reasons, events.ReasonOperationSucceeded)
	assert.Contains(t, reasons, events.ReasonApplicationRegistered)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.operations.WithLabelValues("guestbook", "Succeeded")))
}

func TestController_SingleOperationPerApplication(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs), cluster.WithLatency(20*time.Millisecond))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitPhase(t, api.PhaseSyncing)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))

	h.waitOperations(t, 2)
	time.Sleep(200 * time.Millisecond)
	history, err := h.ctrl.ListHistory("guestbook", 0)
	require.NoError(t, err)
	require.Len(t, history, 2, "triggers during an operation collapse into one follow-up")

	first, second := history[1], history[0]
	require.NotNil(t, first.FinishedAt)
	assert.False(t, second.StartedAt.Before(*first.FinishedAt), "operations of one application must not overlap")
	assert.Equal(t, "nothing to do", second.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.coalesced), "the third trigger merged into the follow-up")
}

func TestController_DriftWithoutSelfHeal(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseSynced)

	require.True(t, h.rt.Mutate(appKey, scaleTo(5)))
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	assert.EqualValues(t, 5, replicas(t, h.rt), "drift is reported, not corrected")

	diffs, err := h.ctrl.GetDiff("guestbook")
	require.NoError(t, err)
	for _, d := range diffs {
		if d.Key == appKey {
			assert.Equal(t, api.DiffOutOfSync, d.Status)
		} else {
			assert.Equal(t, api.DiffInSync, d.Status)
		}
	}

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 2)
	h.waitPhase(t, api.PhaseSynced)
	assert.EqualValues(t, 2, replicas(t, h.rt))
}

func TestController_AutomatedWithSelfHeal(t *testing.T) {
	fetcher := newFakeFetcher(guestbookDocs)
	h := newHarness(t, fetcher)
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{Automated: true, SelfHeal: true})))

	history := h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseSynced)
	assert.Equal(t, api.TriggerAutomated, history[0].Trigger)

	require.True(t, h.rt.Mutate(appKey, scaleTo(7)))
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	history = h.waitOperations(t, 2)
	h.waitPhase(t, api.PhaseSynced)
	assert.Equal(t, api.TriggerSelfHeal, history[0].Trigger)
	assert.EqualValues(t, 2, replicas(t, h.rt))

	fetcher.publish("r2", guestbookDocs+"\n---\napiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: extra\ndata:\n  k: v\n")
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	history = h.waitOperations(t, 3)
	h.waitPhase(t, api.PhaseSynced)
	assert.Equal(t, api.TriggerAutomated, history[0].Trigger)
	assert.Equal(t, "r2", history[0].Revision)
	assert.NotNil(t, h.rt.Object(api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "extra"}))
	assert.Equal(t, "r2", h.status(t).SyncedRevision)
}

func TestController_PruneIsOptIn(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	legacy := api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "legacy"}
	h.rt.Put(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name":      "legacy",
			"namespace": "default",
			"labels":    map[string]interface{}{resource.TrackingLabel: "guestbook"},
		},
	}})

	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseSynced)
	assert.NotNil(t, h.rt.Object(legacy), "orphans survive a sync without prune")

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{Prune: true}))
	history := h.waitOperations(t, 2)
	h.waitPhase(t, api.PhaseSynced)
	assert.True(t, history[0].Prune)
	assert.Nil(t, h.rt.Object(legacy))
}

func TestController_PermissionDenied(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	forbidden := apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, "app", errors.New("rbac denied"))
	h.rt.InjectFault(cluster.OpCreate, appKey, forbidden, 0)

	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	history := h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseFailed)

	op := history[0]
	assert.Equal(t, api.OperationFailed, op.Status)
	outcomes := make(map[api.ResourceKey]api.ActionOutcome)
	for _, a := range op.Actions {
		outcomes[a.Key] = a.Outcome
	}
	assert.Equal(t, api.OutcomeSucceeded, outcomes[cfgKey])
	assert.Equal(t, api.OutcomeFailed, outcomes[appKey])
	assert.Equal(t, api.OutcomeSkipped, outcomes[svcKey])

	st := h.status(t)
	require.NotNil(t, st.Error)
	assert.Equal(t, api.ErrorTypeAction, st.Error.Type)
	assert.Equal(t, string(api.RuntimePermissionDenied), st.Error.Reason)

	// The failure stays visible while the revision is unchanged.
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, api.PhaseFailed, h.status(t).Phase)
}

func TestController_Rollback(t *testing.T) {
	fetcher := newFakeFetcher(guestbookDocs)
	h := newHarness(t, fetcher)
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	first := h.waitOperations(t, 1)[0]

	fetcher.publish("r2", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  mode: staging
`)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 2)
	mode, _, _ := unstructured.NestedString(h.rt.Object(cfgKey).Object, "data", "mode")
	assert.Equal(t, "staging", mode)

	require.NoError(t, h.ctrl.Rollback("guestbook", first.ID))
	history := h.waitOperations(t, 3)
	assert.Equal(t, api.TriggerRollback, history[0].Trigger)
	assert.Equal(t, "r1", history[0].Revision)
	mode, _, _ = unstructured.NestedString(h.rt.Object(cfgKey).Object, "data", "mode")
	assert.Equal(t, "prod", mode)

	err := h.ctrl.Rollback("guestbook", "missing")
	assert.True(t, api.IsNotFound(err))

	require.NoError(t, h.ctrl.UpdatePolicy("guestbook", api.SyncPolicy{Automated: true}))
	assert.ErrorIs(t, h.ctrl.Rollback("guestbook", first.ID), api.ErrRollbackAutomated)
}

func TestController_Abort(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs), cluster.WithLatency(40*time.Millisecond))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)

	assert.ErrorIs(t, h.ctrl.AbortSync("guestbook"), api.ErrNoOperationInProgress)

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitPhase(t, api.PhaseSyncing)
	require.NoError(t, h.ctrl.AbortSync("guestbook"))

	history := h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseFailed)
	op := history[0]
	assert.Equal(t, api.OperationFailed, op.Status)
	assert.Equal(t, "sync aborted", op.Message)

	var skipped int
	for _, a := range op.Actions {
		if a.Outcome == api.OutcomeSkipped {
			assert.Equal(t, executor.MessageAborted, a.Message)
			skipped++
		}
	}
	assert.Positive(t, skipped)
}

func TestController_HistoryIsBounded(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)

	var last string
	for i := 0; i < 7; i++ {
		require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{DryRun: true}))
		require.Eventually(t, func() bool {
			st, err := h.ctrl.GetStatus("guestbook")
			if err != nil || st.LastSyncOperation == nil || st.LastSyncOperation.ID == last {
				return false
			}
			return st.LastSyncOperation.Status.IsTerminal() && st.Phase != api.PhaseSyncing
		}, 5*time.Second, time.Millisecond)
		last = h.status(t).LastSyncOperation.ID
	}

	history, err := h.ctrl.ListHistory("guestbook", 0)
	require.NoError(t, err)
	assert.Len(t, history, 5)
	for _, op := range history {
		assert.True(t, op.DryRun)
		assert.Equal(t, api.OperationSucceeded, op.Status)
	}
	assert.Empty(t, h.rt.MutatingCalls(), "dry runs never touch the cluster")
	assert.Equal(t, api.PhaseOutOfSyncDetected, h.status(t).Phase)
	assert.Empty(t, h.status(t).SyncedRevision)
}

func TestController_EmptySourceGuard(t *testing.T) {
	fetcher := newFakeFetcher(guestbookDocs)
	h := newHarness(t, fetcher)
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 1)

	fetcher.publish("r2", "")
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{Prune: true}))
	history := h.waitOperations(t, 2)
	h.waitPhase(t, api.PhaseFailed)
	require.NotNil(t, history[0].Error)
	assert.Equal(t, api.ErrorTypeValidation, history[0].Error.Type)
	assert.Len(t, h.rt.Keys(), 3, "nothing was pruned")

	require.NoError(t, h.ctrl.UpdatePolicy("guestbook", api.SyncPolicy{AllowEmpty: true}))
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{Prune: true}))
	h.waitOperations(t, 3)
	h.waitPhase(t, api.PhaseSynced)
	assert.Empty(t, h.rt.Keys())
}

func TestController_Degraded(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	h.rt.SetHealth(appKey, api.HealthDegraded, "CrashLoopBackOff")

	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	history := h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseDegraded)
	assert.Equal(t, api.OperationDegraded, history[0].Status)
	assert.Contains(t, history[0].Message, "CrashLoopBackOff")
}

func TestController_SourceErrors(t *testing.T) {
	fetcher := newFakeFetcher(guestbookDocs)
	fetcher.fail(&api.SourceError{Reason: api.SourceUnavailable, RepoURL: "https://git.example.com/guestbook.git", Err: errors.New("connection reset")})
	h := newHarness(t, fetcher)

	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseFailed)
	st := h.status(t)
	require.NotNil(t, st.Error)
	assert.Equal(t, api.ErrorTypeSource, st.Error.Type)
	assert.Equal(t, string(api.SourceUnavailable), st.Error.Reason)

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	history := h.waitOperations(t, 1)
	assert.Equal(t, api.OperationFailed, history[0].Status)
	assert.Empty(t, history[0].Actions)
	assert.Empty(t, h.rt.MutatingCalls())

	fetcher.fail(nil)
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	assert.Nil(t, h.status(t).Error)
}

func TestController_RemoveApplication(t *testing.T) {
	t.Run("orphan keeps live resources", func(t *testing.T) {
		h := newHarness(t, newFakeFetcher(guestbookDocs))
		require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{Automated: true})))
		h.waitOperations(t, 1)

		require.NoError(t, h.ctrl.RemoveApplication("guestbook", api.TeardownOrphan))
		_, err := h.ctrl.GetStatus("guestbook")
		assert.True(t, api.IsNotFound(err))
		assert.Len(t, h.rt.Keys(), 3)
	})

	t.Run("cascade deletes live resources", func(t *testing.T) {
		h := newHarness(t, newFakeFetcher(guestbookDocs))
		require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{Automated: true})))
		h.waitOperations(t, 1)
		h.rt.ResetCalls()

		require.NoError(t, h.ctrl.RemoveApplication("guestbook", api.TeardownCascade))
		assert.Empty(t, h.rt.Keys())

		var deleted []api.ResourceKey
		for _, c := range h.rt.MutatingCalls() {
			assert.Equal(t, cluster.OpDelete, c.Op)
			deleted = append(deleted, c.Key)
		}
		assert.Equal(t, []api.ResourceKey{svcKey, appKey, cfgKey}, deleted, "deletes run in reverse order")
		assert.Empty(t, h.ctrl.ListApplications())
	})

	t.Run("failed cascade keeps the application", func(t *testing.T) {
		h := newHarness(t, newFakeFetcher(guestbookDocs))
		require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
		h.waitPhase(t, api.PhaseOutOfSyncDetected)
		require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
		h.waitOperations(t, 1)

		forbidden := apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, "app", errors.New("rbac denied"))
		h.rt.InjectFault(cluster.OpDelete, appKey, forbidden, 0)
		err := h.ctrl.RemoveApplication("guestbook", api.TeardownCascade)
		require.Error(t, err)

		st := h.status(t)
		assert.Equal(t, api.PhaseFailed, st.Phase)
		assert.Equal(t, api.TriggerTeardown, st.LastSyncOperation.Trigger)

		h.rt.ClearFaults()
		require.NoError(t, h.ctrl.RemoveApplication("guestbook", api.TeardownCascade))
		assert.Empty(t, h.rt.Keys())
	})
}

const extraKindsDocs = `
---
apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRole
metadata:
  name: reader
rules:
- apiGroups: [""]
  resources: [configmaps]
  verbs: [get, list]
---
apiVersion: policy/v1
kind: PodDisruptionBudget
metadata:
  name: app-pdb
spec:
  minAvailable: 1
  selector:
    matchLabels: {app: web}
`

var (
	roleKey = api.ResourceKey{Kind: "ClusterRole", Name: "reader"}
	pdbKey  = api.ResourceKey{Kind: "PodDisruptionBudget", Namespace: "default", Name: "app-pdb"}
)

// syncWithExtraKinds syncs guestbook plus kinds that are not listed by
// default, then publishes r2 without them.
func syncWithExtraKinds(t *testing.T, h *harness) {
	t.Helper()
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{Prune: true})))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	h.waitOperations(t, 1)
	h.waitPhase(t, api.PhaseSynced)
	require.NotNil(t, h.rt.Object(roleKey))
	require.NotNil(t, h.rt.Object(pdbKey))

	h.fetcher.publish("r2", guestbookDocs)
	require.NoError(t, h.ctrl.Refresh("guestbook"))
	h.waitPhase(t, api.PhaseOutOfSyncDetected)
}

func TestController_KindsLeavingDesiredStateAreOrphaned(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs+extraKindsDocs))
	syncWithExtraKinds(t, h)

	diffs, err := h.ctrl.GetDiff("guestbook")
	require.NoError(t, err)
	statuses := make(map[api.ResourceKey]api.DiffStatus)
	for _, d := range diffs {
		statuses[d.Key] = d.Status
	}
	assert.Equal(t, api.DiffOrphaned, statuses[roleKey])
	assert.Equal(t, api.DiffOrphaned, statuses[pdbKey])
	assert.Equal(t, api.DiffInSync, statuses[appKey])

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{Prune: true}))
	h.waitOperations(t, 2)
	h.waitPhase(t, api.PhaseSynced)
	assert.Nil(t, h.rt.Object(roleKey))
	assert.Nil(t, h.rt.Object(pdbKey))
	assert.NotNil(t, h.rt.Object(appKey))
}

func TestController_CascadeRemovesKindsNoLongerDesired(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs+extraKindsDocs))
	syncWithExtraKinds(t, h)

	require.NoError(t, h.ctrl.RemoveApplication("guestbook", api.TeardownCascade))
	assert.Empty(t, h.rt.Keys())
}

func TestController_RegistrationErrors(t *testing.T) {
	h := newHarness(t, newFakeFetcher(guestbookDocs))
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))

	err := h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{}))
	assert.ErrorIs(t, err, api.ErrAlreadyRegistered)

	other := guestbook(api.SyncPolicy{})
	other.Name = "other"
	other.Destination.Cluster = "production"
	assert.True(t, api.IsValidationError(h.ctrl.RegisterApplication(other)))

	invalid := guestbook(api.SyncPolicy{})
	invalid.Name = "Not_A_Label"
	assert.True(t, api.IsValidationError(h.ctrl.RegisterApplication(invalid)))

	assert.True(t, api.IsNotFound(h.ctrl.TriggerSync("missing", api.TriggerOptions{})))
	assert.True(t, api.IsNotFound(h.ctrl.Refresh("missing")))
	assert.True(t, api.IsValidationError(h.ctrl.RemoveApplication("guestbook", "shred")))
}

func TestController_TriggerQueueFull(t *testing.T) {
	rt := cluster.NewMemoryRuntime(clusterName)
	clusters := cluster.NewRegistry()
	clusters.Register(clusterName, rt)
	metrics := NewMetrics(prometheus.NewRegistry())

	cfg := testConfig()
	cfg.TriggerBuffer = 1
	ctrl := New(cfg, Dependencies{Fetcher: newFakeFetcher(guestbookDocs), Clusters: clusters, Metrics: metrics})
	require.NoError(t, ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))

	// Nothing drains the channel before Start.
	require.NoError(t, ctrl.TriggerSync("guestbook", api.TriggerOptions{}))
	assert.ErrorIs(t, ctrl.TriggerSync("guestbook", api.TriggerOptions{}), api.ErrTriggerQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.rejected))

	require.NoError(t, ctrl.Stop())
	assert.ErrorIs(t, ctrl.TriggerSync("guestbook", api.TriggerOptions{}), api.ErrControllerStopped)
	assert.ErrorIs(t, ctrl.RemoveApplication("guestbook", api.TeardownOrphan), api.ErrControllerStopped)
}

func TestController_SyncAtRevision(t *testing.T) {
	gm := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(gm)

	var mu sync.Mutex
	var requested []string
	fetcher.EXPECT().FetchDesired(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, app api.Application) (*source.Snapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			requested = append(requested, app.Source.TargetRevision)
			return &source.Snapshot{Revision: "v-" + app.Source.TargetRevision, FetchedAt: time.Now()}, nil
		}).AnyTimes()

	h := newHarness(t, fetcher)
	require.NoError(t, h.ctrl.RegisterApplication(guestbook(api.SyncPolicy{})))
	h.waitPhase(t, api.PhaseSynced)

	require.NoError(t, h.ctrl.TriggerSync("guestbook", api.TriggerOptions{Revision: "abc123"}))
	history := h.waitOperations(t, 1)
	assert.Equal(t, "v-abc123", history[0].Revision)
	assert.Equal(t, "nothing to do", history[0].Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"HEAD", "abc123"}, requested)
}
