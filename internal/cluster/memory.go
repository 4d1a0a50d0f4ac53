package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/api/equality"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

// Op names a runtime operation, used for fault injection and call records.
type Op string

const (
	OpList   Op = "List"
	OpGet    Op = "Get"
	OpCreate Op = "Create"
	OpPatch  Op = "Patch"
	OpDelete Op = "Delete"
	OpHealth Op = "Health"
)

// Call records one runtime invocation.
type Call struct {
	Op  Op
	Key api.ResourceKey
	At  time.Time
}

type fault struct {
	err       error
	remaining int // <= 0 means forever
}

type faultKey struct {
	op  Op
	key api.ResourceKey
}

type healthOverride struct {
	status  api.HealthStatus
	message string
}

// MemoryRuntime is an in-process destination. It keeps objects in a map,
// simulates controllers filling in status so resources become healthy, and
// supports fault injection. It backs the "memory" cluster type and tests.
type MemoryRuntime struct {
	cluster string

	mu          sync.Mutex
	objects     map[api.ResourceKey]*unstructured.Unstructured
	readyAt     map[api.ResourceKey]time.Time
	overrides   map[api.ResourceKey]healthOverride
	faults      map[faultKey]*fault
	unserved    map[string]bool
	unreachable bool
	calls       []Call
	resourceVer int64

	readyDelay time.Duration
	latency    time.Duration

	inFlight    int
	maxInFlight int
}

// MemoryOption configures a MemoryRuntime.
type MemoryOption func(*MemoryRuntime)

// WithReadyDelay keeps created or updated resources Progressing for d.
func WithReadyDelay(d time.Duration) MemoryOption {
	return func(m *MemoryRuntime) { m.readyDelay = d }
}

// WithLatency delays every call by d, honouring context cancellation.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *MemoryRuntime) { m.latency = d }
}

// NewMemoryRuntime creates an empty in-memory destination.
func NewMemoryRuntime(cluster string, opts ...MemoryOption) *MemoryRuntime {
	m := &MemoryRuntime{
		cluster:   cluster,
		objects:   make(map[api.ResourceKey]*unstructured.Unstructured),
		readyAt:   make(map[api.ResourceKey]time.Time),
		overrides: make(map[api.ResourceKey]healthOverride),
		faults:    make(map[faultKey]*fault),
		unserved:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InjectFault makes the next times calls of op on key fail with err. A zero
// key matches every resource. times <= 0 fails forever. Errors that are not
// runtime errors are classified as Rejected.
func (m *MemoryRuntime) InjectFault(op Op, key api.ResourceKey, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[faultKey{op: op, key: key}] = &fault{err: err, remaining: times}
}

// ClearFaults removes all injected faults.
func (m *MemoryRuntime) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[faultKey]*fault)
}

// SetUnreachable makes every call fail with Unreachable while on.
func (m *MemoryRuntime) SetUnreachable(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = on
}

// Unserve makes the destination behave as if kind was not installed.
func (m *MemoryRuntime) Unserve(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unserved[kind] = true
}

// SetHealth pins the health reported for key until cleared with an empty
// status.
func (m *MemoryRuntime) SetHealth(key api.ResourceKey, status api.HealthStatus, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == "" {
		delete(m.overrides, key)
		return
	}
	m.overrides[key] = healthOverride{status: status, message: message}
}

// Put stores obj as is, bypassing call records and faults. It seeds live state
// that gitsync did not create.
func (m *MemoryRuntime) Put(obj *unstructured.Unstructured) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := obj.DeepCopy()
	m.stampNew(stored)
	m.objects[resource.KeyOf(stored)] = stored
}

// Mutate edits a stored object in place, simulating out-of-band changes.
func (m *MemoryRuntime) Mutate(key api.ResourceKey, fn func(obj *unstructured.Unstructured)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return false
	}
	before := obj.DeepCopy()
	fn(obj)
	m.bumpVersion(before, obj)
	return true
}

// Object returns a copy of the stored object, or nil.
func (m *MemoryRuntime) Object(key api.ResourceKey) *unstructured.Unstructured {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil
	}
	m.materialize(key, obj)
	return obj.DeepCopy()
}

// Keys returns the keys of all stored objects, sorted.
func (m *MemoryRuntime) Keys() []api.ResourceKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]api.ResourceKey, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Calls returns the recorded calls in order.
func (m *MemoryRuntime) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MutatingCalls returns recorded Create, Patch and Delete calls in order.
func (m *MemoryRuntime) MutatingCalls() []Call {
	var out []Call
	for _, c := range m.Calls() {
		switch c.Op {
		case OpCreate, OpPatch, OpDelete:
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call record.
func (m *MemoryRuntime) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.maxInFlight = 0
}

// MaxInFlight is the highest number of concurrent calls seen since the last
// ResetCalls.
func (m *MemoryRuntime) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// enter records a call and applies latency and faults. When it returns an
// error the call is already finished; otherwise the caller must leave.
func (m *MemoryRuntime) enter(ctx context.Context, op Op, key api.ResourceKey) error {
	err := m.admit(ctx, op, key)
	if err != nil {
		m.leave()
	}
	return err
}

func (m *MemoryRuntime) admit(ctx context.Context, op Op, key api.ResourceKey) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.calls = append(m.calls, Call{Op: op, Key: key, At: time.Now()})
	m.mu.Unlock()

	if m.latency > 0 {
		t := time.NewTimer(m.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return classifyError(ctx.Err(), m.cluster, &key)
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return classifyError(err, m.cluster, &key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return api.NewRuntimeError(api.RuntimeUnreachable, m.cluster, &key, errors.New("connection refused"))
	}
	if key.Kind != "" && m.unserved[key.Kind] {
		return api.NewRuntimeError(api.RuntimeUnknownKind, m.cluster, &key, fmt.Errorf("no matches for kind %q", key.Kind))
	}
	for _, fk := range []faultKey{{op: op, key: key}, {op: op}} {
		f, ok := m.faults[fk]
		if !ok {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(m.faults, fk)
			}
		}
		return classifyError(f.err, m.cluster, &key)
	}
	return nil
}

func (m *MemoryRuntime) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *MemoryRuntime) List(ctx context.Context, app string, kinds []schema.GroupVersionKind) ([]resource.Live, error) {
	if err := m.enter(ctx, OpList, api.ResourceKey{}); err != nil {
		return nil, err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(kinds))
	for _, gvk := range kinds {
		if !m.unserved[gvk.Kind] {
			wanted[gvk.Kind] = true
		}
	}
	var out []resource.Live
	for key, obj := range m.objects {
		if !wanted[key.Kind] || obj.GetLabels()[resource.TrackingLabel] != app {
			continue
		}
		m.materialize(key, obj)
		out = append(out, resource.NewLive(obj.DeepCopy()))
	}
	resource.SortLive(out)
	return out, nil
}

func (m *MemoryRuntime) Get(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (*resource.Live, error) {
	if err := m.enter(ctx, OpGet, key); err != nil {
		return nil, err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, api.NewRuntimeError(api.RuntimeNotFound, m.cluster, &key, fmt.Errorf("%s not found", key))
	}
	m.materialize(key, obj)
	live := resource.NewLive(obj.DeepCopy())
	return &live, nil
}

func (m *MemoryRuntime) Create(ctx context.Context, obj *unstructured.Unstructured) error {
	key := resource.KeyOf(obj)
	if err := m.enter(ctx, OpCreate, key); err != nil {
		return err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists {
		return api.NewRuntimeError(api.RuntimeAlreadyExists, m.cluster, &key, fmt.Errorf("%s already exists", key))
	}
	stored := obj.DeepCopy()
	unstructured.RemoveNestedField(stored.Object, "status")
	m.stampNew(stored)
	m.objects[key] = stored
	m.scheduleReady(key, stored)
	return nil
}

func (m *MemoryRuntime) Patch(ctx context.Context, obj *unstructured.Unstructured, patch []byte) error {
	key := resource.KeyOf(obj)
	if err := m.enter(ctx, OpPatch, key); err != nil {
		return err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.objects[key]
	if !ok {
		return api.NewRuntimeError(api.RuntimeNotFound, m.cluster, &key, fmt.Errorf("%s not found", key))
	}
	doc, err := json.Marshal(current.Object)
	if err != nil {
		return api.NewRuntimeError(api.RuntimeRejected, m.cluster, &key, err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return api.NewRuntimeError(api.RuntimeRejected, m.cluster, &key, fmt.Errorf("invalid merge patch: %w", err))
	}
	updated := &unstructured.Unstructured{}
	if err := updated.UnmarshalJSON(merged); err != nil {
		return api.NewRuntimeError(api.RuntimeRejected, m.cluster, &key, err)
	}
	if m.bumpVersion(current, updated) {
		m.scheduleReady(key, updated)
	}
	m.objects[key] = updated
	return nil
}

func (m *MemoryRuntime) Delete(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) error {
	if err := m.enter(ctx, OpDelete, key); err != nil {
		return err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.readyAt, key)
	if key.Kind == "Namespace" {
		for k := range m.objects {
			if k.Namespace == key.Name {
				delete(m.objects, k)
				delete(m.readyAt, k)
			}
		}
	}
	return nil
}

func (m *MemoryRuntime) Health(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (api.HealthStatus, string, error) {
	if err := m.enter(ctx, OpHealth, key); err != nil {
		return api.HealthUnknown, "", err
	}
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.overrides[key]; ok {
		return o.status, o.message, nil
	}
	obj, ok := m.objects[key]
	if !ok {
		return api.HealthMissing, "resource not found", nil
	}
	m.materialize(key, obj)
	status, msg := EvaluateHealth(resource.NewLive(obj.DeepCopy()))
	return status, msg, nil
}

// stampNew fills in server-populated metadata. Callers hold m.mu.
func (m *MemoryRuntime) stampNew(obj *unstructured.Unstructured) {
	m.resourceVer++
	if obj.GetUID() == "" {
		obj.SetUID(types.UID(uuid.NewString()))
	}
	obj.SetResourceVersion(strconv.FormatInt(m.resourceVer, 10))
	if obj.GetGeneration() == 0 {
		obj.SetGeneration(1)
	}
	if ts := obj.GetCreationTimestamp(); ts.IsZero() {
		obj.SetCreationTimestamp(metav1.Now())
	}
}

// bumpVersion advances resourceVersion, and generation when anything but
// metadata or status changed. It reports whether the generation moved.
// Callers hold m.mu.
func (m *MemoryRuntime) bumpVersion(before, after *unstructured.Unstructured) bool {
	m.resourceVer++
	after.SetResourceVersion(strconv.FormatInt(m.resourceVer, 10))
	after.SetUID(before.GetUID())
	after.SetCreationTimestamp(before.GetCreationTimestamp())

	if equality.Semantic.DeepEqual(specOf(before), specOf(after)) {
		after.SetGeneration(before.GetGeneration())
		return false
	}
	after.SetGeneration(before.GetGeneration() + 1)
	return true
}

func specOf(obj *unstructured.Unstructured) map[string]interface{} {
	out := make(map[string]interface{}, len(obj.Object))
	for k, v := range obj.Object {
		if k == "metadata" || k == "status" {
			continue
		}
		out[k] = v
	}
	return out
}

// scheduleReady marks when the simulated controller catches up. Callers
// hold m.mu.
func (m *MemoryRuntime) scheduleReady(key api.ResourceKey, obj *unstructured.Unstructured) {
	if m.readyDelay <= 0 {
		simulateReadyStatus(obj)
		delete(m.readyAt, key)
		return
	}
	m.readyAt[key] = time.Now().Add(m.readyDelay)
}

// materialize applies a pending ready status once its time has come. Callers
// hold m.mu.
func (m *MemoryRuntime) materialize(key api.ResourceKey, obj *unstructured.Unstructured) {
	at, pending := m.readyAt[key]
	if !pending || time.Now().Before(at) {
		return
	}
	simulateReadyStatus(obj)
	delete(m.readyAt, key)
}

// simulateReadyStatus writes the status a healthy controller would report.
func simulateReadyStatus(obj *unstructured.Unstructured) {
	gen := obj.GetGeneration()
	replicas, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if !found {
		replicas = 1
	}
	var status map[string]interface{}
	switch obj.GetKind() {
	case "Deployment":
		status = map[string]interface{}{
			"observedGeneration": gen,
			"replicas":           replicas,
			"updatedReplicas":    replicas,
			"readyReplicas":      replicas,
			"availableReplicas":  replicas,
		}
	case "StatefulSet":
		status = map[string]interface{}{
			"observedGeneration": gen,
			"replicas":           replicas,
			"readyReplicas":      replicas,
			"currentRevision":    "rev-" + strconv.FormatInt(gen, 10),
			"updateRevision":     "rev-" + strconv.FormatInt(gen, 10),
		}
	case "DaemonSet":
		status = map[string]interface{}{
			"observedGeneration":     gen,
			"desiredNumberScheduled": int64(1),
			"updatedNumberScheduled": int64(1),
			"numberAvailable":        int64(1),
			"numberReady":            int64(1),
		}
	case "Job":
		status = map[string]interface{}{
			"succeeded":  int64(1),
			"conditions": []interface{}{map[string]interface{}{"type": "Complete", "status": "True"}},
		}
	case "Pod":
		status = map[string]interface{}{
			"phase":      "Running",
			"conditions": []interface{}{map[string]interface{}{"type": "Ready", "status": "True"}},
		}
	case "PersistentVolumeClaim":
		status = map[string]interface{}{"phase": "Bound"}
	case "Namespace":
		status = map[string]interface{}{"phase": "Active"}
	case "CustomResourceDefinition":
		status = map[string]interface{}{
			"conditions": []interface{}{map[string]interface{}{"type": "Established", "status": "True"}},
		}
	case "Service", "Ingress":
		status = map[string]interface{}{
			"loadBalancer": map[string]interface{}{
				"ingress": []interface{}{map[string]interface{}{"ip": "10.0.0.1"}},
			},
		}
	default:
		return
	}
	_ = unstructured.SetNestedMap(obj.Object, status, "status")
}
