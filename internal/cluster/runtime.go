package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

// Runtime is a destination that resources are applied to. Every error it
// returns wraps an *api.RuntimeError.
type Runtime interface {
	// List returns live resources of the given kinds carrying the tracking
	// label of app, in every namespace. Kinds the destination does not serve
	// are skipped.
	List(ctx context.Context, app string, kinds []schema.GroupVersionKind) ([]resource.Live, error)

	// Get returns one live resource. A missing resource yields RuntimeNotFound.
	Get(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (*resource.Live, error)

	// Create creates obj. An existing resource yields RuntimeAlreadyExists.
	Create(ctx context.Context, obj *unstructured.Unstructured) error

	// Patch applies a JSON merge patch to the resource identified by obj.
	Patch(ctx context.Context, obj *unstructured.Unstructured, patch []byte) error

	// Delete removes a resource. Deleting a missing resource is not an error.
	Delete(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) error

	// Health fetches a resource and evaluates its readiness.
	Health(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (api.HealthStatus, string, error)
}

// Registry maps destination cluster names to runtimes.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]Runtime)}
}

// Register adds or replaces the runtime of a cluster.
func (r *Registry) Register(name string, rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[name] = rt
}

// Get returns the runtime of dest.Cluster.
func (r *Registry) Get(dest api.Destination) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[dest.Cluster]
	if !ok {
		return nil, &api.RuntimeError{
			Reason:  api.RuntimeUnreachable,
			Cluster: dest.Cluster,
			Err:     fmt.Errorf("destination cluster %q is not configured", dest.Cluster),
		}
	}
	return rt, nil
}

// Names lists the configured clusters.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runtimes))
	for n := range r.runtimes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
