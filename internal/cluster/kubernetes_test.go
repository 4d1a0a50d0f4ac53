package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

func newFakeRuntime(t *testing.T) *KubernetesRuntime {
	t.Helper()
	c := fake.NewClientBuilder().WithScheme(NewScheme()).Build()
	return NewKubernetesRuntimeWithClient("in-cluster", c)
}

func TestKubernetesRuntime_Lifecycle(t *testing.T) {
	ctx := context.Background()
	k := newFakeRuntime(t)

	obj := configMap("settings", "guestbook", map[string]interface{}{"mode": "dev"})
	key := resource.KeyOf(obj)
	require.NoError(t, k.Create(ctx, obj))
	require.NoError(t, k.Create(ctx, configMap("foreign", "other", nil)))

	err := k.Create(ctx, obj)
	assert.True(t, api.IsRuntimeReason(err, api.RuntimeAlreadyExists))

	live, err := k.List(ctx, "guestbook", []schema.GroupVersionKind{configMapGVK})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, key, live[0].Key)

	require.NoError(t, k.Patch(ctx, obj, []byte(`{"data":{"mode":"prod","extra":"1"}}`)))
	got, err := k.Get(ctx, configMapGVK, key)
	require.NoError(t, err)
	mode, _, _ := unstructured.NestedString(got.Object.Object, "data", "mode")
	assert.Equal(t, "prod", mode)

	status, _, err := k.Health(ctx, configMapGVK, key)
	require.NoError(t, err)
	assert.Equal(t, api.HealthHealthy, status)

	require.NoError(t, k.Delete(ctx, configMapGVK, key))
	require.NoError(t, k.Delete(ctx, configMapGVK, key), "deleting a missing resource is not an error")

	_, err = k.Get(ctx, configMapGVK, key)
	assert.True(t, api.IsRuntimeReason(err, api.RuntimeNotFound))

	status, _, err = k.Health(ctx, configMapGVK, key)
	require.NoError(t, err)
	assert.Equal(t, api.HealthMissing, status)
}

func TestClassifyError(t *testing.T) {
	gr := schema.GroupResource{Resource: "configmaps"}
	tests := []struct {
		name      string
		err       error
		reason    api.RuntimeReason
		transient bool
	}{
		{"not found", apierrors.NewNotFound(gr, "a"), api.RuntimeNotFound, false},
		{"already exists", apierrors.NewAlreadyExists(gr, "a"), api.RuntimeAlreadyExists, false},
		{"conflict", apierrors.NewConflict(gr, "a", errors.New("stale")), api.RuntimeConflict, true},
		{"forbidden", apierrors.NewForbidden(gr, "a", errors.New("rbac")), api.RuntimePermissionDenied, false},
		{"unauthorized", apierrors.NewUnauthorized("token expired"), api.RuntimePermissionDenied, false},
		{"throttled", apierrors.NewTooManyRequests("slow down", 1), api.RuntimeRateLimited, true},
		{"timeout", apierrors.NewTimeoutError("slow", 1), api.RuntimeTimeout, true},
		{"unavailable", apierrors.NewServiceUnavailable("down"), api.RuntimeUnreachable, true},
		{"invalid", apierrors.NewBadRequest("bad"), api.RuntimeRejected, false},
		{"deadline", context.DeadlineExceeded, api.RuntimeTimeout, true},
		{"unknown", errors.New("boom"), api.RuntimeRejected, false},
	}

	key := api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "a"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.err, "in-cluster", &key)
			var rtErr *api.RuntimeError
			require.True(t, errors.As(err, &rtErr))
			assert.Equal(t, tt.reason, rtErr.Reason)
			assert.Equal(t, tt.transient, rtErr.Transient)
			assert.Equal(t, "in-cluster", rtErr.Cluster)
		})
	}

	assert.NoError(t, classifyError(nil, "in-cluster", nil))
}
