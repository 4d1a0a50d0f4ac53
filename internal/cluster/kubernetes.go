package cluster

import (
	"context"
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"gitsync/internal/api"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

// NewScheme returns the scheme used by Kubernetes runtimes.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	_ = apiextensionsv1.AddToScheme(scheme)
	return scheme
}

// RESTConfig builds a client configuration. inCluster takes precedence over
// kubeconfig; an empty kubeconfig uses the default loading rules.
func RESTConfig(kubeconfig, kubeContext string, inCluster bool) (*rest.Config, error) {
	if inCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg, nil
}

// KubernetesRuntime talks to a Kubernetes API server.
type KubernetesRuntime struct {
	cluster string
	client  client.Client
}

// NewKubernetesRuntime creates a runtime for the cluster behind cfg.
func NewKubernetesRuntime(cluster string, cfg *rest.Config) (*KubernetesRuntime, error) {
	c, err := client.New(cfg, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for cluster %s: %w", cluster, err)
	}
	return NewKubernetesRuntimeWithClient(cluster, c), nil
}

// NewKubernetesRuntimeWithClient wraps an existing controller-runtime client.
func NewKubernetesRuntimeWithClient(cluster string, c client.Client) *KubernetesRuntime {
	return &KubernetesRuntime{cluster: cluster, client: c}
}

func (k *KubernetesRuntime) List(ctx context.Context, app string, kinds []schema.GroupVersionKind) ([]resource.Live, error) {
	var out []resource.Live
	for _, gvk := range kinds {
		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))
		err := k.client.List(ctx, list, client.MatchingLabels{resource.TrackingLabel: app})
		if err != nil {
			if meta.IsNoMatchError(err) {
				logging.Debug("Cluster", "Skipping kind %s not served by %s", gvk.Kind, k.cluster)
				continue
			}
			return nil, classifyError(fmt.Errorf("failed to list %s: %w", gvk.Kind, err), k.cluster, nil)
		}
		for i := range list.Items {
			item := list.Items[i]
			item.SetGroupVersionKind(gvk)
			out = append(out, resource.NewLive(&item))
		}
	}
	resource.SortLive(out)
	return out, nil
}

func (k *KubernetesRuntime) Get(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (*resource.Live, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	if err := k.client.Get(ctx, types.NamespacedName{Namespace: key.Namespace, Name: key.Name}, obj); err != nil {
		return nil, classifyError(err, k.cluster, &key)
	}
	live := resource.NewLive(obj)
	return &live, nil
}

func (k *KubernetesRuntime) Create(ctx context.Context, obj *unstructured.Unstructured) error {
	key := resource.KeyOf(obj)
	return classifyError(k.client.Create(ctx, obj.DeepCopy()), k.cluster, &key)
}

func (k *KubernetesRuntime) Patch(ctx context.Context, obj *unstructured.Unstructured, patch []byte) error {
	key := resource.KeyOf(obj)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		target := &unstructured.Unstructured{}
		target.SetGroupVersionKind(obj.GroupVersionKind())
		target.SetNamespace(obj.GetNamespace())
		target.SetName(obj.GetName())
		return k.client.Patch(ctx, target, client.RawPatch(types.MergePatchType, patch))
	})
	return classifyError(err, k.cluster, &key)
}

func (k *KubernetesRuntime) Delete(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) error {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)
	err := k.client.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground))
	if err = client.IgnoreNotFound(err); err != nil {
		return classifyError(err, k.cluster, &key)
	}
	return nil
}

func (k *KubernetesRuntime) Health(ctx context.Context, gvk schema.GroupVersionKind, key api.ResourceKey) (api.HealthStatus, string, error) {
	live, err := k.Get(ctx, gvk, key)
	if err != nil {
		if api.IsRuntimeReason(err, api.RuntimeNotFound) {
			return api.HealthMissing, "resource not found", nil
		}
		return api.HealthUnknown, "", err
	}
	status, msg := EvaluateHealth(*live)
	return status, msg, nil
}
