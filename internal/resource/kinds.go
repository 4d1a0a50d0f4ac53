package resource

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Tiers of the fixed apply order.
const (
	TierFoundation = 0
	TierConfig     = 1
	TierWorkload   = 2
	TierNetwork    = 3
)

// KindInfo is the static knowledge gitsync has about a resource kind.
type KindInfo struct {
	GVK        schema.GroupVersionKind
	Namespaced bool
	Tier       int
}

var knownKinds = map[string]KindInfo{}

func register(group, version, kind string, namespaced bool, tier int) {
	knownKinds[kind] = KindInfo{
		GVK:        schema.GroupVersionKind{Group: group, Version: version, Kind: kind},
		Namespaced: namespaced,
		Tier:       tier,
	}
}

func init() {
	register("", "v1", "Namespace", false, TierFoundation)
	register("apiextensions.k8s.io", "v1", "CustomResourceDefinition", false, TierFoundation)

	register("", "v1", "ConfigMap", true, TierConfig)
	register("", "v1", "Secret", true, TierConfig)
	register("", "v1", "ServiceAccount", true, TierConfig)
	register("", "v1", "PersistentVolumeClaim", true, TierConfig)
	register("", "v1", "PersistentVolume", false, TierConfig)
	register("", "v1", "LimitRange", true, TierConfig)
	register("", "v1", "ResourceQuota", true, TierConfig)
	register("storage.k8s.io", "v1", "StorageClass", false, TierConfig)
	register("rbac.authorization.k8s.io", "v1", "Role", true, TierConfig)
	register("rbac.authorization.k8s.io", "v1", "RoleBinding", true, TierConfig)
	register("rbac.authorization.k8s.io", "v1", "ClusterRole", false, TierConfig)
	register("rbac.authorization.k8s.io", "v1", "ClusterRoleBinding", false, TierConfig)
	register("scheduling.k8s.io", "v1", "PriorityClass", false, TierConfig)

	register("apps", "v1", "Deployment", true, TierWorkload)
	register("apps", "v1", "StatefulSet", true, TierWorkload)
	register("apps", "v1", "DaemonSet", true, TierWorkload)
	register("apps", "v1", "ReplicaSet", true, TierWorkload)
	register("batch", "v1", "Job", true, TierWorkload)
	register("batch", "v1", "CronJob", true, TierWorkload)
	register("", "v1", "Pod", true, TierWorkload)
	register("autoscaling", "v2", "HorizontalPodAutoscaler", true, TierWorkload)
	register("policy", "v1", "PodDisruptionBudget", true, TierWorkload)

	register("", "v1", "Service", true, TierNetwork)
	register("networking.k8s.io", "v1", "Ingress", true, TierNetwork)
	register("networking.k8s.io", "v1", "IngressClass", false, TierNetwork)
	register("networking.k8s.io", "v1", "NetworkPolicy", true, TierNetwork)
}

// LookupKind returns what is known about kind. Unknown kinds are treated as
// namespaced workloads.
func LookupKind(kind string) (KindInfo, bool) {
	info, ok := knownKinds[kind]
	if !ok {
		return KindInfo{GVK: schema.GroupVersionKind{Kind: kind}, Namespaced: true, Tier: TierWorkload}, false
	}
	return info, true
}

// TierOf returns the apply tier of kind.
func TierOf(kind string) int {
	info, _ := LookupKind(kind)
	return info.Tier
}

// IsNamespaced reports whether kind lives inside a namespace.
func IsNamespaced(kind string) bool {
	info, _ := LookupKind(kind)
	return info.Namespaced
}

// IsWorkload reports whether kind carries a pod template.
func IsWorkload(kind string) bool {
	switch kind {
	case "Deployment", "StatefulSet", "DaemonSet", "ReplicaSet", "Job":
		return true
	}
	return false
}

// DefaultTrackedKinds are listed on every compare so resources that left the
// desired state can still be found as orphans.
func DefaultTrackedKinds() []schema.GroupVersionKind {
	kinds := []string{
		"Namespace", "ConfigMap", "Secret", "ServiceAccount", "PersistentVolumeClaim",
		"Role", "RoleBinding", "Deployment", "StatefulSet", "DaemonSet", "Job", "CronJob",
		"Service", "Ingress", "NetworkPolicy",
	}
	out := make([]schema.GroupVersionKind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, knownKinds[k].GVK)
	}
	return out
}
