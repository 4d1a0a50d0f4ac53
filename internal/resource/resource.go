package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"gitsync/internal/api"
)

const (
	// TrackingLabel marks live resources owned by an application. Its value
	// is the application name.
	TrackingLabel = "app.gitsync.io/instance"

	// LastAppliedAnnotation stores the desired payload of the last apply, used
	// to compute which fields to remove on the next update.
	LastAppliedAnnotation = "gitsync.io/last-applied-configuration"

	// DependsOnAnnotation declares explicit ordering edges as a comma separated
	// list of Kind/namespace/name (or Kind/name for cluster-scoped kinds).
	DependsOnAnnotation = "gitsync.io/depends-on"
)

// Desired is one resource as declared in the source. It is immutable once
// fetched.
type Desired struct {
	Key        api.ResourceKey
	APIVersion string
	Object     *unstructured.Unstructured

	// Hash is the sha256 of the canonical JSON form of Object.
	Hash string

	SourcePath string
	Index      int
}

// GVK returns the group, version and kind of the resource.
func (d Desired) GVK() schema.GroupVersionKind {
	return d.Object.GroupVersionKind()
}

// Live is one resource as observed in the destination.
type Live struct {
	Key                api.ResourceKey
	Object             *unstructured.Unstructured
	Generation         int64
	ObservedGeneration int64
}

// GVK returns the group, version and kind of the resource.
func (l Live) GVK() schema.GroupVersionKind {
	return l.Object.GroupVersionKind()
}

// Status returns the status subtree, or nil.
func (l Live) Status() map[string]interface{} {
	status, _, _ := unstructured.NestedMap(l.Object.Object, "status")
	return status
}

// KeyOf builds the key of obj.
func KeyOf(obj *unstructured.Unstructured) api.ResourceKey {
	return api.ResourceKey{Kind: obj.GetKind(), Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// NewDesired validates obj and computes its hash. defaultNamespace is applied
// to namespaced kinds without a namespace.
func NewDesired(obj *unstructured.Unstructured, defaultNamespace, sourcePath string, index int) (Desired, error) {
	if obj.GetAPIVersion() == "" {
		return Desired{}, fmt.Errorf("apiVersion is required")
	}
	if obj.GetKind() == "" {
		return Desired{}, fmt.Errorf("kind is required")
	}
	if obj.GetName() == "" {
		return Desired{}, fmt.Errorf("metadata.name is required")
	}
	if IsNamespaced(obj.GetKind()) {
		if obj.GetNamespace() == "" {
			obj.SetNamespace(defaultNamespace)
		}
	} else if obj.GetNamespace() != "" {
		obj.SetNamespace("")
	}

	hash, err := Hash(obj)
	if err != nil {
		return Desired{}, err
	}
	return Desired{
		Key:        KeyOf(obj),
		APIVersion: obj.GetAPIVersion(),
		Object:     obj,
		Hash:       hash,
		SourcePath: sourcePath,
		Index:      index,
	}, nil
}

// NewLive wraps an observed object.
func NewLive(obj *unstructured.Unstructured) Live {
	observed, _, _ := unstructured.NestedInt64(obj.Object, "status", "observedGeneration")
	return Live{
		Key:                KeyOf(obj),
		Object:             obj,
		Generation:         obj.GetGeneration(),
		ObservedGeneration: observed,
	}
}

// Canonical returns the JSON encoding of obj with map keys sorted.
func Canonical(obj *unstructured.Unstructured) ([]byte, error) {
	return json.Marshal(obj.Object)
}

// Hash returns the hex sha256 of the canonical form of obj.
func Hash(obj *unstructured.Unstructured) (string, error) {
	data, err := Canonical(obj)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", KeyOf(obj), err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SortDesired orders resources by source path and document index.
func SortDesired(resources []Desired) {
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].SourcePath != resources[j].SourcePath {
			return resources[i].SourcePath < resources[j].SourcePath
		}
		return resources[i].Index < resources[j].Index
	})
}

// SortLive orders resources by key.
func SortLive(resources []Live) {
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Key.Less(resources[j].Key)
	})
}

// ParseKey parses Kind/namespace/name or Kind/name.
func ParseKey(s string) (api.ResourceKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			break
		}
		return api.ResourceKey{Kind: parts[0], Name: parts[1]}, nil
	case 3:
		if parts[0] == "" || parts[2] == "" {
			break
		}
		return api.ResourceKey{Kind: parts[0], Namespace: parts[1], Name: parts[2]}, nil
	}
	return api.ResourceKey{}, fmt.Errorf("invalid resource reference %q (expected Kind/namespace/name or Kind/name)", s)
}

// Strip returns a copy of obj without the fields the destination manages:
// server metadata, status and gitsync bookkeeping.
func Strip(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := obj.DeepCopy()
	unstructured.RemoveNestedField(out.Object, "status")
	for _, f := range []string{"uid", "resourceVersion", "generation", "creationTimestamp", "managedFields", "selfLink", "deletionTimestamp", "deletionGracePeriodSeconds", "ownerReferences"} {
		unstructured.RemoveNestedField(out.Object, "metadata", f)
	}

	if annotations := out.GetAnnotations(); annotations != nil {
		for k := range annotations {
			if isControllerAnnotation(k) {
				delete(annotations, k)
			}
		}
		if len(annotations) == 0 {
			unstructured.RemoveNestedField(out.Object, "metadata", "annotations")
		} else {
			out.SetAnnotations(annotations)
		}
	}
	if labels := out.GetLabels(); labels != nil {
		delete(labels, TrackingLabel)
		delete(labels, namespaceNameLabel)
		if len(labels) == 0 {
			unstructured.RemoveNestedField(out.Object, "metadata", "labels")
		} else {
			out.SetLabels(labels)
		}
	}
	return out
}

// namespaceNameLabel is set on every Namespace by the API server.
const namespaceNameLabel = "kubernetes.io/metadata.name"

func isControllerAnnotation(key string) bool {
	switch key {
	case LastAppliedAnnotation,
		"kubectl.kubernetes.io/last-applied-configuration",
		"deployment.kubernetes.io/revision":
		return true
	}
	return false
}

// ForApply returns the object that is sent to the destination: a copy of obj
// labelled with the owning application and annotated with its own canonical
// form as the last applied configuration.
func ForApply(obj *unstructured.Unstructured, app string) (*unstructured.Unstructured, error) {
	lastApplied, err := Canonical(obj)
	if err != nil {
		return nil, err
	}
	out := obj.DeepCopy()

	labels := out.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[TrackingLabel] = app
	out.SetLabels(labels)

	annotations := out.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[LastAppliedAnnotation] = string(lastApplied)
	out.SetAnnotations(annotations)
	return out, nil
}

// LastApplied returns the last applied configuration recorded on a live
// object, or nil when it carries none.
func LastApplied(obj *unstructured.Unstructured) []byte {
	if v, ok := obj.GetAnnotations()[LastAppliedAnnotation]; ok && v != "" {
		return []byte(v)
	}
	return nil
}
