package diff

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"gitsync/internal/api"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

// Options tunes Compare.
type Options struct {
	// Prune reports live resources without a desired counterpart as Orphaned.
	Prune bool

	// Application is stamped into the tracking label of patches.
	Application string
}

// ResourceDiff is the comparison result for one resource key.
type ResourceDiff struct {
	Key    api.ResourceKey
	Status api.DiffStatus

	// Patch is a JSON merge patch turning live into desired. Set for
	// OutOfSync resources that can be updated in place.
	Patch []byte

	// Replace is set when an immutable field changed; ImmutableFields names
	// the offending paths.
	Replace         bool
	ImmutableFields []string

	// Text is a human readable diff of the projections, live to desired.
	Text string

	Desired *resource.Desired
	Live    *resource.Live
}

// Summary returns the serializable form of d.
func (d ResourceDiff) Summary() api.DiffSummary {
	s := api.DiffSummary{
		Key:     d.Key,
		Status:  d.Status,
		Replace: d.Replace,
		Diff:    d.Text,
	}
	if len(d.ImmutableFields) > 0 {
		s.ImmutableFields = append([]string(nil), d.ImmutableFields...)
	}
	return s
}

// Summaries converts a diff list.
func Summaries(diffs []ResourceDiff) []api.DiffSummary {
	out := make([]api.DiffSummary, len(diffs))
	for i, d := range diffs {
		out[i] = d.Summary()
	}
	return out
}

// Drifted reports whether any diff requires a change.
func Drifted(diffs []ResourceDiff) bool {
	for _, d := range diffs {
		if d.Status != api.DiffInSync {
			return true
		}
	}
	return false
}

var cmpOptions = []cmp.Option{cmpopts.EquateEmpty()}

// Compare matches desired and live resources by key and classifies each
// pair. The result is sorted by kind, namespace and name, and is identical
// for identical inputs.
func Compare(desired []resource.Desired, live []resource.Live, opts Options) []ResourceDiff {
	liveByKey := make(map[api.ResourceKey]int, len(live))
	for i := range live {
		liveByKey[live[i].Key] = i
	}

	out := make([]ResourceDiff, 0, len(desired)+len(live))
	seen := make(map[api.ResourceKey]bool, len(desired))
	for i := range desired {
		d := &desired[i]
		seen[d.Key] = true
		li, ok := liveByKey[d.Key]
		if !ok {
			out = append(out, ResourceDiff{Key: d.Key, Status: api.DiffMissing, Desired: d})
			continue
		}
		out = append(out, compareOne(d, &live[li], opts))
	}

	if opts.Prune {
		for i := range live {
			l := &live[i]
			if seen[l.Key] {
				continue
			}
			out = append(out, ResourceDiff{Key: l.Key, Status: api.DiffOrphaned, Live: l})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

func compareOne(d *resource.Desired, l *resource.Live, opts Options) ResourceDiff {
	rd := ResourceDiff{Key: d.Key, Desired: d, Live: l}
	dp, lp := project(d.Object, l.Object)
	if cmp.Equal(lp, dp, cmpOptions...) {
		rd.Status = api.DiffInSync
		return rd
	}

	rd.Status = api.DiffOutOfSync
	rd.Text = cmp.Diff(lp, dp, cmpOptions...)
	rd.ImmutableFields = immutableChanges(d.Object, l.Object, dp, lp)
	if len(rd.ImmutableFields) > 0 {
		rd.Replace = true
		return rd
	}

	patch, err := mergePatch(d.Object, l.Object, opts.Application)
	if err != nil {
		// Only a corrupt last-applied annotation gets here.
		logging.Warn("Diff", "Failed to compute merge patch for %s, sending full payload: %v", d.Key, err)
		patch, _ = json.Marshal(d.Object.Object)
	}
	rd.Patch = patch
	return rd
}

// mergePatch builds a JSON merge patch that sets every desired field and
// removes fields that were applied last time but are no longer desired.
func mergePatch(desired, live *unstructured.Unstructured, app string) ([]byte, error) {
	applied, err := resource.ForApply(desired, app)
	if err != nil {
		return nil, err
	}
	appliedJSON, err := json.Marshal(applied.Object)
	if err != nil {
		return nil, err
	}

	lastApplied := resource.LastApplied(live)
	if lastApplied == nil {
		return appliedJSON, nil
	}
	desiredJSON, err := resource.Canonical(desired)
	if err != nil {
		return nil, err
	}
	removals, err := jsonpatch.CreateMergePatch(lastApplied, desiredJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to diff against last applied configuration: %w", err)
	}
	return jsonpatch.MergeMergePatches(removals, appliedJSON)
}

var workloadKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
	"ReplicaSet":  true,
}

// immutableChanges lists fields that differ but cannot be updated in place.
func immutableChanges(desired, live *unstructured.Unstructured, dp, lp projection) []string {
	var fields []string
	kind := desired.GetKind()
	changed := func(path ...string) bool {
		dv, _, _ := unstructured.NestedFieldNoCopy(desired.Object, path...)
		if dv == nil {
			return false
		}
		lv, _, _ := unstructured.NestedFieldNoCopy(live.Object, path...)
		return !equality.Semantic.DeepEqual(dv, subset(dv, lv))
	}

	if workloadKinds[kind] && changed("spec", "selector") {
		fields = append(fields, "spec.selector")
	}
	switch kind {
	case "StatefulSet":
		if changed("spec", "serviceName") {
			fields = append(fields, "spec.serviceName")
		}
		if changed("spec", "volumeClaimTemplates") {
			fields = append(fields, "spec.volumeClaimTemplates")
		}
	case "Job":
		if changed("spec", "template") {
			fields = append(fields, "spec.template")
		}
	case "Service":
		if ip, _, _ := unstructured.NestedString(desired.Object, "spec", "clusterIP"); ip != "" && changed("spec", "clusterIP") {
			fields = append(fields, "spec.clusterIP")
		}
	case "ConfigMap":
		d, dok := dp.(configMapProjection)
		l, lok := lp.(configMapProjection)
		if dok && lok && l.Immutable &&
			(!cmp.Equal(d.Data, l.Data, cmpOptions...) || !cmp.Equal(d.BinaryData, l.BinaryData, cmpOptions...)) {
			fields = append(fields, "data")
		}
	case "Secret":
		d, dok := dp.(secretProjection)
		l, lok := lp.(secretProjection)
		if dok && lok && l.Immutable && !cmp.Equal(d.Data, l.Data, cmpOptions...) {
			fields = append(fields, "data")
		}
	}
	return fields
}
