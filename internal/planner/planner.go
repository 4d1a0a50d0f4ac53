package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"gitsync/internal/api"
	"gitsync/internal/dependency"
	"gitsync/internal/diff"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

// Options tunes Plan.
type Options struct {
	// AllowDestructive turns Orphaned diffs into Delete actions. Without it
	// orphans are left alone.
	AllowDestructive bool
}

// Step pairs an action with the diff it was planned from.
type Step struct {
	Action api.Action
	Diff   diff.ResourceDiff
}

// Plan is an ordered list of steps grouped into waves. Action IDs start at 1
// and follow the order of Steps; Waves holds action IDs.
type Plan struct {
	Steps []Step
	Waves [][]int
}

// Empty reports whether there is nothing to do.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

// Actions returns copies of the planned actions in order.
func (p *Plan) Actions() []api.Action {
	if p == nil {
		return nil
	}
	out := make([]api.Action, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Action.DeepCopy()
	}
	return out
}

// Step returns the step of the action with the given ID.
func (p *Plan) Step(id int) *Step {
	return &p.Steps[id-1]
}

// Build orders the changes in diffs. Apply actions (Create, Update, Replace)
// run tier by tier from foundation to network exposure; Delete actions then
// run in reverse tier order. Inside a tier, declared references split the
// actions into dependency waves. A cycle, or a reference to a resource of a
// later tier, fails with a CyclicDependency PlanError.
func Build(diffs []diff.ResourceDiff, opts Options) (*Plan, error) {
	var apply, prune []diff.ResourceDiff
	for _, d := range diffs {
		switch d.Status {
		case api.DiffMissing, api.DiffOutOfSync:
			apply = append(apply, d)
		case api.DiffOrphaned:
			if opts.AllowDestructive {
				prune = append(prune, d)
			}
		}
	}

	b := &builder{}
	if err := b.phase(apply, false); err != nil {
		return nil, err
	}
	if err := b.phase(prune, true); err != nil {
		return nil, err
	}
	return &b.plan, nil
}

type builder struct {
	plan Plan
}

type node struct {
	diff diff.ResourceDiff
	obj  *unstructured.Unstructured
	tier int
	deps []api.ResourceKey
}

func actionType(d diff.ResourceDiff) api.ActionType {
	switch {
	case d.Status == api.DiffMissing:
		return api.ActionCreate
	case d.Status == api.DiffOrphaned:
		return api.ActionDelete
	case d.Replace:
		return api.ActionReplace
	default:
		return api.ActionUpdate
	}
}

func payload(d diff.ResourceDiff) *unstructured.Unstructured {
	if d.Desired != nil {
		return d.Desired.Object
	}
	if d.Live != nil {
		return d.Live.Object
	}
	return nil
}

// phase appends the waves of one phase. In the prune phase tiers run in
// reverse and edges are reversed, so dependents are removed first.
func (b *builder) phase(diffs []diff.ResourceDiff, reverse bool) error {
	if len(diffs) == 0 {
		return nil
	}

	nodes := make(map[api.ResourceKey]*node, len(diffs))
	keys := make([]api.ResourceKey, 0, len(diffs))
	objects := make([]*unstructured.Unstructured, 0, len(diffs))
	for _, d := range diffs {
		n := &node{diff: d, obj: payload(d), tier: resource.TierOf(d.Key.Kind)}
		nodes[d.Key] = n
		keys = append(keys, d.Key)
		if n.obj != nil {
			objects = append(objects, n.obj)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, key := range keys {
		n := nodes[key]
		if n.obj == nil {
			continue
		}
		refs, invalid := references(n.obj, objects)
		for _, msg := range invalid {
			logging.Warn("Planner", "Ignoring invalid %s annotation on %s: %s", resource.DependsOnAnnotation, key, msg)
		}
		seen := map[api.ResourceKey]bool{}
		for _, ref := range refs {
			target, ok := nodes[ref]
			if !ok || ref == key || seen[ref] {
				continue
			}
			seen[ref] = true
			if target.tier > n.tier {
				return &api.PlanError{
					Reason:  api.CyclicDependency,
					Cycle:   []api.ResourceKey{key, ref},
					Message: fmt.Sprintf("%s (tier %d) depends on %s of later tier %d", key, n.tier, ref, target.tier),
				}
			}
			n.deps = append(n.deps, ref)
		}
	}

	tiers := make(map[int][]api.ResourceKey)
	for _, key := range keys {
		tiers[nodes[key].tier] = append(tiers[nodes[key].tier], key)
	}
	order := make([]int, 0, len(tiers))
	for t := range tiers {
		order = append(order, t)
	}
	sort.Ints(order)
	if reverse {
		sort.Sort(sort.Reverse(sort.IntSlice(order)))
	}

	ids := make(map[api.ResourceKey]int, len(nodes))
	for _, tier := range order {
		waves, err := tierWaves(tiers[tier], nodes, reverse)
		if err != nil {
			return err
		}
		for _, wave := range waves {
			waveIndex := len(b.plan.Waves)
			var waveIDs []int
			for _, key := range wave {
				n := nodes[key]
				id := len(b.plan.Steps) + 1
				ids[key] = id
				b.plan.Steps = append(b.plan.Steps, Step{
					Action: api.Action{
						ID:      id,
						Type:    actionType(n.diff),
						Key:     key,
						Tier:    tier,
						Wave:    waveIndex,
						Outcome: api.OutcomePending,
					},
					Diff: n.diff,
				})
				waveIDs = append(waveIDs, id)
			}
			b.plan.Waves = append(b.plan.Waves, waveIDs)
		}
	}

	// Predecessors are filled once every action of the phase has an ID.
	for key, n := range nodes {
		step := b.plan.Step(ids[key])
		var preds []int
		if reverse {
			for other, on := range nodes {
				for _, dep := range on.deps {
					if dep == key {
						preds = append(preds, ids[other])
					}
				}
			}
		} else {
			for _, dep := range n.deps {
				preds = append(preds, ids[dep])
			}
		}
		sort.Ints(preds)
		step.Action.Predecessors = preds
	}
	return nil
}

// tierWaves splits the keys of one tier into dependency levels, each sorted
// by namespace and name.
func tierWaves(keys []api.ResourceKey, nodes map[api.ResourceKey]*node, reverse bool) ([][]api.ResourceKey, error) {
	inTier := make(map[api.ResourceKey]bool, len(keys))
	byID := make(map[dependency.NodeID]api.ResourceKey, len(keys))
	g := dependency.New()
	for _, k := range keys {
		inTier[k] = true
		byID[dependency.NodeID(k.String())] = k
		g.AddNode(dependency.Node{ID: dependency.NodeID(k.String())})
	}
	for _, k := range keys {
		for _, dep := range nodes[k].deps {
			if !inTier[dep] {
				continue
			}
			if reverse {
				g.AddEdge(dependency.NodeID(dep.String()), dependency.NodeID(k.String()))
			} else {
				g.AddEdge(dependency.NodeID(k.String()), dependency.NodeID(dep.String()))
			}
		}
	}

	levels, err := g.Levels()
	if err != nil {
		var cycleErr *dependency.CycleError
		if errors.As(err, &cycleErr) {
			cycle := make([]api.ResourceKey, len(cycleErr.Cycle))
			names := make([]string, len(cycleErr.Cycle))
			for i, id := range cycleErr.Cycle {
				cycle[i] = byID[id]
				names[i] = string(id)
			}
			return nil, &api.PlanError{
				Reason:  api.CyclicDependency,
				Cycle:   cycle,
				Message: "dependency cycle between " + strings.Join(names[:len(names)-1], ", "),
			}
		}
		return nil, err
	}

	waves := make([][]api.ResourceKey, len(levels))
	for i, level := range levels {
		wave := make([]api.ResourceKey, len(level))
		for j, id := range level {
			wave[j] = byID[id]
		}
		sort.Slice(wave, func(a, b int) bool {
			if wave[a].Namespace != wave[b].Namespace {
				return wave[a].Namespace < wave[b].Namespace
			}
			if wave[a].Name != wave[b].Name {
				return wave[a].Name < wave[b].Name
			}
			return wave[a].Kind < wave[b].Kind
		})
		waves[i] = wave
	}
	return waves, nil
}
