// Package dependency provides a small directed graph used to order sync
// actions.
//
// # Core Concepts
//
// Graph: a directed graph whose nodes are identified by NodeID. An edge from
// A to B means A depends on B, so B must be handled first.
//
// Node: a vertex with its ID and the IDs it depends on.
//
// # Operations
//
// AddNode / AddEdge: build the graph. Dependencies on IDs that are never
// added are tolerated and ignored when ordering.
//
// Levels: group nodes into waves so every node only depends on earlier
// waves. Nodes inside a wave are sorted, which keeps plans deterministic.
// A cycle yields a *CycleError naming one offending loop.
//
// Dependents / TransitiveDependents: find what must be skipped when a node
// fails.
//
// # Usage Example
//
//	g := dependency.New()
//	g.AddNode(dependency.Node{ID: "ConfigMap/default/settings"})
//	g.AddEdge("Deployment/default/app", "ConfigMap/default/settings")
//
//	levels, err := g.Levels()
//	// levels: [[ConfigMap/default/settings] [Deployment/default/app]]
//
// # Thread Safety
//
// The Graph type is not thread-safe. The planner builds one graph per plan
// and never shares it.
package dependency
