// Package planner turns a diff into an ordered plan of actions.
//
// Resources are ordered by fixed tiers: namespaces and CRDs first, then
// configuration and identity, then workloads, then network exposure.
// Declared references between resources of the same plan (volumes and env
// sources of pod templates, ingress backends, RBAC bindings, service
// selectors, namespaces and the gitsync.io/depends-on annotation) split a
// tier into waves. Deletes run after all applies, in reverse order.
package planner
