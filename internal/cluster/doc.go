// Package cluster abstracts the destinations applications are synced to.
//
// A Runtime lists, reads, creates, patches and deletes resources and reports
// their health. KubernetesRuntime talks to an API server through the
// controller-runtime client. MemoryRuntime keeps objects in process and is
// used for the "memory" cluster type and in tests, where its fault injection
// and call records make failure scenarios reproducible.
//
// Every error crossing the Runtime boundary is an *api.RuntimeError whose
// Reason tells callers whether a retry can help.
package cluster
