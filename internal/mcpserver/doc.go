// Package mcpserver exposes the sync controller as Model Context Protocol
// tools over the streamable HTTP transport.
//
// # Tools
//
//   - list_applications: status of every registered application
//   - get_status: status of one application
//   - list_history: past sync operations, newest first
//   - get_operation: one operation, including the in-flight one
//   - trigger_sync: queue a manual sync (prune, dry_run, revision)
//   - abort_sync: stop dispatching the running operation
//   - rollback: re-sync the revision of a past operation
//   - refresh: queue a compare
//   - get_diff: resource diffs of the last compare
//   - list_events: recent controller events
//   - remove_application: unregister an application (orphan or cascade)
//
// Every tool resolves the controller through api.GetSyncController, so the
// server can be started before the controller is registered. Results are
// JSON documents; failures are reported as tool errors rather than protocol
// errors.
//
// The same HTTP listener also serves the Prometheus metrics handler and a
// liveness endpoint.
package mcpserver
