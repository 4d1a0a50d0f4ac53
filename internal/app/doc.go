// Package app wires the gitsync server together.
//
// NewApplication initializes logging, loads the configuration directory and
// builds the services: the destination cluster registry, the source fetcher
// and watcher, the event bus, Prometheus metrics, the sync controller and
// the MCP server. Run starts them, registers the configured applications,
// notifies systemd that the service is ready and blocks until the context
// is cancelled or SIGINT/SIGTERM arrives. Shutdown happens in reverse
// order: the MCP listener first, then the controller, then the event bus.
package app
