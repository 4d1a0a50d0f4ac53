// Package cli is the client side of the gitsync command line.
//
// Client commands do not touch clusters or repositories themselves. They
// connect to a running `gitsync serve` over its MCP endpoint, call the
// tools exposed by package mcpserver and print the results with package
// formatting.
//
// # Endpoint resolution
//
// The server URL is taken from, in order:
//   - the --endpoint flag
//   - the GITSYNC_ENDPOINT environment variable
//   - the server section of config.yaml in --config-path
//
// # Errors
//
// Transport failures are returned as *ConnectionError, failures reported by
// a tool as *ToolError, and waits that end in a Failed or Degraded
// operation as *SyncFailedError. The cmd package maps these to exit codes.
package cli
