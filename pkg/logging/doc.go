// Package logging provides the structured logging used across gitsync.
//
// The package wraps Go's slog behind a small set of subsystem-scoped helpers
// so that every component logs in the same shape:
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("Reconciler", "application %s synced to %s", name, revision)
//	logging.Debug("Source", "fetched %d manifests", n)
//	logging.Warn("Events", "subscriber too slow, dropping event")
//	logging.Error("Executor", err, "action %d failed", id)
//
// # Subsystems
//
// Log lines carry a subsystem attribute. The subsystems used by gitsync are:
//
//   - Bootstrap: process start, config loading and shutdown
//   - Source: desired state fetching (directories and git repositories)
//   - Cluster: live state access through a destination runtime
//   - Diff, Planner, Executor: the sync pipeline stages
//   - Reconciler: the controller loop and application state machine
//   - Events: the event bus and its sinks
//   - MCP: the tool server and the CLI client
//
// # Controller-Runtime Integration
//
// Init also installs the same slog handler as the controller-runtime logger
// through logr.FromSlogHandler, so client-go and controller-runtime messages
// end up in the same stream without "logger not set" warnings.
//
// # Thread Safety
//
// All functions are safe for concurrent use once Init has been called.
// Calling Init again replaces the handler atomically.
package logging
