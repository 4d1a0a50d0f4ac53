// Package api holds the shared vocabulary of gitsync and the handler registry
// that connects its components.
//
// Every other package speaks in terms of the types defined here:
//
//   - Application, Source, Destination and SyncPolicy describe what should be
//     reconciled and how.
//   - SyncOperation and Action record one attempt to converge an application
//     and the steps it took.
//   - AppStatus and DiffSummary are the read models handed to the CLI, the
//     MCP tool server and any other consumer of the status interface.
//   - SourceError, RuntimeError, PlanError and ActionError form the error
//     taxonomy. ErrorInfo is their serializable form.
//
// # Handler Registry
//
// Components never import the controller directly. The controller registers
// itself through RegisterSyncController during bootstrap and consumers look
// it up with GetSyncController:
//
//	api.RegisterSyncController(controller)
//	...
//	ctrl := api.GetSyncController()
//	if ctrl == nil {
//	    return fmt.Errorf("sync controller not available")
//	}
//	status, err := ctrl.GetStatus("guestbook")
//
// This package must not import any other internal package.
package api
