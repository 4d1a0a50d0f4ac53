package api

import (
	"sync"

	"gitsync/pkg/logging"
)

//go:generate mockgen -source=handlers.go -destination=mock/mock_controller.go -package=mock

// SyncController is the status and control interface of the reconciliation
// controller. It is implemented by the reconciler and consumed by the MCP tool
// server and the process bootstrap.
type SyncController interface {
	// ListApplications returns the status of every registered application,
	// sorted by name.
	ListApplications() []AppStatus

	// GetStatus returns a snapshot of one application.
	GetStatus(name string) (*AppStatus, error)

	// ListHistory returns up to limit past operations, newest first. A limit
	// of zero or less returns the whole retained history.
	ListHistory(name string, limit int) ([]SyncOperation, error)

	// GetOperation returns one operation from the history or the in-flight one.
	GetOperation(name, operationID string) (*SyncOperation, error)

	// GetDiff returns the diffs computed by the last compare.
	GetDiff(name string) ([]DiffSummary, error)

	// TriggerSync requests a sync. It returns once the request is queued.
	TriggerSync(name string, opts TriggerOptions) error

	// Refresh requests a compare without starting an operation unless the
	// policy calls for one.
	Refresh(name string) error

	// AbortSync stops dispatching the in-flight operation of the application.
	AbortSync(name string) error

	// Rollback re-syncs the revision recorded by a past operation.
	Rollback(name, operationID string) error

	// RegisterApplication adds an application and queues its first compare.
	RegisterApplication(app Application) error

	// UpdatePolicy replaces the sync policy of an application.
	UpdatePolicy(name string, policy SyncPolicy) error

	// RemoveApplication unregisters an application, tearing down its live
	// resources first when the policy is TeardownCascade.
	RemoveApplication(name string, policy TeardownPolicy) error
}

// Handler registry variables store the registered implementations.
var (
	syncControllerHandler SyncController

	// handlerMutex protects all handler registry operations.
	handlerMutex sync.RWMutex
)

// RegisterSyncController registers the controller implementation. Subsequent
// registrations replace the previous handler; passing nil unregisters it.
//
// Thread-safe: Yes, protected by handlerMutex.
func RegisterSyncController(h SyncController) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	logging.Debug("API", "Registering sync controller handler: %v", h != nil)
	syncControllerHandler = h
}

// GetSyncController returns the registered controller, or nil before
// bootstrap has registered one.
//
// Thread-safe: Yes, protected by handlerMutex read lock.
func GetSyncController() SyncController {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return syncControllerHandler
}
