package reconciler

import (
	"fmt"

	"gitsync/internal/api"
)

// allowedTransitions lists the phases reachable from each phase. Staying in
// the same phase is allowed everywhere except Syncing, which an application
// enters once per operation. Nothing returns to Unknown.
var allowedTransitions = map[api.Phase][]api.Phase{
	api.PhaseUnknown: {
		api.PhaseSyncing, api.PhaseSynced, api.PhaseOutOfSyncDetected, api.PhaseFailed, api.PhaseDegraded,
	},
	api.PhaseSyncing: {
		api.PhaseSynced, api.PhaseOutOfSyncDetected, api.PhaseFailed, api.PhaseDegraded,
	},
	api.PhaseSynced: {
		api.PhaseSyncing, api.PhaseOutOfSyncDetected, api.PhaseFailed, api.PhaseDegraded,
	},
	api.PhaseOutOfSyncDetected: {
		api.PhaseSyncing, api.PhaseSynced, api.PhaseFailed, api.PhaseDegraded,
	},
	api.PhaseFailed: {
		api.PhaseSyncing, api.PhaseSynced, api.PhaseOutOfSyncDetected, api.PhaseDegraded,
	},
	api.PhaseDegraded: {
		api.PhaseSyncing, api.PhaseSynced, api.PhaseOutOfSyncDetected, api.PhaseFailed,
	},
}

// CanTransition reports whether an application may move from one phase to
// another.
func CanTransition(from, to api.Phase) bool {
	if from == to {
		return from != api.PhaseSyncing
	}
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// mustTransition panics on a move the state machine does not allow. Such a
// move is a bug in the controller, never a runtime condition.
func mustTransition(application string, from, to api.Phase) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("illegal phase transition for application %s: %s -> %s", application, from, to))
	}
}
