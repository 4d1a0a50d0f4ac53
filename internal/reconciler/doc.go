// Package reconciler implements the sync controller that keeps registered
// applications in line with their source.
//
// # Overview
//
// For every application the controller periodically fetches the desired
// state, reads the live state from the destination cluster and diffs the
// two. Depending on the sync policy a difference either leaves the
// application OutOfSyncDetected or starts a sync operation, which plans
// the diff into ordered actions and executes them against the cluster.
//
// # Architecture
//
//   - Controller: owns the applications, the workers and the trigger channel
//   - appContext: per-application state, phase and operation history
//   - workQueue: coalesces requests per application so that at most one
//     operation runs for an application and at most one follow-up waits
//   - Metrics: Prometheus series for operations, actions and triggers
//
// Work reaches the queue from three places: manual triggers (sync, refresh,
// rollback) through a bounded channel, source watcher notifications, and
// periodic refreshes scheduled after every reconcile.
//
// # Phases
//
// An application starts in Unknown and moves between Synced,
// OutOfSyncDetected, Syncing, Failed and Degraded. CanTransition holds the
// allowed moves; the controller panics on any other.
//
// # Usage
//
//	ctrl := reconciler.New(reconciler.Config{Workers: 4}, reconciler.Dependencies{
//	    Fetcher:  source.NewMultiSource(source.NewDirSource(), source.NewGitSource(workdir)),
//	    Clusters: clusters,
//	    Events:   events.NewEventGenerator(bus),
//	})
//	if err := ctrl.Start(ctx); err != nil {
//	    return fmt.Errorf("failed to start sync controller: %w", err)
//	}
//	defer ctrl.Stop()
//	ctrl.Register()
package reconciler
