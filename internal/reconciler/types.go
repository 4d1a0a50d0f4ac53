package reconciler

import (
	"context"
	"time"

	"gitsync/internal/api"
	"gitsync/internal/cluster"
	"gitsync/internal/events"
	"gitsync/internal/executor"
	"gitsync/internal/source"
)

// RequestKind orders the kinds of work a request asks for. When two requests
// for the same application are merged, the heavier kind wins.
type RequestKind int

const (
	// KindRefresh compares desired and live state and lets the sync policy
	// decide whether an operation starts.
	KindRefresh RequestKind = iota

	// KindSync always starts an operation.
	KindSync

	// KindTeardown removes the application, deleting its live resources
	// first when Cascade is set.
	KindTeardown
)

// String is used in logs and metric labels.
func (k RequestKind) String() string {
	switch k {
	case KindRefresh:
		return "refresh"
	case KindSync:
		return "sync"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Request represents a request to reconcile one application.
type Request struct {
	Application string
	Kind        RequestKind

	// Trigger records who asked for a sync. Empty for refreshes.
	Trigger api.TriggerSource

	// Options of a sync request.
	Options api.TriggerOptions

	// Cascade deletes live resources on teardown.
	Cascade bool

	// Reason is a short human readable cause used in logs.
	Reason string
}

// merge folds a later request into r. Sync beats refresh and teardown beats
// both. Two syncs prune if either asked for it, and run for real unless both
// were dry runs; the later revision override and trigger win.
func (r Request) merge(later Request) Request {
	switch {
	case later.Kind > r.Kind:
		return later
	case later.Kind < r.Kind:
		return r
	}

	out := r
	switch r.Kind {
	case KindSync:
		out.Options.Prune = r.Options.Prune || later.Options.Prune
		out.Options.DryRun = r.Options.DryRun && later.Options.DryRun
		if later.Options.Revision != "" {
			out.Options.Revision = later.Options.Revision
		}
		if later.Trigger != "" {
			out.Trigger = later.Trigger
		}
	case KindTeardown:
		out.Cascade = r.Cascade || later.Cascade
	}
	if later.Reason != "" {
		out.Reason = later.Reason
	}
	return out
}

// ReconcileQueue is a work queue keyed by application. A request for an
// application already waiting is merged into the waiting one; a request for
// an application being processed is held back as a single follow-up.
type ReconcileQueue interface {
	// Add enqueues req and reports whether it was merged into a pending
	// request instead of adding a new entry.
	Add(req Request) bool

	// Get blocks until a request is available or ctx is done.
	Get(ctx context.Context) (Request, bool)

	// Done marks the request as processed, releasing its follow-up.
	Done(req Request)

	// Forget drops anything pending for an application.
	Forget(application string)

	Len() int
	Shutdown()
}

// Config holds the controller settings.
type Config struct {
	// Workers is the number of applications reconciled in parallel.
	Workers int

	// TriggerBuffer bounds the channel of pending manual and watcher triggers.
	TriggerBuffer int

	// RefreshInterval is the period of the automatic compare of every
	// application.
	RefreshInterval time.Duration

	// MaxHistory is how many finished operations are kept per application.
	MaxHistory int

	// FetchTimeout bounds fetching desired and live state.
	FetchTimeout time.Duration

	// Executor configures plan execution. Application and DryRun are set
	// per operation.
	Executor executor.Options
}

// Defaults used when Config leaves a field unset.
const (
	DefaultWorkers         = 4
	DefaultTriggerBuffer   = 256
	DefaultRefreshInterval = 3 * time.Minute
	DefaultMaxHistory      = 10
	DefaultFetchTimeout    = 2 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.TriggerBuffer <= 0 {
		c.TriggerBuffer = DefaultTriggerBuffer
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Dependencies are the collaborators of the controller. Watcher and Metrics
// are optional.
type Dependencies struct {
	Fetcher  source.Fetcher
	Clusters *cluster.Registry
	Events   *events.EventGenerator
	Watcher  *source.Watcher
	Metrics  *Metrics
}
