package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"gitsync/internal/api"
	"gitsync/internal/cluster"
	"gitsync/internal/events"
	"gitsync/internal/source"
	"gitsync/pkg/logging"
)

// Controller keeps registered applications in line with their source.
//
// It manages:
//   - the per-application contexts and their sync state machines
//   - a bounded trigger channel feeding a coalescing work queue
//   - a worker pool, each worker owning one application at a time
//   - periodic refreshes and source watcher notifications
type Controller struct {
	cfg      Config
	fetcher  source.Fetcher
	clusters *cluster.Registry
	events   *events.EventGenerator
	watcher  *source.Watcher
	metrics  *Metrics

	mu   sync.RWMutex
	apps map[string]*appContext

	// triggers receives manual and watcher requests
	triggers chan Request

	// changes receives source watcher notifications
	changes chan source.ChangeEvent

	queue *delayedQueue

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// New creates a controller. It does not reconcile anything before Start.
func New(cfg Config, deps Dependencies) *Controller {
	cfg = cfg.withDefaults()
	if deps.Clusters == nil {
		deps.Clusters = cluster.NewRegistry()
	}
	if deps.Events == nil {
		deps.Events = events.NewEventGenerator(events.NewBus(0))
	}
	return &Controller{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		clusters: deps.Clusters,
		events:   deps.Events,
		watcher:  deps.Watcher,
		metrics:  deps.Metrics,
		apps:     make(map[string]*appContext),
		triggers: make(chan Request, cfg.TriggerBuffer),
		changes:  make(chan source.ChangeEvent, cfg.TriggerBuffer),
		queue:    NewDelayedQueue(),
		ctx:      context.Background(),
	}
}

// Config returns the effective settings.
func (c *Controller) Config() Config {
	return c.cfg
}

// Events returns the generator the controller publishes to.
func (c *Controller) Events() *events.EventGenerator {
	return c.events
}

// Start launches the dispatcher, the workers and the source watcher.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return api.ErrControllerStopped
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	if c.watcher != nil {
		if err := c.watcher.Start(c.ctx, c.changes); err != nil {
			logging.Warn("Reconciler", "Source watcher disabled: %v", err)
		} else {
			c.wg.Add(1)
			go c.processChanges()
		}
	}

	c.wg.Add(1)
	go c.dispatch()

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	logging.Info("Reconciler", "Started with %d workers, refresh every %s", c.cfg.Workers, c.cfg.RefreshInterval)
	return nil
}

// Stop cancels running operations and waits for the workers to exit. In
// flight actions finish as cancelled; nothing is rolled back.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	c.mu.Unlock()

	logging.Info("Reconciler", "Stopping sync controller...")

	c.cancel()

	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			logging.Error("Reconciler", err, "Error stopping source watcher")
		}
	}

	c.queue.Shutdown()
	c.wg.Wait()

	logging.Info("Reconciler", "Sync controller stopped")
	return nil
}

// IsRunning returns whether the controller is active.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// QueueLength returns the number of applications waiting for a worker.
func (c *Controller) QueueLength() int {
	return c.queue.Len()
}

func (c *Controller) lookup(name string) *appContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apps[name]
}

func (c *Controller) sortedApps() []*appContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*appContext, 0, len(c.apps))
	for _, ac := range c.apps {
		out = append(out, ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name() < out[j].name() })
	return out
}

// trigger hands a request to the dispatcher without blocking.
func (c *Controller) trigger(req Request) error {
	c.mu.RLock()
	stopped := c.stopped
	c.mu.RUnlock()
	if stopped {
		return api.ErrControllerStopped
	}

	select {
	case c.triggers <- req:
		return nil
	default:
		c.metrics.recordRejected(req.Application)
		return api.ErrTriggerQueueFull
	}
}

// enqueue adds a request straight to the work queue.
func (c *Controller) enqueue(req Request) {
	if c.queue.Add(req) {
		c.metrics.recordCoalesced()
		logging.Debug("Reconciler", "Coalesced %s request for %s (%s)", req.Kind, req.Application, req.Reason)
	}
}

// dispatch moves triggers from the bounded channel into the queue.
func (c *Controller) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.triggers:
			c.enqueue(req)
		}
	}
}

// processChanges turns source watcher events into refresh triggers.
func (c *Controller) processChanges() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.changes:
			if !ok {
				return
			}
			if c.lookup(ev.Application) == nil {
				continue
			}
			req := Request{Application: ev.Application, Kind: KindRefresh, Reason: "source changed: " + ev.Path}
			if err := c.trigger(req); err != nil {
				logging.Warn("Reconciler", "Dropped source change of %s: %v", ev.Application, err)
			}
		}
	}
}

// worker processes reconcile requests from the queue.
func (c *Controller) worker(id int) {
	defer c.wg.Done()

	logging.Debug("Reconciler", "Worker %d started", id)

	for {
		req, ok := c.queue.Get(c.ctx)
		if !ok {
			logging.Debug("Reconciler", "Worker %d shutting down", id)
			return
		}

		c.process(req)
		c.queue.Done(req)
	}
}

// process handles a single request and schedules the next periodic refresh.
func (c *Controller) process(req Request) {
	ac := c.lookup(req.Application)
	if ac == nil {
		logging.Debug("Reconciler", "Ignoring %s request for unknown application %s", req.Kind, req.Application)
		return
	}

	start := time.Now()
	if req.Kind == KindTeardown {
		c.teardown(c.ctx, ac, req)
	} else {
		c.reconcile(c.ctx, ac, req)
	}
	c.metrics.observeReconcile(req.Kind, time.Since(start))

	if c.ctx.Err() == nil && c.lookup(req.Application) == ac && !ac.isRemoving() {
		c.queue.AddAfter(Request{Application: req.Application, Kind: KindRefresh, Reason: "periodic refresh"}, c.cfg.RefreshInterval)
	}
}

// transition moves an application to another phase and publishes the change.
func (c *Controller) transition(ac *appContext, to api.Phase, message string) {
	from, changed := ac.setPhase(to)
	if !changed {
		return
	}
	c.metrics.setPhase(ac.name(), to)
	logging.Info("Reconciler", "Application %s: %s -> %s", ac.name(), from, to)
	c.events.PhaseEvent(ac.name(), from, to, message)
}
