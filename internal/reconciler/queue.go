package reconciler

import (
	"context"
	"sync"
	"time"
)

// workQueue implements ReconcileQueue with per-application coalescing.
type workQueue struct {
	mu sync.Mutex

	// queue holds requests in FIFO order, at most one per application
	queue []Request

	// processing tracks applications currently being reconciled
	processing map[string]bool

	// dirty holds the merged follow-up of applications being processed
	dirty map[string]Request

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

// NewQueue creates a new reconciliation queue.
func NewQueue() ReconcileQueue {
	q := &workQueue{
		queue:      make([]Request, 0),
		processing: make(map[string]bool),
		dirty:      make(map[string]Request),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add adds or merges a request.
func (q *workQueue) Add(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return false
	}

	key := req.Application

	// While the application is processed, keep a single merged follow-up
	if q.processing[key] {
		if pending, ok := q.dirty[key]; ok {
			q.dirty[key] = pending.merge(req)
			return true
		}
		q.dirty[key] = req
		return false
	}

	for i, existing := range q.queue {
		if existing.Application == key {
			q.queue[i] = existing.merge(req)
			return true
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
	return false
}

// Get retrieves the next request, blocking if necessary.
func (q *workQueue) Get(ctx context.Context) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return Request{}, false
		default:
		}

		// The goroutine wakes the waiter on cancellation and exits once
		// done is closed after a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return Request{}, false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return Request{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[req.Application] = true

	return req, true
}

// Done marks a request as completed and queues its follow-up, if any.
func (q *workQueue) Done(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.Application
	delete(q.processing, key)

	if dirtyReq, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		if q.shuttingDown {
			return
		}
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
	}
}

// Forget drops the waiting request and the follow-up of an application.
func (q *workQueue) Forget(application string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.dirty, application)
	for i, existing := range q.queue {
		if existing.Application == application {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return
		}
	}
}

// Len returns the queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops the queue.
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue wraps a queue with delayed requeue support. It keeps at most
// one timer per application.
type delayedQueue struct {
	queue      ReconcileQueue
	mu         sync.Mutex
	delayedMap map[string]*time.Timer
	stopCh     chan struct{}
}

// NewDelayedQueue creates a queue that supports delayed requeuing.
func NewDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:      NewQueue(),
		delayedMap: make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// Add adds a request immediately.
func (d *delayedQueue) Add(req Request) bool {
	return d.queue.Add(req)
}

// AddAfter adds a request after a delay, replacing an earlier timer of the
// same application.
func (d *delayedQueue) AddAfter(req Request, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := req.Application

	if timer, ok := d.delayedMap[key]; ok {
		timer.Stop()
	}

	d.delayedMap[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.delayedMap, key)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
			return
		default:
			d.queue.Add(req)
		}
	})
}

// Get retrieves the next request.
func (d *delayedQueue) Get(ctx context.Context) (Request, bool) {
	return d.queue.Get(ctx)
}

// Done marks a request as completed.
func (d *delayedQueue) Done(req Request) {
	d.queue.Done(req)
}

// Forget stops the timer of an application and drops its pending work.
func (d *delayedQueue) Forget(application string) {
	d.mu.Lock()
	if timer, ok := d.delayedMap[application]; ok {
		timer.Stop()
		delete(d.delayedMap, application)
	}
	d.mu.Unlock()

	d.queue.Forget(application)
}

// Len returns the queue length.
func (d *delayedQueue) Len() int {
	return d.queue.Len()
}

// Shutdown stops the queue and cancels pending timers.
func (d *delayedQueue) Shutdown() {
	close(d.stopCh)

	d.mu.Lock()
	for _, timer := range d.delayedMap {
		timer.Stop()
	}
	d.delayedMap = make(map[string]*time.Timer)
	d.mu.Unlock()

	d.queue.Shutdown()
}
