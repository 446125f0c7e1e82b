package reconciler

import (
	"context"
	"sync"
	"time"
)

// workQueue is a FIFO queue of sync requests with per-unit deduplication.
// A unit has at most one request queued and at most one in flight; a
// request added while its unit is processing is parked as dirty and
// re-queued when the in-flight pass finishes.
type workQueue struct {
	mu sync.Mutex

	// queue holds requests in FIFO order
	queue []SyncRequest

	// processing tracks units currently being processed
	processing map[string]bool

	// dirty tracks units that need reprocessing
	dirty map[string]SyncRequest

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

func newQueue() *workQueue {
	q := &workQueue{
		queue:      make([]SyncRequest, 0),
		processing: make(map[string]bool),
		dirty:      make(map[string]SyncRequest),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add adds or updates a request in the queue.
func (q *workQueue) Add(req SyncRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	key := requestKey(req)

	// If already being processed, mark as dirty for reprocessing
	if q.processing[key] {
		q.dirty[key] = req
		return
	}

	// Check if already in queue
	for i, existing := range q.queue {
		if requestKey(existing) == key {
			// Update the existing entry
			q.queue[i] = req
			return
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
}

// Get retrieves the next request, blocking if necessary.
func (q *workQueue) Get(ctx context.Context) (SyncRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return SyncRequest{}, false
		default:
		}

		// A helper goroutine races context cancellation against the normal
		// cond wakeup; closing `done` ensures it exits either way.
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
			return SyncRequest{}, false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return SyncRequest{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]

	key := requestKey(req)
	q.processing[key] = true

	return req, true
}

// Done marks a request as completed and re-queues any request that
// arrived for the same unit while it was in flight.
func (q *workQueue) Done(req SyncRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := requestKey(req)
	delete(q.processing, key)

	if dirtyReq, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
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

// delayedQueue wraps a queue with delayed requeue support, used for
// backoff between retries of a failed pass.
type delayedQueue struct {
	queue      *workQueue
	mu         sync.Mutex
	delayedMap map[string]*time.Timer
	stopCh     chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:      newQueue(),
		delayedMap: make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// Add adds a request immediately.
func (d *delayedQueue) Add(req SyncRequest) {
	d.queue.Add(req)
}

// AddAfter adds a request after a delay. A later AddAfter for the same
// unit replaces the pending timer.
func (d *delayedQueue) AddAfter(req SyncRequest, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := requestKey(req)

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
func (d *delayedQueue) Get(ctx context.Context) (SyncRequest, bool) {
	return d.queue.Get(ctx)
}

// Done marks a request as completed.
func (d *delayedQueue) Done(req SyncRequest) {
	d.queue.Done(req)
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
