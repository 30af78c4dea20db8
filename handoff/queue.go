// Package handoff provides a blocking, shutdown-aware FIFO that hands
// connection descriptors from an acceptor to a pool of workers.
//
// A single owner creates the Queue with New before any producer or consumer
// starts, passes it to them explicitly, and stops using it only after all of
// them have returned. The Queue never closes the descriptors it carries.
package handoff

import "sync"

// Descriptor is an opaque handle to a connection endpoint.
type Descriptor int

// Queue is a FIFO of descriptors shared between producers and consumers.
//
// Once ShutDown is called every pending and future WaitAndPop returns false,
// even if descriptors remain queued. Descriptors pushed after shutdown are
// accepted but never delivered.
type Queue struct {
	items        []Descriptor
	mu           sync.Mutex
	cond         sync.Cond
	shuttingDown bool
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond.L = &q.mu
	return q
}

// Push appends d to the tail and wakes one waiting consumer.
func (q *Queue) Push(d Descriptor) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitAndPop returns the head descriptor, blocking while the queue is empty.
// It returns false once the queue has been shut down.
func (q *Queue) WaitAndPop() (Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.shuttingDown && len(q.items) == 0 {
		q.cond.Wait()
	}
	if q.shuttingDown {
		return 0, false
	}

	d := q.items[0]
	q.items[0] = 0
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return d, true
}

// ShutDown switches the queue into the shutting-down state and wakes every
// waiting consumer. Repeated calls are no-ops.
func (q *Queue) ShutDown() {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}
	q.shuttingDown = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// ShuttingDown reports whether ShutDown has been called.
func (q *Queue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}

// Len returns the number of queued descriptors, including ones that will
// never be delivered because the queue is shutting down.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns the descriptors stranded by shutdown so the owner
// can close them. It returns nil while the queue is still running.
func (q *Queue) Drain() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.shuttingDown {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}
