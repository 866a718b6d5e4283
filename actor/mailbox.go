package actor

import (
	"sync"
)

// mailbox is an unbounded FIFO queue of message closures for a single actor.
// Producers enqueue without blocking; the owning actor task blocks in
// Dequeue until a closure arrives or the mailbox is closed.
//
// Thread Safety:
//   - Enqueue may be called concurrently from multiple goroutines.
//   - Dequeue should only be called from a single goroutine (the actor's
//     task loop).
//   - Close may be called concurrently with Enqueue/Dequeue and is
//     idempotent.
//   - Enqueue returns false after Close has been called; callers drop the
//     closure silently, matching dead-letter semantics.
//
// The queue is a mutex guarded slice rather than a channel because the
// contract requires an unbounded queue whose enqueue never blocks and never
// fails before close; a buffered channel can provide neither.
type mailbox[B any] struct {
	// mu protects queue and closed, and backs cond.
	mu sync.Mutex

	// cond signals waiting consumers when a closure arrives or the
	// mailbox closes.
	cond *sync.Cond

	// queue holds pending closures in arrival order.
	queue []func(B)

	// closed marks the mailbox as no longer accepting posts. Pending
	// closures are discarded at close.
	closed bool
}

// newMailbox creates an empty, open mailbox.
func newMailbox[B any]() *mailbox[B] {
	m := &mailbox[B]{}
	m.cond = sync.NewCond(&m.mu)

	return m
}

// Enqueue appends msg to the queue. It returns true if the closure was
// accepted, and false if the mailbox has been closed. Enqueue never blocks.
func (m *mailbox[B]) Enqueue(msg func(B)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.queue = append(m.queue, msg)
	m.cond.Signal()

	return true
}

// Dequeue blocks until a closure is available or the mailbox is closed. The
// second return value is false once the mailbox has been closed; any
// closures still queued at that point are discarded, never returned.
func (m *mailbox[B]) Dequeue() (func(B), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.closed && len(m.queue) == 0 {
		m.cond.Wait()
	}

	if m.closed {
		return nil, false
	}

	msg := m.queue[0]

	// Clear the slot before re-slicing so the backing array does not pin
	// the closure (and everything it captures) until the next append.
	m.queue[0] = nil
	m.queue = m.queue[1:]

	return msg, true
}

// Close marks the mailbox closed, discards all pending closures and wakes
// any blocked consumer. Close is idempotent and safe to call from any
// goroutine.
func (m *mailbox[B]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	m.queue = nil
	m.cond.Broadcast()
}

// IsClosed returns true if the mailbox has been closed.
func (m *mailbox[B]) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// Len returns the number of closures currently queued.
func (m *mailbox[B]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}
