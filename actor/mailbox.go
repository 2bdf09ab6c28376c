package actor

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Mailbox is the per-actor buffer of pending envelopes. Many producers
// enqueue concurrently; exactly one consumer (the dispatcher batch that
// currently owns the actor) dequeues. The internal lock is scoped to the
// enqueue/dequeue operation itself and is never held across handler
// execution.
type Mailbox interface {
	// Enqueue appends an envelope. It never blocks; bounded mailboxes
	// return ErrMailboxFull and closed mailboxes ErrMailboxClosed.
	Enqueue(env *Envelope) error
	// Dequeue removes and returns the next envelope in mailbox order, or
	// nil when empty.
	Dequeue() *Envelope
	// Len is the number of pending envelopes.
	Len() int
	// Close marks the mailbox closed and returns whatever was still
	// pending so the caller can dead-letter it.
	Close() []*Envelope
}

// MailboxStats exposes lifetime counters; both built-in mailboxes implement
// it.
type MailboxStats interface {
	Enqueued() uint64
	Dequeued() uint64
}

// fifoMailbox preserves strict arrival order and ignores priority.
// capacity <= 0 means unbounded.
type fifoMailbox struct {
	mu       sync.Mutex
	queue    []*Envelope
	capacity int
	closed   bool
	seq      uint64

	enqueued *atomic.Uint64
	dequeued *atomic.Uint64
}

func newFIFOMailbox(capacity int) *fifoMailbox {
	return &fifoMailbox{
		capacity: capacity,
		enqueued: atomic.NewUint64(0),
		dequeued: atomic.NewUint64(0),
	}
}

func (m *fifoMailbox) Enqueue(env *Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	// Control messages (poison and restart pills) ignore the bound; a full
	// mailbox must never block a stop or restart order.
	if m.capacity > 0 && env.Priority != prioritySystem && len(m.queue) >= m.capacity {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.seq++
	env.seq = m.seq
	env.EnqueuedAt = time.Now()
	m.queue = append(m.queue, env)
	m.mu.Unlock()
	m.enqueued.Inc()
	return nil
}

func (m *fifoMailbox) Dequeue() *Envelope {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return nil
	}
	env := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.mu.Unlock()
	m.dequeued.Inc()
	return env
}

func (m *fifoMailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *fifoMailbox) Close() []*Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := m.queue
	m.queue = nil
	return rest
}

func (m *fifoMailbox) Enqueued() uint64 { return m.enqueued.Load() }
func (m *fifoMailbox) Dequeued() uint64 { return m.dequeued.Load() }

// priorityMailbox drains envelopes in (priority ascending, enqueue order)
// using a binary heap. The enqueue sequence number is taken under the same
// lock as the heap push, which keeps the order stable under concurrent
// enqueue. capacity <= 0 means unbounded.
type priorityMailbox struct {
	mu       sync.Mutex
	heap     envelopeHeap
	capacity int
	closed   bool
	seq      uint64

	enqueued *atomic.Uint64
	dequeued *atomic.Uint64
}

func newPriorityMailbox(capacity int) *priorityMailbox {
	return &priorityMailbox{
		capacity: capacity,
		enqueued: atomic.NewUint64(0),
		dequeued: atomic.NewUint64(0),
	}
}

func (m *priorityMailbox) Enqueue(env *Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	if m.capacity > 0 && env.Priority != prioritySystem && m.heap.Len() >= m.capacity {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.seq++
	env.seq = m.seq
	env.EnqueuedAt = time.Now()
	heap.Push(&m.heap, env)
	m.mu.Unlock()
	m.enqueued.Inc()
	return nil
}

func (m *priorityMailbox) Dequeue() *Envelope {
	m.mu.Lock()
	if m.heap.Len() == 0 {
		m.mu.Unlock()
		return nil
	}
	env := heap.Pop(&m.heap).(*Envelope)
	m.mu.Unlock()
	m.dequeued.Inc()
	return env
}

func (m *priorityMailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heap.Len()
}

func (m *priorityMailbox) Close() []*Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := make([]*Envelope, 0, m.heap.Len())
	for m.heap.Len() > 0 {
		rest = append(rest, heap.Pop(&m.heap).(*Envelope))
	}
	return rest
}

func (m *priorityMailbox) Enqueued() uint64 { return m.enqueued.Load() }
func (m *priorityMailbox) Dequeued() uint64 { return m.dequeued.Load() }

type envelopeHeap []*Envelope

func (h envelopeHeap) Len() int           { return len(h) }
func (h envelopeHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h envelopeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *envelopeHeap) Push(x any)        { *h = append(*h, x.(*Envelope)) }
func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	env := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return env
}
