package actor

import "time"

// Message priorities. Lower values are serviced sooner. Any int is accepted;
// these are the conventional levels.
const (
	PriorityHigh   = -100
	PriorityNormal = 0
	PriorityLow    = 100

	// prioritySystem outranks every user priority so lifecycle messages
	// (Started, Restarting, poison pills) are seen before queued user mail.
	prioritySystem = -1000
)

// Envelope wraps a message with its routing and ordering metadata. Envelopes
// are immutable once enqueued.
//
// The mailbox ordering law: envelopes are drained in ascending Priority, ties
// broken by enqueue order. The tie-break uses a per-mailbox sequence number
// taken under the enqueue lock, so the order is stable even when many
// senders enqueue concurrently within the same clock tick.
type Envelope struct {
	Message    any
	Sender     ActorRef
	Receiver   ActorRef
	Priority   int
	EnqueuedAt time.Time

	seq uint64
}

// before reports whether e sorts ahead of other in the mailbox order.
func (e *Envelope) before(other *Envelope) bool {
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	return e.seq < other.seq
}
