package actor

import "github.com/troupe-go/troupe/supervision"

// Receiver is implemented by every actor. Receive is invoked for exactly one
// message at a time; the runtime guarantees no two invocations for the same
// actor ever run concurrently.
type Receiver interface {
	Receive(ctx *Context)
}

// Producer creates a fresh Receiver instance. It is called once on spawn and
// again on every restart, which is how restarts discard actor state.
type Producer func() Receiver

// Behavior is a single message-handling closure. The context keeps a stack of
// these; Become pushes, Unbecome pops, and the bottom of the stack is always
// the actor's own Receive.
type Behavior func(ctx *Context)

// ReceiverFunc adapts a plain function into a Receiver.
type ReceiverFunc func(ctx *Context)

func (f ReceiverFunc) Receive(ctx *Context) { f(ctx) }

// Optional lifecycle hooks. When a Receiver implements one of these it is
// called just before the matching system message reaches Receive.

// PreStarter runs before the first Started.
type PreStarter interface {
	PreStart(ctx *Context)
}

// PostStopper runs before the final Stopped.
type PostStopper interface {
	PostStop(ctx *Context)
}

// PreRestarter runs on the failing instance before it is replaced.
type PreRestarter interface {
	PreRestart(ctx *Context, reason error)
}

// PostRestarter runs on the fresh instance instead of PreStart.
type PostRestarter interface {
	PostRestart(ctx *Context)
}

// System messages, delivered through the regular mailbox at system priority.

// Started is the first message an actor (or a restarted incarnation) sees.
type Started struct{}

// Stopping is delivered before the actor terminates, while the mailbox is
// still open for the actor itself.
type Stopping struct{}

// Stopped is the last message an actor instance sees.
type Stopped struct{}

// Restarting is delivered to the failing instance before it is replaced.
// Reason carries the failure that triggered the restart.
type Restarting struct {
	Reason error
}

// DeadLetter wraps a message that could not be delivered. It is sent to the
// system's dead-letter actor, which logs it.
type DeadLetter struct {
	Message       any
	Sender        ActorRef
	RecipientPath string
}

// poisonPill terminates the actor from inside its own run loop, so stop
// never races a running handler.
type poisonPill struct{}

// restartPill replaces the actor instance from inside its own run loop, for
// the same reason: a supervisor may restart an actor whose current handler
// is still executing.
type restartPill struct {
	reason error
}

// MailboxKind selects the mailbox implementation for an actor. The default
// is MailboxPriority: envelopes drain in (priority, enqueue order). The FIFO
// kinds ignore priority and preserve strict arrival order instead.
type MailboxKind int

const (
	MailboxPriority MailboxKind = iota
	MailboxPriorityBounded
	MailboxFIFO
	MailboxFIFOBounded
)

const defaultMailboxCapacity = 1024

// Props describes how to create an actor: its Producer plus runtime
// configuration. A Props value is immutable; the With options are applied at
// construction.
type Props struct {
	producer        Producer
	mailboxKind     MailboxKind
	mailboxCapacity int
	dispatcher      string
	strategy        supervision.Strategy
}

// PropsOption customises a Props value.
type PropsOption func(*Props)

// NewProps builds a Props for the given producer.
func NewProps(producer Producer, opts ...PropsOption) *Props {
	p := &Props{
		producer:        producer,
		mailboxKind:     MailboxPriority,
		mailboxCapacity: defaultMailboxCapacity,
		dispatcher:      DefaultDispatcherName,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithMailbox selects the mailbox kind.
func WithMailbox(kind MailboxKind) PropsOption {
	return func(p *Props) { p.mailboxKind = kind }
}

// WithMailboxCapacity sets the capacity for bounded mailbox kinds.
func WithMailboxCapacity(capacity int) PropsOption {
	return func(p *Props) { p.mailboxCapacity = capacity }
}

// WithDispatcher assigns the actor to a named dispatcher registered on the
// system.
func WithDispatcher(name string) PropsOption {
	return func(p *Props) { p.dispatcher = name }
}

// WithSupervisor attaches a supervision strategy that governs the failures
// of this actor's children.
func WithSupervisor(strategy supervision.Strategy) PropsOption {
	return func(p *Props) { p.strategy = strategy }
}

func (p *Props) produce() Receiver {
	return p.producer()
}

func (p *Props) newMailbox() Mailbox {
	switch p.mailboxKind {
	case MailboxFIFO:
		return newFIFOMailbox(0)
	case MailboxFIFOBounded:
		return newFIFOMailbox(p.mailboxCapacity)
	case MailboxPriorityBounded:
		return newPriorityMailbox(p.mailboxCapacity)
	default:
		return newPriorityMailbox(0)
	}
}
