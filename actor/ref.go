package actor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ActorRef is a handle on an actor. Refs stay valid after the actor stops;
// messages sent through a dead ref are rerouted to dead letters.
type ActorRef interface {
	// Path is the absolute path, e.g. "/user/billing/worker-3".
	Path() string
	// Name is the last path segment.
	Name() string
	// Tell sends asynchronously at normal priority. sender may be NoSender.
	Tell(msg any, sender ActorRef)
	// TellWithPriority sends at an explicit priority; lower is sooner.
	TellWithPriority(msg any, sender ActorRef, priority int)
	// Ask sends and blocks for the first reply, up to timeout. On timeout it
	// returns ErrAskTimeout and the target keeps running undisturbed.
	Ask(msg any, timeout time.Duration) (any, error)
	// IsTerminated reports whether the actor has stopped.
	IsTerminated() bool
}

// Sizer is implemented by refs that can report their pending mail count.
// The smallest-mailbox router depends on it.
type Sizer interface {
	MailboxLen() int
}

type localRef struct {
	path string
	name string
	proc *process
}

func (r *localRef) Path() string { return r.path }
func (r *localRef) Name() string { return r.name }

func (r *localRef) Tell(msg any, sender ActorRef) {
	r.TellWithPriority(msg, sender, PriorityNormal)
}

func (r *localRef) TellWithPriority(msg any, sender ActorRef, priority int) {
	if sender == nil {
		sender = noSender
	}
	r.proc.sendEnvelope(&Envelope{
		Message:  msg,
		Sender:   sender,
		Receiver: r,
		Priority: priority,
	})
}

func (r *localRef) Ask(msg any, timeout time.Duration) (any, error) {
	if r.IsTerminated() {
		return nil, ErrActorTerminated
	}
	return ask(r, msg, timeout)
}

func (r *localRef) IsTerminated() bool { return r.proc.terminated.Load() }

func (r *localRef) MailboxLen() int { return r.proc.mailbox.Len() }

func (r *localRef) String() string { return r.path }

// noSenderRef is the distinguished "no reply expected" sender. Sending *to*
// it is a programming error and panics.
type noSenderRef struct{}

var noSender ActorRef = noSenderRef{}

// NoSender returns the reference used as sender when no reply is expected.
func NoSender() ActorRef { return noSender }

func (noSenderRef) Path() string { return "" }
func (noSenderRef) Name() string { return "" }

func (noSenderRef) Tell(msg any, sender ActorRef) {
	panic(ErrNoSender)
}

func (noSenderRef) TellWithPriority(msg any, sender ActorRef, priority int) {
	panic(ErrNoSender)
}

func (noSenderRef) Ask(msg any, timeout time.Duration) (any, error) {
	return nil, ErrNoSender
}

func (noSenderRef) IsTerminated() bool { return false }

func (noSenderRef) String() string { return "<no-sender>" }

// deadLetterReceiver logs every undeliverable message. It lives at
// /system/deadLetters and is the terminal stop for mail with nowhere to go.
type deadLetterReceiver struct {
	logger *logrus.Logger
}

func (d *deadLetterReceiver) Receive(ctx *Context) {
	switch msg := ctx.Message().(type) {
	case DeadLetter:
		sender := "<no-sender>"
		if msg.Sender != nil && msg.Sender.Path() != "" {
			sender = msg.Sender.Path()
		}
		d.logger.WithFields(logrus.Fields{
			"recipient": msg.RecipientPath,
			"sender":    sender,
			"message":   fmt.Sprintf("%T", msg.Message),
		}).Warn("dead letter")
	}
}
