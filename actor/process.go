package actor

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Run states for the per-actor scheduling machine. The transitions are
// idle -> scheduled -> running -> idle (or scheduled again when mail is
// left). Only one batch can hold the running state, which is what makes
// Receive single-threaded per actor.
const (
	procIdle int32 = iota
	procScheduled
	procRunning
)

// process is the runtime half of an actor: mailbox, run state, the live
// Receiver instance and its context. Refs point at a process; the system
// registry maps paths to processes.
type process struct {
	system     *System
	path       string
	props      *Props
	mailbox    Mailbox
	dispatcher *Dispatcher
	ref        *localRef
	ctx        *Context

	receiver   Receiver
	state      *atomic.Int32
	suspended  *atomic.Bool
	terminated *atomic.Bool
	restarted  bool

	done chan struct{}
}

func newProcess(system *System, path string, props *Props, parent ActorRef) *process {
	p := &process{
		system:     system,
		path:       path,
		props:      props,
		mailbox:    props.newMailbox(),
		dispatcher: system.dispatcher(props.dispatcher),
		state:      atomic.NewInt32(procIdle),
		suspended:  atomic.NewBool(false),
		terminated: atomic.NewBool(false),
		done:       make(chan struct{}),
	}
	p.ref = &localRef{path: path, name: pathName(path), proc: p}
	p.ctx = newContext(system, p, parent)
	p.receiver = props.produce()
	return p
}

// sendEnvelope enqueues and wakes the actor. Undeliverable envelopes go to
// dead letters; delivery itself never returns an error to the sender.
func (p *process) sendEnvelope(env *Envelope) {
	if p.terminated.Load() {
		p.system.deadLetter(env.Message, env.Sender, p.path)
		return
	}
	if err := p.mailbox.Enqueue(env); err != nil {
		p.system.deadLetter(env.Message, env.Sender, p.path)
		return
	}
	p.scheduleRun()
}

func (p *process) scheduleRun() {
	if p.suspended.Load() || p.terminated.Load() {
		return
	}
	if p.state.CAS(procIdle, procScheduled) {
		p.dispatcher.submit(p.runBatch)
	}
}

// runBatch drains up to the dispatcher's throughput, then yields. A panic in
// a handler aborts the batch, suspends the actor and routes the failure to
// supervision; everything still queued stays queued.
func (p *process) runBatch() {
	if !p.state.CAS(procScheduled, procRunning) {
		return
	}
	if p.suspended.Load() || p.terminated.Load() {
		p.state.Store(procIdle)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			perr := newPanicError(r, debug.Stack())
			p.suspended.Store(true)
			p.state.Store(procIdle)
			p.system.handleFailure(p.path, perr)
			return
		}
		p.state.Store(procIdle)
		if p.mailbox.Len() > 0 {
			p.scheduleRun()
		}
	}()

	throughput := p.dispatcher.Throughput()
	for i := 0; i < throughput; i++ {
		if p.suspended.Load() || p.terminated.Load() {
			return
		}
		env := p.mailbox.Dequeue()
		if env == nil {
			return
		}
		p.invoke(env)
	}
}

func (p *process) invoke(env *Envelope) {
	switch msg := env.Message.(type) {
	case poisonPill:
		p.terminate()
		return
	case restartPill:
		p.performRestart(msg.reason)
		return
	}
	p.ctx.message = env.Message
	p.ctx.sender = env.Sender
	p.runHooks(env.Message)
	p.ctx.behavior()(p.ctx)
	p.ctx.sender = nil
}

// runHooks fires the optional lifecycle interfaces for system messages, just
// before the message itself reaches Receive.
func (p *process) runHooks(msg any) {
	switch m := msg.(type) {
	case Started:
		if p.restarted {
			p.restarted = false
			if h, ok := p.receiver.(PostRestarter); ok {
				h.PostRestart(p.ctx)
			}
			return
		}
		if h, ok := p.receiver.(PreStarter); ok {
			h.PreStart(p.ctx)
		}
	case Restarting:
		if h, ok := p.receiver.(PreRestarter); ok {
			h.PreRestart(p.ctx, m.Reason)
		}
	case Stopped:
		if h, ok := p.receiver.(PostStopper); ok {
			h.PostStop(p.ctx)
		}
	}
}

// start delivers Started through the mailbox so it is the first message the
// actor sees.
func (p *process) start() {
	p.sendEnvelope(&Envelope{
		Message:  Started{},
		Sender:   p.system.NoSender(),
		Receiver: p.ref,
		Priority: prioritySystem,
	})
}

// invokeDirect calls the current behavior without going through the mailbox.
// Only legal from inside the run loop (pill handling) or once no batch can
// ever run again (forced termination of a stuck actor).
func (p *process) invokeDirect(msg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r, debug.Stack())
		}
	}()
	p.ctx.message = msg
	p.ctx.sender = p.system.NoSender()
	p.runHooks(msg)
	p.ctx.behavior()(p.ctx)
	p.ctx.sender = nil
	return nil
}

// terminate shuts the actor down: Stopping, poison the children, dead-letter
// the leftover mail, Stopped, deregister. Idempotent. Panics raised by the
// actor while it is shutting down are logged, not supervised.
func (p *process) terminate() {
	if !p.terminated.CAS(false, true) {
		return
	}
	if err := p.invokeDirect(Stopping{}); err != nil {
		p.logShutdownFailure("stopping", err)
	}
	for _, child := range p.ctx.Children() {
		p.system.Stop(child)
	}
	for _, env := range p.mailbox.Close() {
		switch env.Message.(type) {
		case poisonPill, restartPill:
			continue
		}
		p.system.deadLetter(env.Message, env.Sender, p.path)
	}
	if err := p.invokeDirect(Stopped{}); err != nil {
		p.logShutdownFailure("stopped", err)
	}
	p.system.removeProcess(p)
	close(p.done)
}

func (p *process) logShutdownFailure(phase string, err error) {
	p.system.logger.WithFields(logrus.Fields{
		"actor": p.path,
		"phase": phase,
	}).WithError(err).Warn("actor panicked during shutdown")
}

// requestRestart queues a restart order at system priority and wakes the
// actor. The restart itself runs inside the run loop, after any in-flight
// handler has returned, so it never overlaps Receive.
func (p *process) requestRestart(reason error) {
	if p.terminated.Load() {
		return
	}
	_ = p.mailbox.Enqueue(&Envelope{
		Message:  restartPill{reason: reason},
		Sender:   noSender,
		Receiver: p.ref,
		Priority: prioritySystem,
	})
	p.resume()
}

// requestStop queues a poison pill at system priority and wakes the actor,
// lifting any suspension so the stop cannot hang.
func (p *process) requestStop() {
	if p.terminated.Load() {
		return
	}
	_ = p.mailbox.Enqueue(&Envelope{
		Message:  poisonPill{},
		Sender:   noSender,
		Receiver: p.ref,
		Priority: prioritySystem,
	})
	p.resume()
}

// performRestart replaces the Receiver with a fresh instance from the
// Producer. The path and the mailbox survive; actor state and the behavior
// stack do not. Runs inside the run loop. A panic out of the new instance's
// startup re-enters supervision as a fresh failure. Children left suspended
// by an escalated failure are restarted along with their parent.
func (p *process) performRestart(reason error) {
	if p.terminated.Load() {
		return
	}
	if err := p.invokeDirect(Restarting{Reason: reason}); err != nil {
		p.system.logger.WithField("actor", p.path).
			WithError(err).Warn("actor panicked while restarting")
	}
	p.receiver = p.props.produce()
	p.ctx.resetBehavior()
	p.restarted = true
	if err := p.invokeDirect(Started{}); err != nil {
		panic(err)
	}
	for _, child := range p.ctx.Children() {
		if lr, ok := child.(*localRef); ok && lr.proc.suspended.Load() {
			lr.proc.requestRestart(reason)
		}
	}
}

// resume lifts a suspension and wakes the actor if mail is pending.
func (p *process) resume() {
	p.suspended.Store(false)
	if p.mailbox.Len() > 0 {
		p.scheduleRun()
	}
}

// resumeTree resumes the actor and every descendant still suspended, so a
// resume directive on an escalated failure also releases the actor where
// the failure originated.
func (p *process) resumeTree() {
	p.resume()
	for _, child := range p.ctx.Children() {
		if lr, ok := child.(*localRef); ok && lr.proc.suspended.Load() {
			lr.proc.resumeTree()
		}
	}
}
