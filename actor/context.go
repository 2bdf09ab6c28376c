package actor

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Context is what an actor sees while handling a message. It is owned by one
// actor and must not escape the handler; Sender and Message are only valid
// for the duration of the current call.
type Context struct {
	system *System
	proc   *process
	parent ActorRef

	message   any
	sender    ActorRef
	behaviors []Behavior
	children  cmap.ConcurrentMap[string, ActorRef]
}

func newContext(system *System, proc *process, parent ActorRef) *Context {
	return &Context{
		system:   system,
		proc:     proc,
		parent:   parent,
		children: cmap.New[ActorRef](),
	}
}

// Self is the ref of the actor handling the current message.
func (c *Context) Self() ActorRef { return c.proc.ref }

// Parent is the supervising actor; NoSender for top-level actors' guardian.
func (c *Context) Parent() ActorRef { return c.parent }

// Message is the message being handled.
func (c *Context) Message() any { return c.message }

// Sender is who sent the current message. NoSender when no reply is
// expected.
func (c *Context) Sender() ActorRef {
	if c.sender == nil {
		return noSender
	}
	return c.sender
}

// System is the owning actor system.
func (c *Context) System() *System { return c.system }

// Children returns the refs of all live children.
func (c *Context) Children() []ActorRef {
	refs := make([]ActorRef, 0, c.children.Count())
	for _, ref := range c.children.Items() {
		refs = append(refs, ref)
	}
	return refs
}

// Child looks a live child up by name.
func (c *Context) Child(name string) (ActorRef, bool) {
	return c.children.Get(name)
}

// ActorOf spawns a child under this actor. With no name a uuid-derived one
// is generated. A name already used by a live or previously terminated
// sibling fails synchronously with ErrNameTaken.
func (c *Context) ActorOf(props *Props, name ...string) (ActorRef, error) {
	return c.system.spawnChild(c.proc, props, name...)
}

// Stop asynchronously stops a child (or any actor in the system).
func (c *Context) Stop(ref ActorRef) {
	c.system.Stop(ref)
}

// StopSelf terminates this actor after the current message completes. The
// stop is queued at system priority, so the running handler returns before
// Stopping and Stopped are delivered.
func (c *Context) StopSelf() {
	c.proc.requestStop()
}

// Respond sends a reply to the current sender.
func (c *Context) Respond(msg any) {
	c.Sender().Tell(msg, c.Self())
}

// Forward re-sends the current message to target, keeping the original
// sender. A later reply from target goes to that sender, not to this actor.
func (c *Context) Forward(msg any, target ActorRef) {
	target.Tell(msg, c.Sender())
}

// Schedule delivers msg to ref once, after delay, with Self as sender.
func (c *Context) Schedule(delay time.Duration, ref ActorRef, msg any) Cancellable {
	return scheduleOnce(delay, ref, msg, c.Self())
}

// ScheduleAtFixedRate delivers msg to ref after initial and then every
// interval, with Self as sender, until cancelled.
func (c *Context) ScheduleAtFixedRate(initial, interval time.Duration, ref ActorRef, msg any) Cancellable {
	return scheduleAtFixedRate(initial, interval, ref, msg, c.Self())
}

// Become pushes a behavior; subsequent messages go to it instead of Receive.
func (c *Context) Become(b Behavior) {
	c.behaviors = append(c.behaviors, b)
}

// Unbecome pops the most recent Become. With nothing pushed the actor keeps
// its own Receive; the stack never goes empty.
func (c *Context) Unbecome() {
	if len(c.behaviors) > 0 {
		c.behaviors = c.behaviors[:len(c.behaviors)-1]
	}
}

// behavior resolves the handler for the next message: the top of the Become
// stack, or the actor's own Receive.
func (c *Context) behavior() Behavior {
	if n := len(c.behaviors); n > 0 {
		return c.behaviors[n-1]
	}
	return func(ctx *Context) { c.proc.receiver.Receive(ctx) }
}

func (c *Context) resetBehavior() {
	c.behaviors = nil
}
