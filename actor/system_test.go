package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/troupe-go/troupe/supervision"
)

// waitUntil polls cond until it holds or the timeout passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func newTestSystem(opts ...SystemOption) (*System, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewSystem(append([]SystemOption{WithLogger(logger)}, opts...)...), hook
}

// recorder captures every non-lifecycle message it receives.
type recorder struct {
	mu       sync.Mutex
	messages []any
	senders  []string
}

func (r *recorder) Receive(ctx *Context) {
	switch ctx.Message().(type) {
	case Started, Stopping, Stopped, Restarting:
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ctx.Message())
	r.senders = append(r.senders, ctx.Sender().Path())
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.messages))
	copy(out, r.messages)
	return out
}

func TestTellDeliversInOrder(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	rec := &recorder{}
	ref, err := sys.Spawn(NewProps(func() Receiver { return rec }))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		ref.Tell(i, NoSender())
	}
	waitUntil(t, time.Second, func() bool { return len(rec.snapshot()) == 50 }, "all messages received")
	got := rec.snapshot()
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, got[i])
	}
}

func TestActorIsSingleThreaded(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	inFlight := atomic.NewInt32(0)
	violations := atomic.NewInt32(0)
	processed := atomic.NewInt32(0)

	props := NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(Started); ok {
				return
			}
			if inFlight.Inc() > 1 {
				violations.Inc()
			}
			time.Sleep(100 * time.Microsecond)
			inFlight.Dec()
			processed.Inc()
		})
	})
	ref, err := sys.Spawn(props)
	require.NoError(t, err)

	const senders = 10
	const perSender = 30
	var wg sync.WaitGroup
	wg.Add(senders)
	for s := 0; s < senders; s++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				ref.Tell(i, NoSender())
			}
		}()
	}
	wg.Wait()

	waitUntil(t, 5*time.Second, func() bool {
		return processed.Load() == senders*perSender
	}, "all messages processed")
	assert.Zero(t, violations.Load(), "two handlers ran concurrently for one actor")
}

func TestPriorityDrainOrder(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	gate := make(chan struct{})
	rec := &recorder{}
	props := NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			switch ctx.Message().(type) {
			case Started, Stopping, Stopped:
				return
			case string:
				<-gate
				return
			}
			rec.Receive(ctx)
		})
	})
	ref, err := sys.Spawn(props)
	require.NoError(t, err)

	// Park the actor on the gate, then queue three messages out of
	// priority order while it is busy.
	ref.Tell("block", NoSender())
	waitUntil(t, time.Second, func() bool {
		return ref.(Sizer).MailboxLen() == 0
	}, "actor parked on gate")
	for _, prio := range []int{3, 1, 2} {
		ref.TellWithPriority(prio, NoSender(), prio)
	}
	close(gate)

	waitUntil(t, time.Second, func() bool { return len(rec.snapshot()) == 3 }, "all three received")
	assert.Equal(t, []any{1, 2, 3}, rec.snapshot())
}

func TestSpawnDuplicateNameFails(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	props := NewProps(func() Receiver { return ReceiverFunc(func(*Context) {}) })
	_, err := sys.Spawn(props, "worker")
	require.NoError(t, err)

	_, err = sys.Spawn(props, "worker")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestPathIsNeverReused(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	props := NewProps(func() Receiver { return ReceiverFunc(func(*Context) {}) })
	ref, err := sys.Spawn(props, "oneshot")
	require.NoError(t, err)

	sys.Stop(ref)
	waitUntil(t, time.Second, ref.IsTerminated, "actor stopped")

	_, err = sys.Spawn(props, "oneshot")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestSpawnRejectsInvalidName(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	props := NewProps(func() Receiver { return ReceiverFunc(func(*Context) {}) })
	for _, name := range []string{"", "has space", "slash/y", "dot.dot"} {
		_, err := sys.Spawn(props, name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestTellToStoppedActorGoesToDeadLetters(t *testing.T) {
	sys, hook := newTestSystem()
	defer sys.Terminate()

	props := NewProps(func() Receiver { return ReceiverFunc(func(*Context) {}) })
	ref, err := sys.Spawn(props, "gone")
	require.NoError(t, err)
	sys.Stop(ref)
	waitUntil(t, time.Second, ref.IsTerminated, "actor stopped")

	ref.Tell("anyone home", NoSender())

	waitUntil(t, time.Second, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "dead letter" && e.Data["recipient"] == ref.Path() {
				return true
			}
		}
		return false
	}, "dead letter logged")
}

func TestTellToNoSenderPanics(t *testing.T) {
	assert.PanicsWithValue(t, ErrNoSender, func() {
		NoSender().Tell("hello", NoSender())
	})
}

func TestAskRepliesAndTimesOut(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	echo, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if s, ok := ctx.Message().(string); ok {
				ctx.Respond("echo:" + s)
			}
		})
	}))
	require.NoError(t, err)

	reply, err := echo.Ask("hi", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", reply)

	mute, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(*Context) {})
	}))
	require.NoError(t, err)

	started := time.Now()
	_, err = mute.Ask("anything", 100*time.Millisecond)
	elapsed := time.Since(started)
	assert.ErrorIs(t, err, ErrAskTimeout)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)

	// The timed-out target keeps working.
	assert.False(t, mute.IsTerminated())
	mute.Tell("still here", NoSender())
}

func TestForwardPreservesOriginalSender(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	echo, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if s, ok := ctx.Message().(string); ok {
				ctx.Respond("pong:" + s)
			}
		})
	}), "echo")
	require.NoError(t, err)

	hop2, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if s, ok := ctx.Message().(string); ok {
				ctx.Forward(s, echo)
			}
		})
	}), "hop2")
	require.NoError(t, err)

	hop1, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if s, ok := ctx.Message().(string); ok {
				ctx.Forward(s, hop2)
			}
		})
	}), "hop1")
	require.NoError(t, err)

	// The reply must come back to the asker even though the message crossed
	// two forwarding hops before reaching the echo actor.
	reply, err := hop1.Ask("ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong:ping", reply)
}

func TestBecomeUnbecome(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	rec := &recorder{}
	ref, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			switch msg := ctx.Message().(type) {
			case Started:
			case string:
				if msg == "switch" {
					ctx.Become(func(alt *Context) {
						if alt.Message() == "back" {
							alt.Unbecome()
							return
						}
						rec.mu.Lock()
						rec.messages = append(rec.messages, "alt:"+alt.Message().(string))
						rec.mu.Unlock()
					})
					return
				}
				rec.mu.Lock()
				rec.messages = append(rec.messages, "base:"+msg)
				rec.mu.Unlock()
			}
		})
	}))
	require.NoError(t, err)

	for _, msg := range []string{"a", "switch", "b", "back", "c"} {
		ref.Tell(msg, NoSender())
	}
	waitUntil(t, time.Second, func() bool { return len(rec.snapshot()) == 3 }, "three handled")
	assert.Equal(t, []any{"base:a", "alt:b", "base:c"}, rec.snapshot())
}

func TestChildSpawnAndCascadingStop(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	var mu sync.Mutex
	var child ActorRef
	var spawnErr error
	parent, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(Started); ok {
				ref, aerr := ctx.ActorOf(NewProps(func() Receiver {
					return ReceiverFunc(func(*Context) {})
				}), "kid")
				mu.Lock()
				child, spawnErr = ref, aerr
				mu.Unlock()
			}
		})
	}), "parent")
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return child != nil
	}, "child spawned")

	mu.Lock()
	kid := child
	require.NoError(t, spawnErr)
	mu.Unlock()
	assert.Equal(t, "/user/parent/kid", kid.Path())

	sys.Stop(parent)
	waitUntil(t, time.Second, parent.IsTerminated, "parent stopped")
	waitUntil(t, time.Second, kid.IsTerminated, "child stopped with parent")
}

func TestPanicRestartsActorWithFreshState(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	instances := atomic.NewInt32(0)
	pings := make(chan int32, 1)
	props := NewProps(func() Receiver {
		n := instances.Inc()
		return ReceiverFunc(func(ctx *Context) {
			switch ctx.Message() {
			case "boom":
				panic("kaboom")
			case "ping":
				pings <- n
			}
		})
	})
	ref, err := sys.Spawn(props, "fragile")
	require.NoError(t, err)
	waitUntil(t, time.Second, func() bool { return instances.Load() == 1 }, "first instance up")

	ref.Tell("boom", NoSender())
	waitUntil(t, 2*time.Second, func() bool { return instances.Load() == 2 }, "restarted instance")

	ref.Tell("ping", NoSender())
	select {
	case n := <-pings:
		assert.Equal(t, int32(2), n, "ping should reach the fresh instance")
	case <-time.After(time.Second):
		t.Fatal("restarted actor never processed the ping")
	}
	assert.False(t, ref.IsTerminated())
	assert.Equal(t, "/user/fragile", ref.Path(), "path survives restart")
}

func TestGuardianStrategyStopDirective(t *testing.T) {
	stopAll := func(error) supervision.Directive { return supervision.DirectiveStop }
	sys, _ := newTestSystem(WithGuardianStrategy(
		supervision.NewOneForOne(0, 0, stopAll)))
	defer sys.Terminate()

	ref, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if ctx.Message() == "boom" {
				panic("kaboom")
			}
		})
	}))
	require.NoError(t, err)

	ref.Tell("boom", NoSender())
	waitUntil(t, 2*time.Second, ref.IsTerminated, "actor stopped by directive")
}

func TestMailboxSurvivesRestart(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	gate := make(chan struct{})
	rec := &recorder{}
	props := NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			switch msg := ctx.Message().(type) {
			case Started, Stopping, Stopped, Restarting:
			case string:
				if msg == "boom" {
					<-gate
					panic("kaboom")
				}
				rec.Receive(ctx)
			}
		})
	})
	ref, err := sys.Spawn(props)
	require.NoError(t, err)

	// Queue user mail behind the failing message; it must still be
	// delivered after the restart.
	ref.Tell("boom", NoSender())
	waitUntil(t, time.Second, func() bool {
		return ref.(Sizer).MailboxLen() == 0
	}, "actor picked up the failing message")
	ref.Tell("after-1", NoSender())
	ref.Tell("after-2", NoSender())
	close(gate)

	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 2 }, "queued mail delivered")
	assert.Equal(t, []any{"after-1", "after-2"}, rec.snapshot())
}

func TestAllForOneRestartWaitsForRunningSibling(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	inFlight := atomic.NewInt32(0)
	violations := atomic.NewInt32(0)
	slowInstances := atomic.NewInt32(0)
	crashInstances := atomic.NewInt32(0)
	completed := atomic.NewInt32(0)
	entered := make(chan struct{}, 1)

	slowProps := NewProps(func() Receiver {
		slowInstances.Inc()
		return ReceiverFunc(func(ctx *Context) {
			if ctx.Message() == "work" {
				if inFlight.Inc() > 1 {
					violations.Inc()
				}
				entered <- struct{}{}
				time.Sleep(150 * time.Millisecond)
				inFlight.Dec()
				completed.Inc()
			}
		})
	})
	crashProps := NewProps(func() Receiver {
		crashInstances.Inc()
		return ReceiverFunc(func(ctx *Context) {
			if ctx.Message() == "boom" {
				panic("kaboom")
			}
		})
	})

	var mu sync.Mutex
	var slow, crash ActorRef
	_, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(Started); ok {
				a, _ := ctx.ActorOf(slowProps, "slow")
				b, _ := ctx.ActorOf(crashProps, "crash")
				mu.Lock()
				slow, crash = a, b
				mu.Unlock()
			}
		})
	}, WithSupervisor(supervision.NewAllForOne(5, time.Hour, supervision.DefaultDecider))), "group")
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slow != nil && crash != nil
	}, "children spawned")
	mu.Lock()
	slowRef, crashRef := slow, crash
	mu.Unlock()

	// Park the slow sibling inside its handler, then crash the other one.
	// The all-for-one restart of the slow sibling must wait for the
	// in-flight handler instead of re-entering Receive concurrently.
	slowRef.Tell("work", NoSender())
	<-entered
	crashRef.Tell("boom", NoSender())

	waitUntil(t, 2*time.Second, func() bool {
		return slowInstances.Load() == 2 && crashInstances.Load() == 2
	}, "both siblings restarted")
	assert.Zero(t, violations.Load(), "Receive re-entered while a handler was running")
	assert.Equal(t, int32(1), completed.Load(), "the in-flight handler must run to completion")
}

func TestClaimedEscalationRestartsSuspendedChild(t *testing.T) {
	restartAll := func(error) supervision.Directive { return supervision.DirectiveRestart }
	escalateAll := func(error) supervision.Directive { return supervision.DirectiveEscalate }
	sys, _ := newTestSystem(WithGuardianStrategy(
		supervision.NewOneForOne(0, 0, restartAll)))
	defer sys.Terminate()

	childInstances := atomic.NewInt32(0)
	parentInstances := atomic.NewInt32(0)
	pings := make(chan struct{}, 1)

	var mu sync.Mutex
	var child ActorRef
	childProps := NewProps(func() Receiver {
		childInstances.Inc()
		return ReceiverFunc(func(ctx *Context) {
			switch ctx.Message() {
			case "boom":
				panic("kaboom")
			case "ping":
				pings <- struct{}{}
			}
		})
	})
	_, err := sys.Spawn(NewProps(func() Receiver {
		parentInstances.Inc()
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(Started); ok {
				if ref, spawnErr := ctx.ActorOf(childProps, "kid"); spawnErr == nil {
					mu.Lock()
					child = ref
					mu.Unlock()
				}
			}
		})
	}, WithSupervisor(supervision.NewOneForOne(0, 0, escalateAll))), "mid")
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return child != nil
	}, "child spawned")
	mu.Lock()
	kid := child
	mu.Unlock()

	kid.Tell("boom", NoSender())

	// The parent escalates and the guardian claims the failure with a
	// restart. That restart must reach the child where the failure
	// originated, not strand it suspended.
	waitUntil(t, 2*time.Second, func() bool { return parentInstances.Load() == 2 }, "parent restarted")
	waitUntil(t, 2*time.Second, func() bool { return childInstances.Load() == 2 }, "suspended child restarted")

	kid.Tell("ping", NoSender())
	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("child never processed mail after the claimed escalation")
	}
}

func TestClaimedEscalationResumesSuspendedChild(t *testing.T) {
	resumeAll := func(error) supervision.Directive { return supervision.DirectiveResume }
	escalateAll := func(error) supervision.Directive { return supervision.DirectiveEscalate }
	sys, _ := newTestSystem(WithGuardianStrategy(
		supervision.NewOneForOne(0, 0, resumeAll)))
	defer sys.Terminate()

	pings := make(chan struct{}, 1)
	var mu sync.Mutex
	var child ActorRef
	childProps := NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			switch ctx.Message() {
			case "boom":
				panic("kaboom")
			case "ping":
				pings <- struct{}{}
			}
		})
	})
	_, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(Started); ok {
				if ref, spawnErr := ctx.ActorOf(childProps, "kid"); spawnErr == nil {
					mu.Lock()
					child = ref
					mu.Unlock()
				}
			}
		})
	}, WithSupervisor(supervision.NewOneForOne(0, 0, escalateAll))), "mid")
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return child != nil
	}, "child spawned")
	mu.Lock()
	kid := child
	mu.Unlock()

	kid.Tell("boom", NoSender())
	kid.Tell("ping", NoSender())
	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("resume directive on the escalated failure never released the child")
	}
}

func TestFixedPoolQueuesUnboundedSubmissions(t *testing.T) {
	sys, _ := newTestSystem(WithDispatchers(
		NewDispatcher("serial", WithFixedPool(1))))
	defer sys.Terminate()

	gate := make(chan struct{})
	blocker, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if ctx.Message() == "block" {
				<-gate
			}
		})
	}, WithDispatcher("serial")))
	require.NoError(t, err)
	blocker.Tell("block", NoSender())

	// With the single worker parked, pile up far more pending batches than
	// any fixed-size submit buffer would hold. Every Tell must return
	// without blocking the sender.
	processed := atomic.NewInt32(0)
	props := NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(string); ok {
				processed.Inc()
			}
		})
	}, WithDispatcher("serial"))
	const actors = 1200
	for i := 0; i < actors; i++ {
		ref, spawnErr := sys.Spawn(props)
		require.NoError(t, spawnErr)
		ref.Tell("work", NoSender())
	}
	close(gate)

	waitUntil(t, 10*time.Second, func() bool {
		return processed.Load() == actors
	}, "backlog drained after the worker freed up")
}

func TestStopSelfCompletesCurrentMessage(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	completed := atomic.NewBool(false)
	ref, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if ctx.Message() == "quit" {
				ctx.StopSelf()
				completed.Store(true)
			}
		})
	}))
	require.NoError(t, err)

	ref.Tell("quit", NoSender())
	waitUntil(t, time.Second, ref.IsTerminated, "actor stopped itself")
	assert.True(t, completed.Load(), "the handler must finish before Stopping is delivered")
}

func TestTerminateStopsEverything(t *testing.T) {
	sys, _ := newTestSystem()

	var refs []ActorRef
	props := NewProps(func() Receiver { return ReceiverFunc(func(*Context) {}) })
	for i := 0; i < 5; i++ {
		ref, err := sys.Spawn(props)
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	require.NoError(t, sys.Terminate())
	for _, ref := range refs {
		assert.True(t, ref.IsTerminated())
	}

	_, err := sys.Spawn(props)
	assert.ErrorIs(t, err, ErrSystemStopping)
}

func TestLifecycleHooks(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	ref, err := sys.Spawn(NewProps(func() Receiver {
		return &hookedReceiver{record: record}
	}), "hooked")
	require.NoError(t, err)

	ref.Tell("boom", NoSender())
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return contains(events, "postRestart")
	}, "restart hooks fired")

	sys.Stop(ref)
	waitUntil(t, time.Second, ref.IsTerminated, "actor stopped")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"preStart", "preRestart", "postRestart", "postStop"}, events)
}

type hookedReceiver struct {
	record func(string)
}

func (h *hookedReceiver) Receive(ctx *Context) {
	if ctx.Message() == "boom" {
		panic("kaboom")
	}
}

func (h *hookedReceiver) PreStart(*Context)          { h.record("preStart") }
func (h *hookedReceiver) PreRestart(*Context, error) { h.record("preRestart") }
func (h *hookedReceiver) PostRestart(*Context)       { h.record("postRestart") }
func (h *hookedReceiver) PostStop(*Context)          { h.record("postStop") }

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
