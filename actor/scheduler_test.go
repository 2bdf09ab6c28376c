package actor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestScheduleOnceDelivers(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	got := make(chan any, 1)
	target, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if s, ok := ctx.Message().(string); ok {
				got <- s
			}
		})
	}))
	require.NoError(t, err)

	scheduleOnce(10*time.Millisecond, target, "tick", NoSender())
	select {
	case msg := <-got:
		assert.Equal(t, "tick", msg)
	case <-time.After(time.Second):
		t.Fatal("scheduled message never arrived")
	}
}

func TestScheduleCancelIsIdempotent(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	delivered := atomic.NewInt32(0)
	target, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(string); ok {
				delivered.Inc()
			}
		})
	}))
	require.NoError(t, err)

	task := scheduleOnce(50*time.Millisecond, target, "tick", NoSender())
	assert.True(t, task.Cancel(), "first cancel wins")
	assert.False(t, task.Cancel(), "second cancel is a no-op")
	assert.False(t, task.Cancel())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, delivered.Load(), "cancelled send must not fire")
}

func TestScheduleAtFixedRateRepeats(t *testing.T) {
	sys, _ := newTestSystem()
	defer sys.Terminate()

	ticks := atomic.NewInt32(0)
	target, err := sys.Spawn(NewProps(func() Receiver {
		return ReceiverFunc(func(ctx *Context) {
			if _, ok := ctx.Message().(string); ok {
				ticks.Inc()
			}
		})
	}))
	require.NoError(t, err)

	task := scheduleAtFixedRate(5*time.Millisecond, 5*time.Millisecond, target, "tick", NoSender())
	waitUntil(t, time.Second, func() bool { return ticks.Load() >= 3 }, "at least three ticks")
	assert.True(t, task.Cancel())

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), settled+1, "ticker must stop after cancel")
}
