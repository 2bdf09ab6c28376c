package actor

import (
	"time"

	"go.uber.org/atomic"
)

// Cancellable stops a scheduled send. Cancel is idempotent: the first call
// returns true, later calls return false. Cancelling after the send has
// fired is a no-op.
type Cancellable interface {
	Cancel() bool
}

type timerTask struct {
	cancelled *atomic.Bool
	stop      chan struct{}
}

func newTimerTask() *timerTask {
	return &timerTask{
		cancelled: atomic.NewBool(false),
		stop:      make(chan struct{}),
	}
}

func (t *timerTask) Cancel() bool {
	if t.cancelled.CAS(false, true) {
		close(t.stop)
		return true
	}
	return false
}

// scheduleOnce sends msg to ref after delay unless cancelled first.
func scheduleOnce(delay time.Duration, ref ActorRef, msg any, sender ActorRef) Cancellable {
	t := newTimerTask()
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if !t.cancelled.Load() {
				ref.Tell(msg, sender)
			}
		case <-t.stop:
		}
	}()
	return t
}

// scheduleAtFixedRate sends msg to ref after the initial delay and then on
// every tick of the interval until cancelled.
func scheduleAtFixedRate(initial, interval time.Duration, ref ActorRef, msg any, sender ActorRef) Cancellable {
	t := newTimerTask()
	go func() {
		timer := time.NewTimer(initial)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.stop:
			return
		}
		if t.cancelled.Load() {
			return
		}
		ref.Tell(msg, sender)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if t.cancelled.Load() {
					return
				}
				ref.Tell(msg, sender)
			case <-t.stop:
				return
			}
		}
	}()
	return t
}
