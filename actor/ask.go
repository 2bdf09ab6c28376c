package actor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// futureRef is the synthetic sender behind Ask. The first message told to it
// resolves the future; everything after that is dropped. Expiry and
// resolution race through the same once, so a late reply after a timeout is
// discarded rather than leaked to a future caller.
type futureRef struct {
	id    string
	reply chan any
	once  sync.Once
	done  *atomic.Bool
}

func newFutureRef() *futureRef {
	return &futureRef{
		id:    uuid.NewString(),
		reply: make(chan any, 1),
		done:  atomic.NewBool(false),
	}
}

func ask(target ActorRef, msg any, timeout time.Duration) (any, error) {
	f := newFutureRef()
	target.Tell(msg, f)
	select {
	case v := <-f.reply:
		return v, nil
	case <-time.After(timeout):
		f.expire()
		return nil, errors.Wrapf(ErrAskTimeout, "asking %s after %s", target.Path(), timeout)
	}
}

func (f *futureRef) resolve(v any) {
	f.once.Do(func() {
		f.reply <- v
		f.done.Store(true)
	})
}

func (f *futureRef) expire() {
	f.once.Do(func() {
		f.done.Store(true)
	})
}

func (f *futureRef) Path() string { return "/temp/" + f.id }
func (f *futureRef) Name() string { return f.id }

func (f *futureRef) Tell(msg any, sender ActorRef) {
	f.resolve(msg)
}

func (f *futureRef) TellWithPriority(msg any, sender ActorRef, priority int) {
	f.resolve(msg)
}

func (f *futureRef) Ask(msg any, timeout time.Duration) (any, error) {
	return nil, errors.New("future references accept replies only")
}

func (f *futureRef) IsTerminated() bool { return f.done.Load() }
