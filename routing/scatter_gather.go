package routing

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/troupe-go/troupe/actor"
)

// ScatterGatherFirstCompleted asks every routee in parallel and delivers the
// first reply to the caller; the slower replies are discarded.
type ScatterGatherFirstCompleted struct {
	routeeSet
}

func NewScatterGatherFirstCompleted(routees ...actor.ActorRef) *ScatterGatherFirstCompleted {
	s := &ScatterGatherFirstCompleted{}
	for _, ref := range routees {
		s.AddRoutee(ref)
	}
	return s
}

// Route fire-and-forgets to every routee.
func (s *ScatterGatherFirstCompleted) Route(msg any, sender actor.ActorRef) error {
	routees := s.Routees()
	if len(routees) == 0 {
		return ErrNoRoutees
	}
	for _, ref := range routees {
		ref.Tell(msg, sender)
	}
	return nil
}

// AskFirst asks every routee and returns the first reply. When no routee
// replies inside the timeout, the ask timeout error surfaces.
func (s *ScatterGatherFirstCompleted) AskFirst(msg any, timeout time.Duration) (any, error) {
	routees := s.Routees()
	if len(routees) == 0 {
		return nil, ErrNoRoutees
	}
	type outcome struct {
		reply any
		err   error
	}
	results := make(chan outcome, len(routees))
	for _, ref := range routees {
		ref := ref
		go func() {
			reply, err := ref.Ask(msg, timeout)
			results <- outcome{reply: reply, err: err}
		}()
	}
	var lastErr error
	for range routees {
		res := <-results
		if res.err == nil {
			return res.reply, nil
		}
		lastErr = res.err
	}
	return nil, errors.Wrap(lastErr, "scatter-gather: no routee replied")
}

// AskAll asks every routee and gathers all replies, failing on the first
// error. Reply order follows routee order.
func (s *ScatterGatherFirstCompleted) AskAll(msg any, timeout time.Duration) ([]any, error) {
	routees := s.Routees()
	if len(routees) == 0 {
		return nil, ErrNoRoutees
	}
	replies := make([]any, len(routees))
	g := new(errgroup.Group)
	for i, ref := range routees {
		i, ref := i, ref
		g.Go(func() error {
			reply, err := ref.Ask(msg, timeout)
			if err != nil {
				return errors.Wrapf(err, "asking %s", ref.Path())
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}
