// Package routing distributes messages across a set of routee actors.
// Routers are plain values used from any goroutine; they are not actors
// themselves.
package routing

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/troupe-go/troupe/actor"
)

// ErrNoRoutees is returned when routing with an empty routee set.
var ErrNoRoutees = errors.New("router has no routees")

// Router sends a message to one or more of its routees.
type Router interface {
	// Route picks routee(s) for msg and delivers it with the given sender.
	Route(msg any, sender actor.ActorRef) error
	AddRoutee(ref actor.ActorRef)
	RemoveRoutee(ref actor.ActorRef)
	Routees() []actor.ActorRef
}

// routeeSet is the shared membership bookkeeping.
type routeeSet struct {
	mu      sync.RWMutex
	routees []actor.ActorRef
}

func (s *routeeSet) AddRoutee(ref actor.ActorRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routees {
		if r.Path() == ref.Path() {
			return
		}
	}
	s.routees = append(s.routees, ref)
}

func (s *routeeSet) RemoveRoutee(ref actor.ActorRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.routees {
		if r.Path() == ref.Path() {
			s.routees = append(s.routees[:i], s.routees[i+1:]...)
			return
		}
	}
}

func (s *routeeSet) Routees() []actor.ActorRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]actor.ActorRef, len(s.routees))
	copy(out, s.routees)
	return out
}

// RoundRobin cycles through the routees in order.
type RoundRobin struct {
	routeeSet
	next *atomic.Uint64
}

func NewRoundRobin(routees ...actor.ActorRef) *RoundRobin {
	r := &RoundRobin{next: atomic.NewUint64(0)}
	for _, ref := range routees {
		r.AddRoutee(ref)
	}
	return r
}

func (r *RoundRobin) Route(msg any, sender actor.ActorRef) error {
	routees := r.Routees()
	if len(routees) == 0 {
		return ErrNoRoutees
	}
	idx := (r.next.Inc() - 1) % uint64(len(routees))
	routees[idx].Tell(msg, sender)
	return nil
}

// Broadcast delivers every message to every routee.
type Broadcast struct {
	routeeSet
}

func NewBroadcast(routees ...actor.ActorRef) *Broadcast {
	b := &Broadcast{}
	for _, ref := range routees {
		b.AddRoutee(ref)
	}
	return b
}

func (b *Broadcast) Route(msg any, sender actor.ActorRef) error {
	routees := b.Routees()
	if len(routees) == 0 {
		return ErrNoRoutees
	}
	for _, ref := range routees {
		ref.Tell(msg, sender)
	}
	return nil
}

// SmallestMailbox picks the routee with the fewest pending messages. Routees
// that cannot report a mailbox size count as empty.
type SmallestMailbox struct {
	routeeSet
}

func NewSmallestMailbox(routees ...actor.ActorRef) *SmallestMailbox {
	s := &SmallestMailbox{}
	for _, ref := range routees {
		s.AddRoutee(ref)
	}
	return s
}

func (s *SmallestMailbox) Route(msg any, sender actor.ActorRef) error {
	routees := s.Routees()
	if len(routees) == 0 {
		return ErrNoRoutees
	}
	best := routees[0]
	bestLen := mailboxLen(best)
	for _, ref := range routees[1:] {
		if l := mailboxLen(ref); l < bestLen {
			best, bestLen = ref, l
		}
	}
	best.Tell(msg, sender)
	return nil
}

func mailboxLen(ref actor.ActorRef) int {
	if sizer, ok := ref.(actor.Sizer); ok {
		return sizer.MailboxLen()
	}
	return 0
}
