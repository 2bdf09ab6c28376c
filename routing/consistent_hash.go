package routing

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/twmb/murmur3"

	"github.com/troupe-go/troupe/actor"
)

const defaultVirtualNodes = 64

// Hashable lets a message choose its own routing key. Messages without it
// are keyed on their fmt representation.
type Hashable interface {
	HashKey() string
}

// ConsistentHash routes messages with the same key to the same routee, with
// minimal reshuffling when the routee set changes. Each routee occupies
// several virtual points on a murmur3 ring.
type ConsistentHash struct {
	mu           sync.RWMutex
	routees      map[string]actor.ActorRef
	ring         []uint32
	owners       map[uint32]string
	virtualNodes int
}

// NewConsistentHash builds a hash router with the given virtual node count
// per routee; n <= 0 uses the default.
func NewConsistentHash(virtualNodes int, routees ...actor.ActorRef) *ConsistentHash {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}
	c := &ConsistentHash{
		routees:      map[string]actor.ActorRef{},
		owners:       map[uint32]string{},
		virtualNodes: virtualNodes,
	}
	for _, ref := range routees {
		c.AddRoutee(ref)
	}
	return c
}

func (c *ConsistentHash) AddRoutee(ref actor.ActorRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routees[ref.Path()]; ok {
		return
	}
	c.routees[ref.Path()] = ref
	c.rebuild()
}

func (c *ConsistentHash) RemoveRoutee(ref actor.ActorRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routees[ref.Path()]; !ok {
		return
	}
	delete(c.routees, ref.Path())
	c.rebuild()
}

func (c *ConsistentHash) Routees() []actor.ActorRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]actor.ActorRef, 0, len(c.routees))
	for _, ref := range c.routees {
		out = append(out, ref)
	}
	return out
}

// rebuild recomputes the ring; callers hold the write lock.
func (c *ConsistentHash) rebuild() {
	c.ring = c.ring[:0]
	c.owners = map[uint32]string{}
	for path := range c.routees {
		for i := 0; i < c.virtualNodes; i++ {
			point := murmur3.Sum32([]byte(path + "#" + strconv.Itoa(i)))
			if _, taken := c.owners[point]; taken {
				continue
			}
			c.owners[point] = path
			c.ring = append(c.ring, point)
		}
	}
	sort.Slice(c.ring, func(i, j int) bool { return c.ring[i] < c.ring[j] })
}

// RouteeFor resolves the routee owning the given key.
func (c *ConsistentHash) RouteeFor(key string) (actor.ActorRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ring) == 0 {
		return nil, ErrNoRoutees
	}
	point := murmur3.Sum32([]byte(key))
	idx := sort.Search(len(c.ring), func(i int) bool { return c.ring[i] >= point })
	if idx == len(c.ring) {
		idx = 0
	}
	return c.routees[c.owners[c.ring[idx]]], nil
}

func (c *ConsistentHash) Route(msg any, sender actor.ActorRef) error {
	ref, err := c.RouteeFor(messageKey(msg))
	if err != nil {
		return err
	}
	ref.Tell(msg, sender)
	return nil
}

func messageKey(msg any) string {
	if h, ok := msg.(Hashable); ok {
		return h.HashKey()
	}
	return fmt.Sprintf("%v", msg)
}
