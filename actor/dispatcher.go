package actor

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// DefaultDispatcherName is the dispatcher every Props uses unless
// WithDispatcher selects another.
const DefaultDispatcherName = "default"

const defaultThroughput = 100

// executor runs dispatch batches. Implementations differ in how they map
// batches onto goroutines.
type executor interface {
	submit(task func())
	shutdown()
}

// Dispatcher owns an executor plus the batching policy. An actor assigned to
// a dispatcher has its mailbox drained in batches of at most Throughput
// envelopes per scheduled task, so one busy actor cannot monopolise a worker.
type Dispatcher struct {
	name       string
	throughput int
	exec       executor
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithThroughput caps the number of envelopes processed per batch.
func WithThroughput(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.throughput = n
		}
	}
}

// WithElasticPool runs every batch on its own goroutine. This is the default.
func WithElasticPool() DispatcherOption {
	return func(d *Dispatcher) { d.exec = newElasticExecutor() }
}

// WithFixedPool runs batches on n pooled workers fed from a shared queue.
func WithFixedPool(n int) DispatcherOption {
	return func(d *Dispatcher) { d.exec = newFixedExecutor(n) }
}

// WithSingleWorker is a fixed pool of one. Batches from all actors on the
// dispatcher run strictly one after another, which makes tests deterministic.
func WithSingleWorker() DispatcherOption {
	return func(d *Dispatcher) { d.exec = newFixedExecutor(1) }
}

// WithWorkStealingPool runs batches on n workers with per-worker queues;
// an idle worker steals from its neighbours before parking.
func WithWorkStealingPool(n int) DispatcherOption {
	return func(d *Dispatcher) { d.exec = newStealingExecutor(n) }
}

// NewDispatcher builds a named dispatcher. Without options it is elastic
// with the default throughput.
func NewDispatcher(name string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		name:       name,
		throughput: defaultThroughput,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.exec == nil {
		d.exec = newElasticExecutor()
	}
	return d
}

func (d *Dispatcher) Name() string    { return d.name }
func (d *Dispatcher) Throughput() int { return d.throughput }

func (d *Dispatcher) submit(task func()) { d.exec.submit(task) }

func (d *Dispatcher) shutdown() { d.exec.shutdown() }

// elasticExecutor spawns a goroutine per batch. shutdown waits for in-flight
// batches to finish.
type elasticExecutor struct {
	wg     sync.WaitGroup
	closed *atomic.Bool
}

func newElasticExecutor() *elasticExecutor {
	return &elasticExecutor{closed: atomic.NewBool(false)}
}

func (e *elasticExecutor) submit(task func()) {
	if e.closed.Load() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

func (e *elasticExecutor) shutdown() {
	e.closed.Store(true)
	e.wg.Wait()
}

// fixedExecutor feeds n workers from one shared unbounded queue. submit
// never blocks, whatever the backlog; tells stay asynchronous even when
// every worker is busy.
type fixedExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	wg     sync.WaitGroup
}

func newFixedExecutor(n int) *fixedExecutor {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	e := &fixedExecutor{}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(n)
	for i := 0; i < n; i++ {
		go e.worker()
	}
	return e
}

func (e *fixedExecutor) worker() {
	defer e.wg.Done()
	e.mu.Lock()
	for {
		for len(e.tasks) > 0 {
			task := e.tasks[0]
			e.tasks[0] = nil
			e.tasks = e.tasks[1:]
			e.mu.Unlock()
			task()
			e.mu.Lock()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.cond.Wait()
	}
}

func (e *fixedExecutor) submit(task func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.tasks = append(e.tasks, task)
	e.cond.Signal()
}

func (e *fixedExecutor) shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	e.wg.Wait()
}

// stealingExecutor keeps a queue per worker. submit round-robins across the
// queues; a worker that drains its own queue scans the others and steals the
// oldest task before parking on the wakeup channel.
type stealingExecutor struct {
	queues []*stealQueue
	next   *atomic.Uint64
	wake   chan struct{}
	done   chan struct{}
	closed *atomic.Bool
	wg     sync.WaitGroup
}

type stealQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *stealQueue) push(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

func (q *stealQueue) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task
}

func newStealingExecutor(n int) *stealingExecutor {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	e := &stealingExecutor{
		queues: make([]*stealQueue, n),
		next:   atomic.NewUint64(0),
		wake:   make(chan struct{}, n),
		done:   make(chan struct{}),
		closed: atomic.NewBool(false),
	}
	for i := range e.queues {
		e.queues[i] = &stealQueue{}
	}
	e.wg.Add(n)
	for i := 0; i < n; i++ {
		go e.worker(i)
	}
	return e
}

func (e *stealingExecutor) worker(id int) {
	defer e.wg.Done()
	for {
		if task := e.take(id); task != nil {
			task()
			continue
		}
		select {
		case <-e.wake:
		case <-e.done:
			// Drain what remains so shutdown never strands a batch.
			for {
				task := e.take(id)
				if task == nil {
					return
				}
				task()
			}
		}
	}
}

// take pops from the worker's own queue first, then steals round the ring.
func (e *stealingExecutor) take(id int) func() {
	if task := e.queues[id].pop(); task != nil {
		return task
	}
	for i := 1; i < len(e.queues); i++ {
		victim := (id + i) % len(e.queues)
		if task := e.queues[victim].pop(); task != nil {
			return task
		}
	}
	return nil
}

func (e *stealingExecutor) submit(task func()) {
	if e.closed.Load() {
		return
	}
	idx := e.next.Inc() % uint64(len(e.queues))
	e.queues[idx].push(task)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *stealingExecutor) shutdown() {
	if !e.closed.CAS(false, true) {
		return
	}
	close(e.done)
	e.wg.Wait()
}
