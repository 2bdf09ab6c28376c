package actor

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/troupe-go/troupe/supervision"
)

const (
	guardianPath    = "/user"
	deadLettersPath = "/system/deadLetters"

	shutdownTimeout = 10 * time.Second
)

// System owns the actor registry, the dispatchers and the failure routing.
// All actors spawned through it live under the /user guardian.
type System struct {
	logger      *logrus.Logger
	registry    cmap.ConcurrentMap[string, *process]
	tombstones  cmap.ConcurrentMap[string, struct{}]
	dispatchers map[string]*Dispatcher
	stopping    *atomic.Bool

	guardian    *process
	deadLetters *process

	defaultStrategy supervision.Strategy
	guardianOpts    []PropsOption
}

// SystemOption customises a System at construction.
type SystemOption func(*System)

// WithLogger replaces the default logrus standard logger.
func WithLogger(logger *logrus.Logger) SystemOption {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDispatchers registers additional named dispatchers. Registering one
// named "default" replaces the built-in default.
func WithDispatchers(dispatchers ...*Dispatcher) SystemOption {
	return func(s *System) {
		for _, d := range dispatchers {
			s.dispatchers[d.Name()] = d
		}
	}
}

// WithGuardianStrategy sets the strategy governing top-level actors.
func WithGuardianStrategy(strategy supervision.Strategy) SystemOption {
	return func(s *System) {
		s.guardianOpts = append(s.guardianOpts, WithSupervisor(strategy))
	}
}

// WithDefaultStrategy replaces the fallback strategy used for actors whose
// parent carries none.
func WithDefaultStrategy(strategy supervision.Strategy) SystemOption {
	return func(s *System) {
		if strategy != nil {
			s.defaultStrategy = strategy
		}
	}
}

// NewSystem builds and starts an actor system.
func NewSystem(opts ...SystemOption) *System {
	s := &System{
		logger:      logrus.StandardLogger(),
		registry:    cmap.New[*process](),
		tombstones:  cmap.New[struct{}](),
		dispatchers: map[string]*Dispatcher{},
		stopping:    atomic.NewBool(false),
		defaultStrategy: supervision.NewOneForOne(
			10, 30*time.Second, supervision.DefaultDecider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.dispatchers[DefaultDispatcherName]; !ok {
		s.dispatchers[DefaultDispatcherName] = NewDispatcher(DefaultDispatcherName)
	}

	noop := NewProps(func() Receiver {
		return ReceiverFunc(func(*Context) {})
	}, s.guardianOpts...)
	s.guardian = newProcess(s, guardianPath, noop, noSender)
	s.registry.Set(guardianPath, s.guardian)
	s.guardian.start()

	dlProps := NewProps(func() Receiver {
		return &deadLetterReceiver{logger: s.logger}
	})
	s.deadLetters = newProcess(s, deadLettersPath, dlProps, noSender)
	s.registry.Set(deadLettersPath, s.deadLetters)
	s.deadLetters.start()

	return s
}

// Logger is the system's structured logger.
func (s *System) Logger() *logrus.Logger { return s.logger }

// NoSender returns the distinguished no-reply sender reference.
func (s *System) NoSender() ActorRef { return noSender }

// DeadLetters is the ref of the dead-letter actor.
func (s *System) DeadLetters() ActorRef { return s.deadLetters.ref }

func (s *System) dispatcher(name string) *Dispatcher {
	if d, ok := s.dispatchers[name]; ok {
		return d
	}
	return s.dispatchers[DefaultDispatcherName]
}

// Spawn creates a top-level actor under /user. With no name a generated one
// is used. Names are never reused: spawning with the name of a terminated
// actor fails with ErrNameTaken.
func (s *System) Spawn(props *Props, name ...string) (ActorRef, error) {
	return s.spawnChild(s.guardian, props, name...)
}

// Lookup finds a live actor by absolute path.
func (s *System) Lookup(path string) (ActorRef, bool) {
	p, ok := s.registry.Get(path)
	if !ok {
		return nil, false
	}
	return p.ref, true
}

func (s *System) spawnChild(parent *process, props *Props, name ...string) (ActorRef, error) {
	if s.stopping.Load() {
		return nil, ErrSystemStopping
	}
	var childName string
	if len(name) > 0 {
		childName = name[0]
		if err := validateName(childName); err != nil {
			return nil, err
		}
	} else {
		childName = "actor-" + uuid.NewString()
	}
	path := joinPath(parent.path, childName)
	if s.tombstones.Has(path) {
		return nil, errors.Wrapf(ErrNameTaken, "%q", path)
	}
	proc := newProcess(s, path, props, parent.ref)
	if !s.registry.SetIfAbsent(path, proc) {
		return nil, errors.Wrapf(ErrNameTaken, "%q", path)
	}
	parent.ctx.children.Set(childName, proc.ref)
	proc.start()
	return proc.ref, nil
}

// Stop terminates the actor behind ref. The stop order goes through the
// actor's own run loop, so a handler in flight always finishes first;
// suspended actors are woken to process it.
func (s *System) Stop(ref ActorRef) {
	if proc, ok := s.registry.Get(ref.Path()); ok {
		proc.requestStop()
	}
}

// Terminate stops every actor and shuts the dispatchers down. It blocks
// until all actors have stopped or the shutdown timeout passes.
func (s *System) Terminate() error {
	if !s.stopping.CAS(false, true) {
		return nil
	}
	procs := s.registry.Items()
	s.Stop(s.guardian.ref)

	g := new(errgroup.Group)
	for path, proc := range procs {
		if proc == s.deadLetters {
			continue
		}
		path, proc := path, proc
		g.Go(func() error {
			select {
			case <-proc.done:
				return nil
			case <-time.After(shutdownTimeout):
				proc.suspended.Store(true)
				proc.terminate()
				return errors.Errorf("actor %s did not stop in time", path)
			}
		})
	}
	err := g.Wait()

	s.Stop(s.deadLetters.ref)
	select {
	case <-s.deadLetters.done:
	case <-time.After(shutdownTimeout):
		s.deadLetters.terminate()
	}
	for _, d := range s.dispatchers {
		d.shutdown()
	}
	return err
}

func (s *System) removeProcess(p *process) {
	s.registry.Remove(p.path)
	s.tombstones.Set(p.path, struct{}{})
	if parent, ok := s.registry.Get(parentPath(p.path)); ok {
		parent.ctx.children.Remove(pathName(p.path))
	}
}

// deadLetter routes an undeliverable message to the dead-letter actor.
// Already-wrapped dead letters and poison pills are logged or dropped here
// so the rerouting cannot loop.
func (s *System) deadLetter(msg any, sender ActorRef, recipientPath string) {
	switch msg.(type) {
	case poisonPill, restartPill:
		return
	}
	if dead, ok := msg.(DeadLetter); ok {
		s.logDeadLetter(dead)
		return
	}
	dead := DeadLetter{Message: msg, Sender: sender, RecipientPath: recipientPath}
	if s.deadLetters == nil || s.deadLetters.terminated.Load() {
		s.logDeadLetter(dead)
		return
	}
	s.deadLetters.ref.Tell(dead, noSender)
}

func (s *System) logDeadLetter(dead DeadLetter) {
	s.logger.WithFields(logrus.Fields{
		"recipient": dead.RecipientPath,
	}).Warn("dead letter")
}

// handleFailure routes a failure up the supervision chain. The failing
// actor is already suspended. An escalation makes the parent the failing
// actor; a failure nobody claims stops the subtree it reached.
func (s *System) handleFailure(path string, reason error) {
	s.logger.WithFields(logrus.Fields{
		"actor": path,
	}).WithError(reason).Error("actor failed")

	h := s.supervisionHandlers()
	failing := path
	for {
		parent := parentPath(failing)
		strategy := s.strategyFor(parent)
		if strategy == nil {
			h.Stop(failing)
			return
		}
		if d := strategy.HandleFailure(h, failing, reason); d != supervision.DirectiveEscalate {
			return
		}
		if parent == guardianPath {
			s.logger.WithFields(logrus.Fields{
				"actor": failing,
			}).WithError(reason).Error("failure unhandled at root, stopping")
			h.Stop(failing)
			return
		}
		if pp, ok := s.registry.Get(parent); ok {
			pp.suspended.Store(true)
		}
		reason = errors.Wrapf(reason, "escalated from %s", failing)
		failing = parent
	}
}

// strategyFor resolves the strategy the actor at parentPath applies to its
// children. nil when the parent is gone.
func (s *System) strategyFor(parentPath string) supervision.Strategy {
	proc, ok := s.registry.Get(parentPath)
	if !ok {
		return nil
	}
	if proc.props.strategy != nil {
		return proc.props.strategy
	}
	return s.defaultStrategy
}

func (s *System) supervisionHandlers() supervision.Handlers {
	return supervision.Handlers{
		Resume: func(path string) {
			if proc, ok := s.registry.Get(path); ok {
				proc.resumeTree()
			}
		},
		// Restart and stop orders are queued into the target's own run
		// loop; the target may still be running a handler (all-for-one
		// siblings, escalated parents) and must never see Receive
		// re-entered. Startup failures of the fresh instance re-enter
		// handleFailure from the run loop instead of being returned here.
		Restart: func(path string, reason error) error {
			if proc, ok := s.registry.Get(path); ok {
				proc.requestRestart(reason)
			}
			return nil
		},
		Stop: func(path string) {
			if proc, ok := s.registry.Get(path); ok {
				proc.requestStop()
			}
		},
		Siblings: func(path string) []string {
			parent, ok := s.registry.Get(parentPath(path))
			if !ok {
				return []string{path}
			}
			children := parent.ctx.Children()
			paths := make([]string, 0, len(children))
			for _, child := range children {
				paths = append(paths, child.Path())
			}
			return paths
		},
	}
}
