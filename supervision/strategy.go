// Package supervision decides what happens when an actor fails. It operates
// on actor paths through injected handler callbacks, so it carries no
// dependency on the runtime package that uses it.
package supervision

import (
	"context"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

// Directive is the outcome of a supervision decision.
type Directive int

const (
	// DirectiveResume keeps the current instance and its state; the failing
	// message is abandoned and processing continues.
	DirectiveResume Directive = iota
	// DirectiveRestart replaces the instance with a fresh one on the same
	// path; pending mail survives.
	DirectiveRestart
	// DirectiveStop terminates the actor permanently.
	DirectiveStop
	// DirectiveEscalate pushes the failure up to the next supervisor.
	DirectiveEscalate
)

func (d Directive) String() string {
	switch d {
	case DirectiveResume:
		return "resume"
	case DirectiveRestart:
		return "restart"
	case DirectiveStop:
		return "stop"
	case DirectiveEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Decider maps a failure to a directive.
type Decider func(reason error) Directive

// Recoverable marks error types the default decider restarts on.
type Recoverable interface {
	Recoverable() bool
}

// DefaultDecider stops on interruption-style errors, restarts on failures
// marked recoverable (handler panics are), and escalates everything else.
func DefaultDecider(reason error) Directive {
	if errors.Is(reason, context.Canceled) || errors.Is(reason, context.DeadlineExceeded) {
		return DirectiveStop
	}
	var rec Recoverable
	if errors.As(reason, &rec) && rec.Recoverable() {
		return DirectiveRestart
	}
	return DirectiveEscalate
}

// Handlers are the runtime callbacks a strategy drives. The runtime binds
// them once; strategies never touch actors directly.
type Handlers struct {
	// Resume lifts the suspension of the actor at path.
	Resume func(path string)
	// Restart replaces the actor's instance. A non-nil error means the
	// fresh instance failed during startup.
	Restart func(path string, reason error) error
	// Stop terminates the actor at path.
	Stop func(path string)
	// Siblings lists the paths sharing the failing actor's supervisor,
	// including the failing actor itself.
	Siblings func(path string) []string
}

// Strategy handles one child failure and reports the directive it applied.
// DirectiveEscalate means the failure was not handled here and must climb.
type Strategy interface {
	HandleFailure(h Handlers, path string, reason error) Directive
}

// restartWindow counts restarts per path inside a sliding window, the
// "maxRetries within duration" rule. Timestamps outside the window are
// pruned on every query.
type restartWindow struct {
	mu         sync.Mutex
	maxRetries int
	within     time.Duration
	history    cmap.ConcurrentMap[string, []time.Time]
}

func newRestartWindow(maxRetries int, within time.Duration) *restartWindow {
	return &restartWindow{
		maxRetries: maxRetries,
		within:     within,
		history:    cmap.New[[]time.Time](),
	}
}

// allow records a restart attempt at path and reports whether it is still
// inside the budget.
func (w *restartWindow) allow(path string) bool {
	if w.maxRetries <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	stamps, _ := w.history.Get(path)
	kept := stamps[:0]
	for _, ts := range stamps {
		if w.within <= 0 || now.Sub(ts) < w.within {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= w.maxRetries {
		w.history.Set(path, kept)
		return false
	}
	kept = append(kept, now)
	w.history.Set(path, kept)
	return true
}

func (w *restartWindow) forget(path string) {
	w.history.Remove(path)
}

// OneForOne applies its directive to the failing child only.
type OneForOne struct {
	decider Decider
	window  *restartWindow
}

// NewOneForOne builds a one-for-one strategy allowing maxRetries restarts
// per child inside the within window; one more exhausts the budget and the
// child is stopped instead. maxRetries <= 0 means unlimited.
func NewOneForOne(maxRetries int, within time.Duration, decider Decider) *OneForOne {
	if decider == nil {
		decider = DefaultDecider
	}
	return &OneForOne{
		decider: decider,
		window:  newRestartWindow(maxRetries, within),
	}
}

func (s *OneForOne) HandleFailure(h Handlers, path string, reason error) Directive {
	switch s.decider(reason) {
	case DirectiveResume:
		h.Resume(path)
		return DirectiveResume
	case DirectiveRestart:
		return applyRestart(h, s.window, path, reason, s.HandleFailure)
	case DirectiveStop:
		s.window.forget(path)
		h.Stop(path)
		return DirectiveStop
	default:
		return DirectiveEscalate
	}
}

// AllForOne applies the directive to every child of the failing actor's
// supervisor. One shared restart window covers the group.
type AllForOne struct {
	decider Decider
	window  *restartWindow
}

func NewAllForOne(maxRetries int, within time.Duration, decider Decider) *AllForOne {
	if decider == nil {
		decider = DefaultDecider
	}
	return &AllForOne{
		decider: decider,
		window:  newRestartWindow(maxRetries, within),
	}
}

func (s *AllForOne) HandleFailure(h Handlers, path string, reason error) Directive {
	switch s.decider(reason) {
	case DirectiveResume:
		h.Resume(path)
		return DirectiveResume
	case DirectiveRestart:
		if !s.window.allow(path) {
			s.stopAll(h, path)
			return DirectiveStop
		}
		for _, sibling := range h.Siblings(path) {
			if err := h.Restart(sibling, reason); err != nil {
				s.HandleFailure(h, sibling, err)
			}
		}
		return DirectiveRestart
	case DirectiveStop:
		s.stopAll(h, path)
		return DirectiveStop
	default:
		return DirectiveEscalate
	}
}

func (s *AllForOne) stopAll(h Handlers, path string) {
	for _, sibling := range h.Siblings(path) {
		s.window.forget(sibling)
		h.Stop(sibling)
	}
}

// applyRestart runs one restart attempt under the window budget. A startup
// failure of the fresh instance re-enters the strategy as a new failure, so
// a crash-looping actor burns through its budget and stops.
func applyRestart(h Handlers, w *restartWindow, path string, reason error,
	reenter func(Handlers, string, error) Directive) Directive {
	if !w.allow(path) {
		w.forget(path)
		h.Stop(path)
		return DirectiveStop
	}
	if err := h.Restart(path, reason); err != nil {
		return reenter(h, path, err)
	}
	return DirectiveRestart
}
