package supervision

import (
	"math"
	"math/rand"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/atomic"
)

// Backoff defaults.
const (
	DefaultMultiplier   = 2.0
	DefaultRandomFactor = 0.2
	DefaultMaxRetries   = 10
	DefaultResetWindow  = 30 * time.Second
)

// RestartAlways is the decider a backoff supervisor typically wants: every
// failure is a restart, delay growth does the damping.
func RestartAlways(error) Directive { return DirectiveRestart }

// BackoffState is the per-child restart accounting.
type BackoffState struct {
	RestartCount int
	LastFailure  time.Time
}

// pendingRestart is a scheduled restart attempt. Cancel is idempotent.
type pendingRestart struct {
	timer     *time.Timer
	cancelled *atomic.Bool
}

func (p *pendingRestart) Cancel() bool {
	if p.cancelled.CAS(false, true) {
		p.timer.Stop()
		return true
	}
	return false
}

// BackoffSupervisor restarts failing children with exponentially growing
// delays. The delay for attempt n is
//
//	min(maxDelay, initialDelay * multiplier^n)
//
// with a jitter of +/- randomFactor applied on top. After maxRetries
// consecutive failures the child is stopped for good. A child that stays
// healthy for the reset window after a restart gets its counter zeroed.
type BackoffSupervisor struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	randomFactor float64
	maxRetries   int
	resetWindow  time.Duration
	decider      Decider

	mu      sync.Mutex
	states  cmap.ConcurrentMap[string, *BackoffState]
	pending cmap.ConcurrentMap[string, *pendingRestart]
	rng     *rand.Rand
}

// BackoffOption customises a BackoffSupervisor.
type BackoffOption func(*BackoffSupervisor)

// WithMultiplier sets the per-attempt delay growth factor.
func WithMultiplier(m float64) BackoffOption {
	return func(b *BackoffSupervisor) {
		if m >= 1 {
			b.multiplier = m
		}
	}
}

// WithRandomFactor sets the jitter fraction; 0 disables jitter.
func WithRandomFactor(f float64) BackoffOption {
	return func(b *BackoffSupervisor) {
		if f >= 0 {
			b.randomFactor = f
		}
	}
}

// WithMaxRetries sets how many consecutive restarts are attempted before
// giving up. <= 0 means never give up.
func WithMaxRetries(n int) BackoffOption {
	return func(b *BackoffSupervisor) { b.maxRetries = n }
}

// WithResetWindow sets how long a restarted child must stay healthy before
// its restart counter resets to zero.
func WithResetWindow(d time.Duration) BackoffOption {
	return func(b *BackoffSupervisor) {
		if d > 0 {
			b.resetWindow = d
		}
	}
}

// WithBackoffDecider overrides the failure classifier. The default restarts
// on every failure.
func WithBackoffDecider(d Decider) BackoffOption {
	return func(b *BackoffSupervisor) {
		if d != nil {
			b.decider = d
		}
	}
}

// NewBackoff builds a backoff supervisor growing from initialDelay and
// capped at maxDelay.
func NewBackoff(initialDelay, maxDelay time.Duration, opts ...BackoffOption) *BackoffSupervisor {
	b := &BackoffSupervisor{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   DefaultMultiplier,
		randomFactor: DefaultRandomFactor,
		maxRetries:   DefaultMaxRetries,
		resetWindow:  DefaultResetWindow,
		decider:      RestartAlways,
		states:       cmap.New[*BackoffState](),
		pending:      cmap.New[*pendingRestart](),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delay is the unjittered delay for the given restart count.
func (b *BackoffSupervisor) Delay(restartCount int) time.Duration {
	d := float64(b.initialDelay) * math.Pow(b.multiplier, float64(restartCount))
	if max := float64(b.maxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

func (b *BackoffSupervisor) jittered(d time.Duration) time.Duration {
	if b.randomFactor == 0 {
		return d
	}
	b.mu.Lock()
	f := 1 + b.randomFactor*(2*b.rng.Float64()-1)
	b.mu.Unlock()
	return time.Duration(float64(d) * f)
}

// State returns a copy of the accounting for path.
func (b *BackoffSupervisor) State(path string) BackoffState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states.Get(path); ok {
		return *st
	}
	return BackoffState{}
}

// CancelRestart cancels a pending scheduled restart for path. The first call
// for a given pending attempt returns true; later calls return false.
func (b *BackoffSupervisor) CancelRestart(path string) bool {
	p, ok := b.pending.Get(path)
	if !ok {
		return false
	}
	return p.Cancel()
}

func (b *BackoffSupervisor) HandleFailure(h Handlers, path string, reason error) Directive {
	switch b.decider(reason) {
	case DirectiveResume:
		h.Resume(path)
		return DirectiveResume
	case DirectiveStop:
		b.clear(path)
		h.Stop(path)
		return DirectiveStop
	case DirectiveEscalate:
		return DirectiveEscalate
	}

	failedAt := time.Now()
	b.mu.Lock()
	st, _ := b.states.Get(path)
	if st == nil {
		st = &BackoffState{}
		b.states.Set(path, st)
	}
	if b.maxRetries > 0 && st.RestartCount >= b.maxRetries {
		b.mu.Unlock()
		b.clear(path)
		h.Stop(path)
		return DirectiveStop
	}
	count := st.RestartCount
	st.RestartCount++
	st.LastFailure = failedAt
	b.mu.Unlock()
	delay := b.jittered(b.Delay(count))

	attempt := &pendingRestart{cancelled: atomic.NewBool(false)}
	attempt.timer = time.AfterFunc(delay, func() {
		if attempt.cancelled.Load() {
			return
		}
		if err := h.Restart(path, reason); err != nil {
			b.HandleFailure(h, path, err)
			return
		}
		b.scheduleReset(path, failedAt)
	})
	b.pending.Set(path, attempt)
	return DirectiveRestart
}

// scheduleReset zeroes the restart counter once the child has gone a full
// reset window without failing again.
func (b *BackoffSupervisor) scheduleReset(path string, failedAt time.Time) {
	time.AfterFunc(b.resetWindow, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		st, ok := b.states.Get(path)
		if !ok {
			return
		}
		if st.LastFailure.Equal(failedAt) {
			st.RestartCount = 0
		}
	})
}

func (b *BackoffSupervisor) clear(path string) {
	if p, ok := b.pending.Get(path); ok {
		p.Cancel()
	}
	b.pending.Remove(path)
	b.states.Remove(path)
}
