// Package resilience is the reusable circuit breaker, retry, and graceful
// degradation kit consumed by outbound integrations. Breaker state lives
// behind one mutex; every operation is a short critical section.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned by Execute when the breaker is tripped.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe budget is exhausted.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Breaker is a circuit breaker keyed to one upstream service. The primary
// API is the check/record triple: callers that manage their own control
// flow (the DB layer) call IsOpen before the operation and RecordSuccess
// or RecordFailure after it; Execute wraps the same triple around a
// closure for everyone else.
//
// Transitions: CLOSED counts consecutive failures and trips OPEN at
// maxFailures. OPEN rejects everything until timeout has elapsed since the
// last failure, then the next check moves to HALF_OPEN. HALF_OPEN grants
// up to halfOpenMax probe slots; each success spends one unit of the
// recovery budget, and spending it all closes the breaker. Any half-open
// failure reopens immediately.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	probesInFlight int // probe slots handed out this HALF_OPEN episode
	recoveryLeft   int // successes still required before closing
	onStateChange  func(from, to State)
}

// Config holds circuit breaker configuration.
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// NewBreaker creates a new circuit breaker in the CLOSED state.
func NewBreaker(cfg Config) *Breaker {
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		timeout:       cfg.Timeout,
		halfOpenMax:   cfg.HalfOpenMax,
		state:         StateClosed,
		onStateChange: cfg.OnStateChange,
	}
}

// Name returns the breaker's service name.
func (b *Breaker) Name() string { return b.name }

// IsOpen reports whether calls should fail fast right now. While OPEN it
// returns true until timeout has elapsed since the last failure, at which
// point it transitions to HALF_OPEN as a side effect and returns false so
// the caller's operation doubles as the probe.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return false
	}
	if time.Since(b.lastFailure) > b.timeout {
		b.setState(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess reports a completed call. In CLOSED it clears the
// consecutive-failure count; in HALF_OPEN it spends one unit of the
// recovery budget, closing the breaker once the budget is exhausted.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.recoveryLeft--
		if b.recoveryLeft <= 0 {
			b.setState(StateClosed)
		}
	}
}

// RecordFailure reports a failed call. CLOSED trips OPEN once the count
// reaches the threshold; a HALF_OPEN probe failing reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// Execute runs fn under breaker protection: rejected with ErrCircuitOpen
// while tripped (fn is never called), with ErrTooManyRequests when the
// half-open probe slots are taken, and otherwise recorded as a success or
// failure by fn's return.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquireSlot(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// acquireSlot is the Execute-path admission check. It shares IsOpen's
// transition behavior but additionally meters HALF_OPEN probes.
func (b *Breaker) acquireSlot() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) > b.timeout {
			b.setState(StateHalfOpen)
			b.probesInFlight = 1
			return nil
		}
		return ErrCircuitOpen

	default: // StateHalfOpen
		if b.probesInFlight >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.probesInFlight++
		return nil
	}
}

// setState transitions and fires the callback. Must be called with b.mu
// held; the callback runs under the lock and must not call back into the
// breaker.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probesInFlight = 0
		b.recoveryLeft = b.halfOpenMax
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to CLOSED and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probesInFlight = 0
	b.recoveryLeft = 0
	b.setState(StateClosed)
}

// ForceOpen trips the breaker regardless of the failure count, e.g. from
// an external degradation probe.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	b.setState(StateOpen)
}

// BreakerGroup manages one breaker per named service, created lazily from
// a shared default configuration.
type BreakerGroup struct {
	mu       sync.Mutex
	defaults Config
	breakers map[string]*Breaker
}

// NewBreakerGroup creates a breaker group; defaultConfig supplies
// MaxFailures/Timeout/HalfOpenMax/OnStateChange for every breaker it creates.
func NewBreakerGroup(defaultConfig Config) *BreakerGroup {
	return &BreakerGroup{
		defaults: defaultConfig,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the named breaker, creating it on first access.
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[name]
	if !ok {
		cfg := g.defaults
		cfg.Name = name
		b = NewBreaker(cfg)
		g.breakers[name] = b
	}
	return b
}

// Execute runs fn under the named breaker.
func (g *BreakerGroup) Execute(ctx context.Context, name string, fn func() error) error {
	return g.Get(name).Execute(ctx, fn)
}

// States snapshots every known breaker's current state.
func (g *BreakerGroup) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	states := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		states[name] = b.State()
	}
	return states
}
