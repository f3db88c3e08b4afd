// Package retry implements the retry and circuit-breaker policy (spec.md
// §4.12): per-provider circuit breakers and backoff-delayed retries.
// The breaker is adapted from the teacher's
// internal/circuitbreaker/breaker.go — State enum, Counts with
// ConsecutiveFailures/FailureRatio, a generation counter that makes
// in-flight results from a previous window stale, and
// Config.ReadyToTrip/OnStateChange hooks — generalized from the
// teacher's AOCS-specific breaker into one usable for any provider
// identifier.
package retry

import (
	"sync"
	"time"
)

// State is the circuit breaker's current state (spec.md §3 CircuitState).
type State int

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
		return "half_open"
	default:
		return "unknown"
	}
}

// Counts tracks request outcomes within the breaker's current
// generation, mirroring the teacher's Counts type.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) onRequest() { c.Requests++ }

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// FailureRatio returns TotalFailures / Requests, or 0 if no requests
// have been made yet.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

// Config parameterizes one breaker. ReadyToTrip decides, given the
// current Counts, whether Closed should transition to Open. The default
// (when ReadyToTrip is nil) trips after FailureThreshold consecutive
// failures, per spec.md §3.
type Config struct {
	Name              string
	FailureThreshold  uint32
	RecoveryTimeout   time.Duration
	HalfOpenMaxCalls  uint32
	ReadyToTrip       func(Counts) bool
	OnStateChange     func(name string, from, to State)
}

// DefaultConfig returns a Config with spec-sensible defaults: 5
// consecutive failures to trip, 30s recovery timeout, 1 probe call in
// half-open.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) readyToTrip(counts Counts) bool {
	if c.ReadyToTrip != nil {
		return c.ReadyToTrip(counts)
	}
	return counts.ConsecutiveFailures >= c.FailureThreshold
}

// CircuitBreaker guards calls to a single provider. Every state mutation
// happens under mu; a generation counter invalidates counts left over
// from a prior window so a slow call's result reported after a state
// change doesn't corrupt the new window's counts.
type CircuitBreaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// NewCircuitBreaker returns a breaker starting Closed.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State returns the breaker's current state, resolving Open -> HalfOpen
// if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(time.Now())
	return state
}

// currentState must be called with mu held. It lazily transitions
// Open -> HalfOpen once RecoveryTimeout has elapsed since opening.
func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) > cb.cfg.RecoveryTimeout {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts.clear()

	switch to {
	case StateOpen:
		cb.openedAt = now
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// Allow reports whether a call is permitted right now, incrementing the
// request count if so. ErrCircuitOpen is returned (via ok=false) when
// the breaker is open, or when it is half-open and already at its probe
// call limit.
func (cb *CircuitBreaker) Allow() (generation uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, gen := cb.currentState(now)

	switch state {
	case StateOpen:
		return gen, false
	case StateHalfOpen:
		if cb.counts.Requests >= cb.cfg.HalfOpenMaxCalls {
			return gen, false
		}
	}

	cb.counts.onRequest()
	return gen, true
}

// ReportSuccess records a successful call made under generation gen. A
// stale generation (the breaker has since moved on) is ignored.
func (cb *CircuitBreaker) ReportSuccess(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, curGen := cb.currentState(now)
	if gen != curGen {
		return
	}

	cb.counts.onSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

// ReportFailure records a failed call made under generation gen. A stale
// generation is ignored. A circuit-open rejection must NOT be reported
// through this method — per spec.md §7 it does not count toward
// consecutive-failure escalation.
func (cb *CircuitBreaker) ReportFailure(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, curGen := cb.currentState(now)
	if gen != curGen {
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	case StateClosed:
		if cb.cfg.readyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	}
}

// Counts returns a snapshot of the breaker's current-generation counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Manager owns one CircuitBreaker per provider identifier, created
// lazily on first use.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	newCfg   func(name string) Config
}

// NewManager returns a Manager. newCfg builds the Config for a provider
// identifier the first time it's seen; pass nil to use DefaultConfig.
func NewManager(newCfg func(name string) Config) *Manager {
	if newCfg == nil {
		newCfg = DefaultConfig
	}
	return &Manager{breakers: make(map[string]*CircuitBreaker), newCfg: newCfg}
}

// Get returns the breaker for identifier, creating it if necessary.
func (m *Manager) Get(identifier string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[identifier]
	if !ok {
		cb = NewCircuitBreaker(m.newCfg(identifier))
		m.breakers[identifier] = cb
	}
	return cb
}

// Remove drops the breaker for identifier, if any (provider unregistration).
func (m *Manager) Remove(identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, identifier)
}
