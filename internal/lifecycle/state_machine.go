// Package lifecycle implements the mover's per-cycle state machine:
// WAITING -> STARTED -> (MONITORING)? -> COMPLETED -> WAITING. It is
// adapted from the teacher's handshake state machine
// (internal/federation/state_machine.go): a validTransitions table, a
// recorded history of transitions, and RWMutex-guarded access, replacing
// the handshake-specific states with MoverState.
package lifecycle

import (
	"sync"
	"time"

	"github.com/moverstatus/moverd/internal/errs"
)

// MoverState is the cycle's current phase (spec.md §3 MoverState).
type MoverState int

const (
	StateWaiting MoverState = iota
	StateStarted
	StateMonitoring
	StateCompleted
)

func (s MoverState) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateStarted:
		return "STARTED"
	case StateMonitoring:
		return "MONITORING"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions mirrors spec.md §4.3's table. COMPLETED -> WAITING is
// listed here but is additionally auto-fired by Complete(); callers
// driven purely by PID-file events never need to request it explicitly.
var validTransitions = map[MoverState][]MoverState{
	StateWaiting:    {StateStarted},
	StateStarted:    {StateMonitoring, StateCompleted},
	StateMonitoring: {StateCompleted},
	StateCompleted:  {StateStarted, StateWaiting},
}

func isValidTransition(from, to MoverState) bool {
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change, mirroring MoverLifecycleEvent
// (spec.md §3) plus the bookkeeping the history needs.
type Transition struct {
	PreviousState MoverState
	NewState      MoverState
	PID           int // 0 means "no PID", since PIDs are always positive
	Timestamp     time.Time
	Message       string
}

// Event is what the state machine emits on every successful transition.
// PID is the zero value when not applicable (e.g. entering WAITING).
type Event struct {
	PreviousState MoverState
	NewState      MoverState
	PID           int
	Timestamp     time.Time
	Message       string
}

// StateMachine owns the current cycle's state and PID slot. The PID is
// stored separately from the state per spec.md §4.3: cleared on entry
// to WAITING, preserved across STARTED -> MONITORING -> COMPLETED.
type StateMachine struct {
	mu      sync.RWMutex
	current MoverState
	pid     int
	history []Transition
	nowFunc func() time.Time
}

// New returns a state machine starting in WAITING.
func New() *StateMachine {
	return &StateMachine{
		current: StateWaiting,
		nowFunc: time.Now,
	}
}

func (m *StateMachine) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

// Current returns the current state and PID slot.
func (m *StateMachine) Current() (MoverState, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.pid
}

// History returns a copy of every transition recorded so far.
func (m *StateMachine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition attempts to move the machine from its current state to to.
// It fails with errs.ErrInvalidTransition (never silently) if the
// machine is not currently in from, or if from->to is not in the valid
// transition table. PID is recorded on the resulting event/transition;
// pass 0 when the event carries no PID (e.g. an automatic COMPLETED ->
// WAITING).
func (m *StateMachine) Transition(from, to MoverState, pid int, message string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != from {
		return Event{}, errs.FailedToWithDetails("lifecycle transition", "lifecycle",
			from.String()+"->"+to.String(), errs.ErrInvalidTransition)
	}
	if !isValidTransition(from, to) {
		return Event{}, errs.FailedToWithDetails("lifecycle transition", "lifecycle",
			from.String()+"->"+to.String(), errs.ErrInvalidTransition)
	}
	if from == to {
		return Event{}, errs.FailedToWithDetails("lifecycle transition", "lifecycle",
			from.String()+"->"+to.String(), errs.ErrInvalidTransition)
	}

	ts := m.now()
	effectivePID := m.pid
	if pid != 0 {
		effectivePID = pid
	}
	if to == StateWaiting {
		effectivePID = 0
	}

	m.current = to
	m.pid = effectivePID
	m.history = append(m.history, Transition{
		PreviousState: from,
		NewState:      to,
		PID:           effectivePID,
		Timestamp:     ts,
		Message:       message,
	})

	event := Event{
		PreviousState: from,
		NewState:      to,
		PID:           effectivePID,
		Timestamp:     ts,
		Message:       message,
	}

	return event, nil
}

// Complete transitions STARTED or MONITORING into COMPLETED, then
// immediately and automatically follows up with COMPLETED -> WAITING per
// spec.md §4.3's "Automatic" row. Returns both events in order; the PID
// carried on the COMPLETED event is the cycle's PID, cleared by the time
// the WAITING event is observed.
func (m *StateMachine) Complete(from MoverState, message string) (completed Event, waiting Event, err error) {
	completed, err = m.Transition(from, StateCompleted, 0, message)
	if err != nil {
		return Event{}, Event{}, err
	}
	waiting, err = m.Transition(StateCompleted, StateWaiting, 0, "cycle reset")
	if err != nil {
		return completed, Event{}, err
	}
	return completed, waiting, nil
}
