// monitor.go bridges the PID file watcher and process validator into
// lifecycle transitions (spec.md §4.3's transition table), emitting the
// resulting MoverLifecycleEvents for the orchestrator to consume. It
// covers the externally-triggered transitions (WAITING->STARTED,
// {STARTED,MONITORING}->COMPLETED); the orchestrator drives
// STARTED->MONITORING itself once it has captured a baseline sample.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/moverstatus/moverd/internal/lifecycle"
	"github.com/moverstatus/moverd/internal/logging"
	"github.com/moverstatus/moverd/internal/pidwatch"
	"github.com/moverstatus/moverd/internal/process"
)

type monitor struct {
	sm              *lifecycle.StateMachine
	pidFile         string
	checkInterval   time.Duration
	processTimeout  time.Duration
	processNameHint string
	logger          *slog.Logger
}

// run drives sm off both PID-file observations and a periodic liveness
// re-check (catching a process that died without the PID file itself
// changing), emitting each resulting lifecycle.Event. The returned
// channel closes when ctx is cancelled.
func (m *monitor) run(ctx context.Context) <-chan lifecycle.Event {
	out := make(chan lifecycle.Event)

	go func() {
		defer close(out)

		fileEvents := pidwatch.Watch(ctx, m.pidFile, m.checkInterval, m.logger)
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()

		emit := func(evt lifecycle.Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case fe, open := <-fileEvents:
				if !open {
					return
				}
				if !m.handleFileEvent(ctx, fe, emit) {
					return
				}

			case <-ticker.C:
				if !m.checkLiveness(emit) {
					return
				}
			}
		}
	}()

	return out
}

func (m *monitor) handleFileEvent(ctx context.Context, fe pidwatch.Event, emit func(lifecycle.Event) bool) bool {
	switch fe.Type {
	case pidwatch.EventCreated:
		state, _ := m.sm.Current()
		if state != lifecycle.StateWaiting && state != lifecycle.StateCompleted {
			return true
		}
		timeoutCtx, cancel := context.WithTimeout(ctx, m.processTimeout)
		alive := process.ValidateWithTimeout(timeoutCtx, fe.PID) && process.IsRunningWithHint(fe.PID, m.processNameHint)
		cancel()
		if !alive {
			return true
		}
		evt, err := m.sm.Transition(state, lifecycle.StateStarted, fe.PID, "pid file created")
		if err != nil {
			return true
		}
		return emit(evt)

	case pidwatch.EventDeleted:
		state, _ := m.sm.Current()
		if state != lifecycle.StateStarted && state != lifecycle.StateMonitoring {
			return true
		}
		return m.complete(state, "pid file deleted", emit)

	case pidwatch.EventModified:
		state, _ := m.sm.Current()
		if state != lifecycle.StateMonitoring {
			return true
		}
		return m.complete(state, "pid file modified", emit)
	}
	return true
}

func (m *monitor) checkLiveness(emit func(lifecycle.Event) bool) bool {
	state, pid := m.sm.Current()
	if state != lifecycle.StateStarted && state != lifecycle.StateMonitoring {
		return true
	}
	if process.IsRunningWithHint(pid, m.processNameHint) {
		return true
	}
	return m.complete(state, "pid no longer running", emit)
}

func (m *monitor) complete(from lifecycle.MoverState, message string, emit func(lifecycle.Event) bool) bool {
	completed, waiting, err := m.sm.Complete(from, message)
	if err != nil {
		m.logger.Warn("lifecycle completion failed",
			logging.NewFields().Component("orchestrator").Operation("complete").Error(err).Args()...)
		return true
	}
	if !emit(completed) {
		return false
	}
	return emit(waiting)
}
