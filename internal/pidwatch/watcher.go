// Package pidwatch implements the PID file watcher (spec.md §4.1): a
// ticker-based poll loop that emits created/modified/deleted events,
// optionally woken early by an fsnotify watch on the PID file's parent
// directory (SPEC_FULL §3's domain-stack entry for fsnotify). The
// ticker remains the source of truth; fsnotify only shortens the wait.
package pidwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moverstatus/moverd/internal/logging"
)

// EventType classifies a PID file observation (spec.md §3 PIDFileEvent).
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is an immutable observation of the PID file's state changing.
// Invariant: EventType == EventDeleted implies PID == 0 (PIDs are always
// positive, so 0 doubles as "none").
type Event struct {
	Type      EventType
	PID       int
	Timestamp time.Time
}

var pidPattern = regexp.MustCompile(`^[1-9][0-9]*$`)

// parse applies §6.1's acceptance rules: strip surrounding whitespace,
// reject multi-line content and anything not matching ^[1-9][0-9]*$.
func parse(raw []byte) (pid int, ok bool) {
	s := string(raw)
	trimmed := strings.TrimSpace(s)
	// Reject interior newlines: trimming only removes leading/trailing
	// whitespace, so any remaining newline means multi-line content.
	if strings.ContainsAny(trimmed, "\n\r") {
		return 0, false
	}
	if !pidPattern.MatchString(trimmed) {
		return 0, false
	}
	var value int
	for _, r := range trimmed {
		value = value*10 + int(r-'0')
	}
	return value, true
}

// read reports whether the PID file exists and, if so, the PID it
// contains (0 if unparsable). Errors other than "not found" are logged
// but never treated as fatal — the watcher continues polling.
func read(path string, logger *slog.Logger) (exists bool, pid int) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("pid file read error",
				logging.NewFields().Component("pidwatch").Operation("read").Error(err).Args()...)
		}
		return false, 0
	}
	parsed, ok := parse(data)
	if !ok {
		return true, 0
	}
	return true, parsed
}

// Watch polls path every interval and returns a channel of Events. The
// channel is closed when ctx is cancelled; cancellation is observed
// within one interval. The first observation (whatever it is) is taken
// as the baseline and never itself produces a "created" event.
func Watch(ctx context.Context, path string, interval time.Duration, logger *slog.Logger) <-chan Event {
	logger = logging.Default(logger)
	out := make(chan Event)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var nudge <-chan fsnotify.Event
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(path)); err == nil {
				nudge = watcher.Events
			}
		}

		previouslyExisted, previousPID := read(path, logger)

		emit := func(evt Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		tick := func() bool {
			existsNow, pidNow := read(path, logger)
			now := time.Now()

			switch {
			case !previouslyExisted && existsNow:
				if !emit(Event{Type: EventCreated, PID: pidNow, Timestamp: now}) {
					return false
				}
			case previouslyExisted && !existsNow:
				if !emit(Event{Type: EventDeleted, PID: 0, Timestamp: now}) {
					return false
				}
			case previouslyExisted && existsNow && pidNow != previousPID:
				if !emit(Event{Type: EventModified, PID: pidNow, Timestamp: now}) {
					return false
				}
			}

			previouslyExisted, previousPID = existsNow, pidNow
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !tick() {
					return
				}
			case _, open := <-nudge:
				if !open {
					nudge = nil
					continue
				}
				if !tick() {
					return
				}
			}
		}
	}()

	return out
}
