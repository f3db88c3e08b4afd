// Package process implements the process validator (spec.md §4.2):
// liveness checks against /proc/{pid} without ever signaling the
// process. The pattern-based identification supplement (SPEC_FULL §4.4)
// adds an optional /proc/{pid}/comm name-hint check to guard against PID
// reuse between a cycle's start and a later poll.
package process

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// IsRunning reports whether pid is alive per §6.2: existence of
// /proc/{pid}. Non-positive PIDs return false without touching the
// filesystem. Errors and missing entries return false, never an error.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat("/proc/" + strconv.Itoa(pid))
	return err == nil
}

// IsRunningWithHint behaves like IsRunning, but when hint is non-empty
// additionally requires /proc/{pid}/comm to contain hint as a
// substring, guarding against PID reuse (SPEC_FULL §4.4). An unreadable
// comm file is treated as "hint not confirmed" -> false, since the
// process may have exited between the two checks.
func IsRunningWithHint(pid int, hint string) bool {
	if !IsRunning(pid) {
		return false
	}
	if hint == "" {
		return true
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return false
	}
	return strings.Contains(strings.TrimSpace(string(data)), hint)
}

// ValidateWithTimeout wraps IsRunning in a cancellable timeout boundary.
// An expired context (or ctx already done) returns false.
func ValidateWithTimeout(ctx context.Context, pid int) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	result := make(chan bool, 1)
	go func() { result <- IsRunning(pid) }()

	select {
	case r := <-result:
		return r
	case <-ctx.Done():
		return false
	}
}
