// Package logging provides a small structured-field builder shared by every
// subsystem so log lines carry consistent keys regardless of which
// component emits them.
package logging

import (
	"log/slog"
	"time"
)

// Fields is an ordered set of structured log attributes. Each method
// returns the same Fields value so calls chain: NewFields().Component("x").Operation("y").
type Fields map[string]interface{}

// NewFields returns an empty Fields set.
func NewFields() Fields {
	return Fields{}
}

// Component records which subsystem emitted the log line.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation records the operation in progress.
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource records the type and, if non-empty, the name of the resource
// the log line concerns.
func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

// Duration records an elapsed duration in milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records an error's message. A nil error sets nothing, so a
// no-error path can call Error(err) unconditionally.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

// CorrelationID records the cycle-scoped correlation id carried on every
// notification dispatched during a cycle.
func (f Fields) CorrelationID(id string) Fields {
	if id == "" {
		return f
	}
	f["correlation_id"] = id
	return f
}

// Args flattens Fields into the alternating key/value slice slog.Logger
// methods accept.
func (f Fields) Args() []any {
	args := make([]any, 0, len(f)*2)
	for k, v := range f {
		args = append(args, k, v)
	}
	return args
}

// Default returns slog.Default() when logger is nil, so every constructor
// can accept an optional *slog.Logger without a separate nil-check.
func Default(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
