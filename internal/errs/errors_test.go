package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "dispatch notification",
				Component: "dispatcher",
				Resource:  "delivery-42",
				Cause:     fmt.Errorf("provider timeout"),
			},
			expected: "failed to dispatch notification, component: dispatcher, resource: delivery-42, cause: provider timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse pid file",
				Cause:     fmt.Errorf("invalid format"),
			},
			expected: "failed to parse pid file, cause: invalid format",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "validate config",
				Component: "config",
			},
			expected: "failed to validate config, component: config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &OperationError{Operation: "test", Cause: cause}
	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := &OperationError{Operation: "test"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		cause    error
		expected string
	}{
		{"with cause", "sample disk usage", fmt.Errorf("permission denied"), "failed to sample disk usage: permission denied"},
		{"without cause", "start orchestrator", nil, "failed to start orchestrator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FailedTo(tt.action, tt.cause)
			if err.Error() != tt.expected {
				t.Errorf("FailedTo() = %q, want %q", err.Error(), tt.expected)
			}
		})
	}
}

func TestFailedToWithDetails(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := FailedToWithDetails("health check", "provider", "discord", cause)

	opErr, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("FailedToWithDetails() should return *OperationError, got %T", err)
	}
	if opErr.Operation != "health check" || opErr.Component != "provider" || opErr.Resource != "discord" || opErr.Cause != cause {
		t.Errorf("unexpected fields: %+v", opErr)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}

	cause := errors.New("connection reset")
	err := Retryable(cause)
	if !IsRetryable(err) {
		t.Error("expected IsRetryable(err) to be true")
	}
	if !errors.Is(err, cause) {
		// errors.Is with Unwrap should reach cause via direct comparison since cause has no Is method
		var re *RetryableError
		if !errors.As(err, &re) || re.Cause != cause {
			t.Error("expected err to unwrap to cause")
		}
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	if IsRetryable(errors.New("permanent")) {
		t.Error("plain error should not be retryable")
	}
}
