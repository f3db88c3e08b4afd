// Policy wires per-provider retry with backoff and the circuit breaker
// together (spec.md §4.12). Backoff delay computation is delegated to
// cenkalti/backoff/v4 (exponential backoff with jitter), replacing the
// hand-rolled `min(backoff_factor^k, max_backoff)` loop the distilled
// spec describes, since that is exactly backoff.ExponentialBackOff's
// job and this is the library the rest of the retrieval pack reaches
// for.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moverstatus/moverd/internal/errs"
)

// PolicyConfig parameterizes one provider's retry behavior (spec.md
// §4.12).
type PolicyConfig struct {
	MaxAttempts       int
	BackoffFactor     time.Duration // base delay; attempt k delay ~= BackoffFactor * 2^(k-1)
	MaxBackoff        time.Duration
	Jitter            bool
	TimeoutPerAttempt time.Duration
	Breaker           Config
}

// DefaultPolicyConfig returns spec-sensible defaults: 3 attempts, 500ms
// base backoff doubling up to 30s, jitter enabled, 10s per-attempt
// timeout.
func DefaultPolicyConfig(providerName string) PolicyConfig {
	return PolicyConfig{
		MaxAttempts:       3,
		BackoffFactor:     500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		Jitter:            true,
		TimeoutPerAttempt: 10 * time.Second,
		Breaker:           DefaultConfig(providerName),
	}
}

func (c PolicyConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BackoffFactor
	b.Multiplier = 2
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall time
	if !c.Jitter {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Outcome is what Call returns: whether the call ultimately succeeded,
// how many attempts were made, and the final error (nil on success).
type Outcome struct {
	Success  bool
	Attempts int
	Err      error
	// CircuitOpen is true when the call was skipped entirely because the
	// breaker was open — a distinct failure reason from an exhausted
	// retry loop (spec.md §7).
	CircuitOpen bool
}

// PermanentError marks a provider failure as non-retryable (invalid
// credentials, malformed payload, unknown endpoint per spec.md §7) — it
// short-circuits the retry loop immediately.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string { return e.Cause.Error() }
func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent wraps cause so Call treats it as non-retryable.
func Permanent(cause error) error {
	if cause == nil {
		return nil
	}
	return &PermanentError{Cause: cause}
}

// RetryAfter is returned by a provider call to honor a rate-limit hint
// in place of the computed backoff delay (spec.md §4.12).
type RetryAfter struct {
	Cause error
	After time.Duration
}

func (e *RetryAfter) Error() string { return e.Cause.Error() }
func (e *RetryAfter) Unwrap() error { return e.Cause }

// Call invokes fn up to cfg.MaxAttempts times, honoring the circuit
// breaker and backoff policy. fn must respect ctx's deadline; Call
// imposes cfg.TimeoutPerAttempt on each individual attempt.
func Call(ctx context.Context, cb *CircuitBreaker, cfg PolicyConfig, fn func(ctx context.Context) error) Outcome {
	gen, allowed := cb.Allow()
	if !allowed {
		return Outcome{Success: false, CircuitOpen: true, Err: errs.ErrCircuitOpen}
	}

	boff := cfg.newBackOff()
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			cb.ReportFailure(gen)
			return Outcome{Success: false, Attempts: attempt - 1, Err: ctx.Err()}
		default:
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.TimeoutPerAttempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.TimeoutPerAttempt)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			cb.ReportSuccess(gen)
			return Outcome{Success: true, Attempts: attempt}
		}

		lastErr = err

		var permanent *PermanentError
		if isPermanent(err, &permanent) {
			cb.ReportFailure(gen)
			return Outcome{Success: false, Attempts: attempt, Err: err}
		}

		if attempt == maxAttempts {
			break
		}

		delay := boff.NextBackOff()
		if ra, ok := asRetryAfter(err); ok {
			delay = ra.After
		}
		if delay == backoff.Stop {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cb.ReportFailure(gen)
			return Outcome{Success: false, Attempts: attempt, Err: ctx.Err()}
		}
	}

	cb.ReportFailure(gen)
	return Outcome{Success: false, Attempts: maxAttempts, Err: lastErr}
}

func isPermanent(err error, target **PermanentError) bool {
	for err != nil {
		if pe, ok := err.(*PermanentError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func asRetryAfter(err error) (*RetryAfter, bool) {
	for err != nil {
		if ra, ok := err.(*RetryAfter); ok {
			return ra, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
