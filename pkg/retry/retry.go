// Package retry runs an operation under a bounded retry policy with backoff
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// BackoffType selects how the delay grows between attempts
type BackoffType string

const (
	BackoffFibonacci   BackoffType = "fibonacci"
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffConstant    BackoffType = "constant"
)

// Policy defines retry behavior for one upstream source
type Policy struct {
	MaxAttempts    int           `json:"max_attempts"`
	Backoff        BackoffType   `json:"backoff"`
	InitialDelay   time.Duration `json:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	AttemptTimeout time.Duration `json:"attempt_timeout"`

	// BeforeAttempt runs ahead of every attempt under the caller's context, outside
	// AttemptTimeout. Rate-limit gates belong here so queueing never eats into an attempt.
	BeforeAttempt func(ctx context.Context) error `json:"-"`

	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-"`
}

// DefaultPolicy returns the default source policy: 3 attempts, exponential from 500ms, 15s per attempt
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type afterError struct {
	err   error
	after time.Duration
}

func (e *afterError) Error() string { return e.err.Error() }
func (e *afterError) Unwrap() error { return e.err }

// After asks the policy to wait at least d before the next attempt, e.g. from a Retry-After header
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &afterError{err: err, after: d}
}

// IsExhausted reports whether err came from a policy that ran out of attempts
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// Do calls fn until it succeeds, returns a permanent error, or attempts run out.
// Each attempt gets its own context bounded by AttemptTimeout; an attempt that runs
// out of time counts as a transient failure. BeforeAttempt is not bounded by it, and
// its error counts as that attempt's failure. Cancelling ctx stops immediately.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return errors.Wrap(last, err.Error())
			}
			return err
		}

		var err error
		if p.BeforeAttempt != nil {
			err = p.BeforeAttempt(ctx)
		}
		if err == nil {
			err = p.attempt(ctx, fn)
		}
		last = err
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return last
		}
		if ctx.Err() != nil {
			return errors.Wrap(last, ctx.Err().Error())
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		var ae *afterError
		if errors.As(last, &ae) && ae.after > delay {
			delay = ae.after
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(last, ctx.Err().Error())
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("attempt timed out after %v: %w", p.AttemptTimeout, err)
	}
	return err
}

// Delay returns the wait before attempt+1, capped at MaxDelay
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var multiplier int64
	switch p.Backoff {
	case BackoffConstant:
		multiplier = 1
	case BackoffLinear:
		multiplier = int64(attempt)
	case BackoffFibonacci:
		multiplier = fibonacci(attempt)
	default:
		multiplier = 1
		for i := 1; i < attempt && multiplier < 1<<20; i++ {
			multiplier *= 2
		}
	}

	delay := p.InitialDelay * time.Duration(multiplier)
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	return delay
}

// fibonacci returns 1, 1, 2, 3, 5, 8... for attempt 1, 2, 3...
func fibonacci(attempt int) int64 {
	a, b := int64(1), int64(1)
	for i := 2; i < attempt && b < 1<<20; i++ {
		a, b = b, a+b
	}
	return b
}
