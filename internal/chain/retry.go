package chain

import (
	"context"
	"errors"
	"time"

	"agri-token-ledger/internal/domain"
)

// Default retry configuration values.
const (
	DefaultMaxAttempts  = 4
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
	DefaultCallTimeout  = 10 * time.Second
)

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so RetryPolicy.Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryPolicy bounds on-chain calls with a per-attempt timeout and
// exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	CallTimeout  time.Duration

	// OnAttempt, if set, observes each attempt.
	OnAttempt func(op string, d time.Duration, err error)
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		CallTimeout:  DefaultCallTimeout,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// Failures come back as *domain.ChainCallError. If ctx itself is done the
// context error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		start := time.Now()
		err := fn(callCtx)
		cancel()
		if p.OnAttempt != nil {
			p.OnAttempt(op, time.Since(start), err)
		}

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) || errors.Is(err, ErrTxNotFound) || !domain.IsRetryable(err) {
			return &domain.ChainCallError{Op: op, Attempts: attempt, Retryable: false, Err: err}
		}
		lastErr = err
	}

	return &domain.ChainCallError{Op: op, Attempts: p.MaxAttempts, Retryable: true, Err: lastErr}
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
