package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"agri-token-ledger/internal/domain"
)

func TestRetryPolicy_Exhausted(t *testing.T) {
	var attempts []time.Duration
	policy := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnAttempt: func(op string, d time.Duration, err error) {
			if op != "mint" {
				t.Errorf("unexpected op %s", op)
			}
			attempts = append(attempts, d)
		},
	}

	boom := errors.New("connection reset")
	err := policy.Do(context.Background(), "mint", func(ctx context.Context) error { return boom })

	var ce *domain.ChainCallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ChainCallError, got %v", err)
	}
	if !ce.Retryable || ce.Attempts != 3 {
		t.Errorf("unexpected error %+v", ce)
	}
	if !errors.Is(err, boom) {
		t.Error("expected cause to be wrapped")
	}
	if len(attempts) != 3 {
		t.Errorf("expected 3 observed attempts, got %d", len(attempts))
	}
}

func TestRetryPolicy_CallTimeoutRetried(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, CallTimeout: 10 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), "slow", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicy_PermanentStopsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("rejected"))
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if domain.IsRetryable(err) {
		t.Error("expected non-retryable error")
	}

	calls = 0
	err = policy.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return ErrTxNotFound
	})
	if calls != 1 || !errors.Is(err, ErrTxNotFound) {
		t.Errorf("not found: calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicy_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour}

	err := policy.Do(ctx, "op", func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	v, err := Call(context.Background(), RetryPolicy{}, "op", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("got %d, %v", v, err)
	}
}
