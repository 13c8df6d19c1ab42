package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errFlaky = errors.New("element not found")

func TestPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxRetries: 3}
	calls := 0
	res := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt <= 2 {
			return errFlaky
		}
		return nil
	})

	if res.Err != nil {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Attempts != 3 || res.Retries != 2 || calls != 3 {
		t.Errorf("expected 3 attempts/2 retries, got %d/%d (calls=%d)", res.Attempts, res.Retries, calls)
	}
}

func TestPolicy_ExhaustsRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, Delay: time.Millisecond}
	calls := 0
	res := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return fmt.Errorf("attempt %d: %w", attempt, errFlaky)
	})

	if !errors.Is(res.Err, errFlaky) {
		t.Fatalf("expected last error to wrap errFlaky, got %v", res.Err)
	}
	if res.Retries != 2 {
		t.Errorf("expected retries == MaxRetries (2), got %d", res.Retries)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if res.Err.Error() != "attempt 3: element not found" {
		t.Errorf("expected the last error message, got %q", res.Err.Error())
	}
}

func TestPolicy_PermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxRetries: 5}
	calls := 0
	bad := errors.New("malformed input")
	res := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(bad)
	})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(res.Err, bad) || !IsPermanent(res.Err) {
		t.Errorf("expected permanent wrapped error, got %v", res.Err)
	}
	if res.Retries != 0 {
		t.Errorf("expected 0 retries, got %d", res.Retries)
	}
}

func TestPolicy_RetryableFilter(t *testing.T) {
	p := Policy{
		MaxRetries: 4,
		Retryable:  func(err error) bool { return errors.Is(err, errFlaky) },
	}
	calls := 0
	other := errors.New("boom")
	res := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return other
	})
	if calls != 1 || !errors.Is(res.Err, other) {
		t.Errorf("expected single attempt with %v, got %d calls, err %v", other, calls, res.Err)
	}
}

func TestPolicy_ContextCancelledDuringDelay(t *testing.T) {
	p := Policy{MaxRetries: 10, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	p.OnRetry = func(int, error) { cancel() }

	start := time.Now()
	res := p.Do(ctx, func(ctx context.Context, attempt int) error { return errFlaky })
	if time.Since(start) > time.Second {
		t.Fatalf("expected cancellation to interrupt the delay")
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Errorf("expected nil")
	}
}
