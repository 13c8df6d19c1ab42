package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() []error { return []error{p.err, ErrPermanent} }

// Permanent wraps err so that Do stops immediately. The original error stays
// reachable through errors.Is / errors.As.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Policy is a bounded retry policy with a fixed delay between attempts.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// Delay is slept between attempts.
	Delay time.Duration
	// Retryable decides whether a non-permanent error should be retried.
	// Nil means every non-permanent error is retryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error)
}

// Result describes how a call to Do ended.
type Result struct {
	Attempts int
	Retries  int
	Err      error
}

// Do runs fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done. fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) Result {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var res Result
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		res.Attempts = attempt
		res.Retries = attempt - 1

		err := fn(ctx, attempt)
		res.Err = err
		if err == nil {
			return res
		}
		if !p.shouldRetry(err) || attempt == maxRetries+1 {
			return res
		}
		if ctx.Err() != nil {
			return res
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return res
			case <-t.C:
			}
		}
	}
	return res
}

func (p Policy) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}
