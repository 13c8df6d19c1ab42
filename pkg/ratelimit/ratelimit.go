package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces out operations so that consecutive Wait calls return at
// least one interval apart, optionally stretched by jitter. The first Wait
// returns immediately. It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
	next     time.Time
	rnd      func() float64
}

// NewLimiter creates a limiter with the given minimum interval and jitter
// factor. Jitter is clamped to [0, 1]. An interval <= 0 never blocks.
func NewLimiter(interval time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &Limiter{
		interval: interval,
		jitter:   jitter,
		rnd:      rand.Float64,
	}
}

// Wait blocks until the next operation may start or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	start := l.next
	if start.Before(now) {
		start = now
	}
	l.next = start.Add(l.spacing())
	l.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Done marks the end of an operation. The next Wait then blocks for a full
// interval measured from now, so the spacing becomes a gap between the end
// of one operation and the start of the next.
func (l *Limiter) Done() {
	if l == nil || l.interval <= 0 {
		return
	}
	l.mu.Lock()
	l.next = time.Now().Add(l.spacing())
	l.mu.Unlock()
}

// spacing is the interval plus up to jitter*interval extra. Must be called
// with the lock held.
func (l *Limiter) spacing() time.Duration {
	if l.jitter == 0 {
		return l.interval
	}
	return l.interval + time.Duration(float64(l.interval)*l.jitter*l.rnd())
}

// Interval returns the configured base interval.
func (l *Limiter) Interval() time.Duration { return l.interval }
