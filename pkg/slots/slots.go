package slots

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Controller admits at most a fixed number of holders at once. Waiters are
// admitted in the order they called Acquire. It is safe for concurrent use.
type Controller struct {
	capacity int64
	sem      *semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
}

// Slot is a permit handed out by Acquire. Release may be called any number
// of times; only the first call returns the permit.
type Slot struct {
	c    *Controller
	once sync.Once
}

// New creates a controller with n slots. n below 1 is treated as 1.
func New(n int) *Controller {
	if n < 1 {
		n = 1
	}
	return &Controller{
		capacity: int64(n),
		sem:      semaphore.NewWeighted(int64(n)),
	}
}

// Acquire blocks until a slot is free or ctx is done. On error no slot is held.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.acquired.Add(1)
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Slot{c: c}, nil
}

// Release returns the slot to the controller.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.c.inFlight.Add(-1)
		s.c.released.Add(1)
		s.c.sem.Release(1)
	})
}

// Capacity is the bound fixed at construction.
func (c *Controller) Capacity() int { return int(c.capacity) }

// InFlight is the number of slots currently held.
func (c *Controller) InFlight() int { return int(c.inFlight.Load()) }

// Peak is the highest InFlight value observed.
func (c *Controller) Peak() int { return int(c.peak.Load()) }

// Stats returns lifetime acquire and release counts.
func (c *Controller) Stats() (acquired, released int64) {
	return c.acquired.Load(), c.released.Load()
}
