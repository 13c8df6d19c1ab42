package slots

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestController_BoundsInFlight(t *testing.T) {
	const bound, jobs = 3, 40
	c := New(bound)

	var (
		mu      sync.Mutex
		current int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := c.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer slot.Release()

			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen > bound {
		t.Errorf("expected at most %d concurrent holders, saw %d", bound, maxSeen)
	}
	if c.Peak() > bound {
		t.Errorf("expected peak <= %d, got %d", bound, c.Peak())
	}
	if c.InFlight() != 0 {
		t.Errorf("expected 0 in flight after completion, got %d", c.InFlight())
	}
	acq, rel := c.Stats()
	if acq != jobs || rel != jobs {
		t.Errorf("expected %d acquires and releases, got %d/%d", jobs, acq, rel)
	}
}

func TestController_FIFOAdmission(t *testing.T) {
	c := New(1)
	first, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	order := make(chan int, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire %d failed: %v", i, err)
				return
			}
			order <- i
			s.Release()
		}(i)
		// Let waiter i enqueue before i+1.
		time.Sleep(10 * time.Millisecond)
	}

	first.Release()
	wg.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Fatalf("expected waiter %d to be admitted next, got %d", want, got)
		}
		want++
	}
}

func TestSlot_ReleaseIsIdempotent(t *testing.T) {
	c := New(1)
	s, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s.Release()
	s.Release()
	s.Release()

	if c.InFlight() != 0 {
		t.Fatalf("expected 0 in flight, got %d", c.InFlight())
	}

	// A double release must not have produced a second free slot.
	a, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected a free slot: %v", err)
	}
	defer a.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx); err == nil {
		t.Fatalf("capacity grew after repeated Release")
	}
}

func TestController_AcquireCancelled(t *testing.T) {
	c := New(1)
	held, _ := c.Acquire(context.Background())
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Acquire(ctx); err == nil {
		t.Fatalf("expected acquire to fail once the context expired")
	}
	if c.InFlight() != 1 {
		t.Errorf("expected only the held slot in flight, got %d", c.InFlight())
	}
}

func TestNew_ClampsCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != 1 {
		t.Errorf("expected capacity 1, got %d", got)
	}
}
