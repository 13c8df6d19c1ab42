package results

import (
	"errors"
	"fmt"
	"sync"

	"github.com/FranksOps/gbpsnap/internal/job"
)

// ErrDuplicateOutcome is returned when a job already has a recorded outcome.
var ErrDuplicateOutcome = errors.New("outcome already recorded for job")

// Collection is an append-only set of outcomes shared by concurrent workers.
// Appends are serialized; the order is completion order.
type Collection struct {
	mu       sync.Mutex
	outcomes []*job.Outcome
	seen     map[string]struct{}
}

// NewCollection creates an empty collection sized for n outcomes.
func NewCollection(n int) *Collection {
	if n < 0 {
		n = 0
	}
	return &Collection{
		outcomes: make([]*job.Outcome, 0, n),
		seen:     make(map[string]struct{}, n),
	}
}

// Record appends one outcome. A nil outcome, one without a job ID, or a
// second outcome for the same job is rejected.
func (c *Collection) Record(o *job.Outcome) error {
	if o == nil {
		return errors.New("results: nil outcome")
	}
	if o.JobID == "" {
		return errors.New("results: outcome has no job id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[o.JobID]; dup {
		return fmt.Errorf("results: %s: %w", o.JobID, ErrDuplicateOutcome)
	}
	c.seen[o.JobID] = struct{}{}
	c.outcomes = append(c.outcomes, o)
	return nil
}

// Len returns the number of recorded outcomes.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

// Snapshot returns a copy of the recorded outcomes in completion order.
func (c *Collection) Snapshot() []*job.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*job.Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Counts returns the number of outcomes per status.
func (c *Collection) Counts() map[job.Status]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[job.Status]int)
	for _, o := range c.outcomes {
		counts[o.Status]++
	}
	return counts
}
