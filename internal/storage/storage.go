package storage

import (
	"context"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
)

// Filter allows querying for specific outcomes.
type Filter struct {
	RunID  string
	JobID  string
	Flow   string
	Status job.Status
	Since  *time.Time
	Limit  int
	Offset int
}

// Match reports whether o passes the filter. File backends use it to filter
// in memory; SQL backends translate the same fields into WHERE clauses.
func (f Filter) Match(o *job.Outcome) bool {
	if f.RunID != "" && o.RunID != f.RunID {
		return false
	}
	if f.JobID != "" && o.JobID != f.JobID {
		return false
	}
	if f.Flow != "" && o.Flow != f.Flow {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Since != nil && o.FinishedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies the newest-first ordering, offset and limit to outcomes read
// in append order.
func (f Filter) Page(outcomes []*job.Outcome) []*job.Outcome {
	for i, j := 0, len(outcomes)-1; i < j; i, j = i+1, j-1 {
		outcomes[i], outcomes[j] = outcomes[j], outcomes[i]
	}
	if f.Offset > 0 {
		if f.Offset >= len(outcomes) {
			return []*job.Outcome{}
		}
		outcomes = outcomes[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(outcomes) {
		outcomes = outcomes[:f.Limit]
	}
	return outcomes
}

// Backend persists the outcome history of pipeline runs.
type Backend interface {
	Save(ctx context.Context, outcome *job.Outcome) error
	Query(ctx context.Context, filter Filter) ([]*job.Outcome, error)
	Close() error
}
