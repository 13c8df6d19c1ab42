package job

import (
	"strings"
	"time"
)

// Kind describes how a descriptor's locator is interpreted.
type Kind string

const (
	KindURL    Kind = "url"
	KindSearch Kind = "search"
)

// Status is the terminal classification of a job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
	// StatusSkipped never appears in a recorded outcome. The sink uses it for
	// rows that were loaded but not dispatched.
	StatusSkipped Status = "skipped"
)

// Descriptor is one unit of work derived from one input row. It is not
// modified after load; Fields and Value hand out copies.
type Descriptor struct {
	ID       string
	Row      int
	Locator  string
	Kind     Kind
	Name     string
	City     string
	PriorRef string
	Flow     string

	header []string
	values []string
}

// NewDescriptor builds a descriptor that carries the original row through
// untouched. header and values are copied.
func NewDescriptor(row int, header, values []string) Descriptor {
	h := make([]string, len(header))
	copy(h, header)
	v := make([]string, len(header))
	copy(v, values)
	return Descriptor{Row: row, header: h, values: v}
}

// Header returns the input column names in file order.
func (d Descriptor) Header() []string {
	out := make([]string, len(d.header))
	copy(out, d.header)
	return out
}

// Values returns the raw input row, aligned with Header.
func (d Descriptor) Values() []string {
	out := make([]string, len(d.values))
	copy(out, d.values)
	return out
}

// Value looks up an input column by name, case-insensitively.
func (d Descriptor) Value(column string) (string, bool) {
	for i, h := range d.header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			return d.values[i], true
		}
	}
	return "", false
}

// Query is the search string used for search-driven flows.
func (d Descriptor) Query() string {
	if d.Kind == KindSearch && d.Locator != "" {
		return d.Locator
	}
	return strings.TrimSpace(strings.Join(nonEmpty(d.Name, d.City), " "))
}

// Label is a short human readable name for logs and artifact names.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Locator != "" {
		return d.Locator
	}
	return d.ID
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Outcome is the single recorded result of running one Descriptor.
type Outcome struct {
	RunID      string            `json:"run_id"`
	JobID      string            `json:"job_id"`
	Row        int               `json:"row"`
	Flow       string            `json:"flow"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	Retries    int               `json:"retries"`
	Artifacts  []string          `json:"artifacts,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   time.Duration     `json:"duration"`
}

// Succeeded reports whether the outcome carries usable artifacts.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSuccess
}
