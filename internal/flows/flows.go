// Package flows describes the per-signal browser step sequences and runs them
// against a browser.Page. Selectors live in data so they can be replaced from
// configuration when Google changes its markup.
package flows

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

var (
	// ErrSignalAbsent means the page rendered but the signal the flow looks
	// for is not there. It is terminal: retrying won't make it appear.
	ErrSignalAbsent = errors.New("signal not present on page")
	// ErrUnknownFlow is returned for a flow name with no definition.
	ErrUnknownFlow = errors.New("unknown flow")
)

// StepKind names a browser action.
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepWait     StepKind = "wait"
	StepClick    StepKind = "click"
	StepScroll   StepKind = "scroll"
	StepSleep    StepKind = "sleep"
	StepBack     StepKind = "back"
	StepDetect   StepKind = "detect"
	StepLinks    StepKind = "links"
	StepCapture  StepKind = "capture"
)

var knownKinds = []StepKind{
	StepNavigate, StepWait, StepClick, StepScroll, StepSleep,
	StepBack, StepDetect, StepLinks, StepCapture,
}

// Navigate targets.
const (
	TargetLocator = "locator" // the record's URL, or a search for search records
	TargetSearch  = "search"  // Google web search for the record's query
	TargetMaps    = "maps"    // Google Maps search for the record's query
	TargetPrior   = "prior"   // the prior-stage GBP URL, else a web search
)

// Step is one action. Selectors are tried in order and the first present one
// is used.
type Step struct {
	Kind      StepKind      `mapstructure:"kind" json:"kind"`
	Target    string        `mapstructure:"target" json:"target,omitempty"`
	Selectors []string      `mapstructure:"selectors" json:"selectors,omitempty"`
	Phrases   []string      `mapstructure:"phrases" json:"phrases,omitempty"`
	Label     string        `mapstructure:"label" json:"label,omitempty"`
	Pixels    int           `mapstructure:"pixels" json:"pixels,omitempty"`
	Repeat    int           `mapstructure:"repeat" json:"repeat,omitempty"`
	Duration  time.Duration `mapstructure:"duration" json:"duration,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Optional  bool          `mapstructure:"optional" json:"optional,omitempty"`
}

// Definition is a named step sequence producing one signal.
type Definition struct {
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description,omitempty"`
	Steps       []Step `mapstructure:"steps" json:"steps"`
}

// Validate checks the definition is runnable.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("flows: definition without name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flows: %s: no steps", d.Name)
	}
	if d.Steps[0].Kind != StepNavigate {
		return fmt.Errorf("flows: %s: first step must be %s", d.Name, StepNavigate)
	}
	for i, s := range d.Steps {
		if !slices.Contains(knownKinds, s.Kind) {
			return fmt.Errorf("flows: %s: step %d: unknown kind %q", d.Name, i, s.Kind)
		}
		switch s.Kind {
		case StepWait, StepClick:
			if len(s.Selectors) == 0 {
				return fmt.Errorf("flows: %s: step %d: %s needs selectors", d.Name, i, s.Kind)
			}
		case StepDetect:
			if len(s.Selectors) == 0 && len(s.Phrases) == 0 {
				return fmt.Errorf("flows: %s: step %d: detect needs selectors or phrases", d.Name, i)
			}
		case StepSleep:
			if s.Duration <= 0 {
				return fmt.Errorf("flows: %s: step %d: sleep needs a duration", d.Name, i)
			}
		case StepCapture:
			if s.Label == "" {
				return fmt.Errorf("flows: %s: step %d: capture needs a label", d.Name, i)
			}
		case StepNavigate:
			switch s.Target {
			case "", TargetLocator, TargetSearch, TargetMaps, TargetPrior:
			default:
				return fmt.Errorf("flows: %s: step %d: unknown target %q", d.Name, i, s.Target)
			}
		}
	}
	return nil
}

// Captures reports whether the definition takes at least one screenshot.
func (d Definition) Captures() bool {
	for _, s := range d.Steps {
		if s.Kind == StepCapture {
			return true
		}
	}
	return false
}

// Registry maps flow names to definitions.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry validates defs and indexes them by name. A later definition
// replaces an earlier one with the same name.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// With returns a copy of r with overrides applied on top.
func (r *Registry) With(overrides ...Definition) (*Registry, error) {
	all := make([]Definition, 0, len(r.defs)+len(overrides))
	for _, name := range r.Names() {
		all = append(all, r.defs[name])
	}
	return NewRegistry(append(all, overrides...)...)
}

// Get returns the named definition.
func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownFlow, name)
	}
	return d, nil
}

// Names returns the registered flow names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
