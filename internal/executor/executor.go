// Package executor runs one job descriptor through its flow: validation, an
// optional HTTP probe, then browser attempts under the retry policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/FranksOps/gbpsnap/internal/artifacts"
	"github.com/FranksOps/gbpsnap/internal/browser"
	"github.com/FranksOps/gbpsnap/internal/flows"
	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/records"
	"github.com/FranksOps/gbpsnap/internal/scraper"
	"github.com/FranksOps/gbpsnap/internal/serp"
	"github.com/FranksOps/gbpsnap/pkg/retry"
)

// Prober checks a URL before a tab is opened for it.
type Prober interface {
	Check(ctx context.Context, targetURL string) (*scraper.ProbeReport, error)
}

// Config holds the per-job limits.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	// StepTimeout bounds each browser step.
	StepTimeout time.Duration
	// AttemptTimeout bounds a whole attempt. Zero means no bound beyond steps.
	AttemptTimeout time.Duration
}

// Executor turns descriptors into outcomes. It is safe for concurrent use;
// each attempt gets its own tab.
type Executor struct {
	opener browser.Opener
	flows  *flows.Registry
	store  *artifacts.Store
	probe  Prober
	urls   serp.Provider
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customises an Executor.
type Option func(*Executor)

// WithProbe enables the HTTP prefetch for URL jobs.
func WithProbe(p Prober) Option { return func(e *Executor) { e.probe = p } }

// WithURLs sets the search URL builder.
func WithURLs(u serp.Provider) Option { return func(e *Executor) { e.urls = u } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// New builds an Executor.
func New(opener browser.Opener, registry *flows.Registry, store *artifacts.Store, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		opener: opener,
		flows:  registry,
		store:  store,
		urls:   serp.Google{},
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute always returns exactly one outcome for d; per-job errors end up in
// the outcome, never as a return value. Cancelling ctx prevents further
// attempts but lets a running attempt finish within its timeouts.
func (e *Executor) Execute(ctx context.Context, runID string, d job.Descriptor) (result *job.Outcome) {
	out := &job.Outcome{
		RunID:     runID,
		JobID:     d.ID,
		Row:       d.Row,
		Flow:      d.Flow,
		StartedAt: e.now().UTC(),
		Metadata:  map[string]string{},
	}
	logger := e.logger.With("job", d.ID, "flow", d.Flow)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r)
			if out.Attempts == 0 {
				out.Attempts = 1
			}
			out.Artifacts = nil
			result = e.finish(out, job.StatusError, fmt.Errorf("panic: %v", r))
		}
	}()

	def, err := e.definition(d)
	if err != nil {
		logger.Warn("job rejected", "err", err)
		return e.finish(out, job.StatusError, err)
	}

	policy := retry.Policy{
		MaxRetries: e.cfg.MaxRetries,
		Delay:      e.cfg.RetryDelay,
		OnRetry: func(attempt int, err error) {
			logger.Warn("attempt failed, retrying", "attempt", attempt, "err", err)
		},
	}

	var kept []string
	res := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := e.attempt(context.WithoutCancel(ctx), d, def)
		if r != nil {
			maps.Copy(out.Metadata, r.Metadata)
		}
		if err != nil {
			if r != nil {
				e.store.Discard(r.Artifacts)
			}
			return err
		}
		kept = r.Artifacts
		return nil
	})

	out.Attempts = res.Attempts
	out.Retries = res.Retries
	switch {
	case res.Err == nil:
		out.Artifacts = kept
		return e.finish(out, job.StatusSuccess, nil)
	case errors.Is(res.Err, flows.ErrSignalAbsent):
		logger.Info("signal absent", "err", res.Err)
		return e.finish(out, job.StatusFailure, res.Err)
	default:
		logger.Warn("job failed", "attempts", res.Attempts, "err", res.Err)
		return e.finish(out, job.StatusError, res.Err)
	}
}

func (e *Executor) definition(d job.Descriptor) (flows.Definition, error) {
	if err := records.Validate(d); err != nil {
		return flows.Definition{}, err
	}
	return e.flows.Get(d.Flow)
}

func (e *Executor) attempt(ctx context.Context, d job.Descriptor, def flows.Definition) (*flows.Result, error) {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}

	meta := map[string]string{}
	if e.probe != nil && d.Kind == job.KindURL && opensLocator(def) {
		report, err := e.probe.Check(ctx, d.Locator)
		if report != nil {
			meta["probe_status"] = strconv.Itoa(report.StatusCode)
			if report.Blocked {
				meta["probe_blocked"] = report.BlockSource
			}
		}
		if err != nil {
			return &flows.Result{Metadata: meta}, fmt.Errorf("probe: %w", err)
		}
	}

	page, err := e.opener.NewPage(ctx)
	if err != nil {
		return &flows.Result{Metadata: meta}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			e.logger.Debug("closing page", "job", d.ID, "err", err)
		}
	}()

	res, err := flows.Run(ctx, page, def, flows.Env{
		Descriptor:  d,
		URLs:        e.urls,
		StepTimeout: e.cfg.StepTimeout,
		Capture: func(label string, data []byte) (string, error) {
			return e.store.Save(d, def.Name, label, data)
		},
		Logger: e.logger.With("job", d.ID, "flow", def.Name),
	})
	maps.Copy(res.Metadata, meta)
	if errors.Is(err, flows.ErrSignalAbsent) {
		err = retry.Permanent(err)
	}
	return res, err
}

func (e *Executor) finish(out *job.Outcome, status job.Status, err error) *job.Outcome {
	out.Status = status
	if err != nil {
		out.Error = err.Error()
	}
	out.FinishedAt = e.now().UTC()
	out.Duration = out.FinishedAt.Sub(out.StartedAt)
	return out
}

func opensLocator(def flows.Definition) bool {
	if len(def.Steps) == 0 {
		return false
	}
	t := def.Steps[0].Target
	return t == "" || t == flows.TargetLocator
}
