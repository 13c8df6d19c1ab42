// Package pipeline drives one run: it loads records, dispatches them to the
// executor, collects outcomes and writes the run's output files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/metrics"
	"github.com/FranksOps/gbpsnap/internal/records"
	"github.com/FranksOps/gbpsnap/internal/report"
	"github.com/FranksOps/gbpsnap/internal/results"
	"github.com/FranksOps/gbpsnap/internal/scraper"
	"github.com/FranksOps/gbpsnap/internal/sink"
	"github.com/FranksOps/gbpsnap/internal/storage"
	"github.com/FranksOps/gbpsnap/pkg/ratelimit"
	"github.com/FranksOps/gbpsnap/pkg/slots"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("pipeline: already run")

// State is the lifecycle position of a Pipeline.
type State int

const (
	Idle State = iota
	Loading
	Dispatching
	Collecting
	Reporting
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Dispatching:
		return "dispatching"
	case Collecting:
		return "collecting"
	case Reporting:
		return "reporting"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	ModeConcurrent = "concurrent"
	ModeSequential = "sequential"
)

// Loader produces the descriptors of a run.
type Loader func(ctx context.Context) ([]job.Descriptor, error)

// CSVSource loads descriptors from a CSV file.
func CSVSource(path string, opts records.Options) Loader {
	return func(context.Context) ([]job.Descriptor, error) {
		return records.LoadFile(path, opts)
	}
}

// SitemapSource loads URL descriptors from a sitemap or sitemap index.
func SitemapSource(sf *scraper.SitemapFetcher, sitemapURL string, opts records.Options) Loader {
	return func(ctx context.Context) ([]job.Descriptor, error) {
		urls, err := sf.FetchSitemap(ctx, sitemapURL)
		if err != nil {
			return nil, err
		}
		return records.FromURLs(urls, opts)
	}
}

// Executor runs one descriptor to completion.
type Executor interface {
	Execute(ctx context.Context, runID string, d job.Descriptor) *job.Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, runID string, d job.Descriptor) *job.Outcome

func (f ExecutorFunc) Execute(ctx context.Context, runID string, d job.Descriptor) *job.Outcome {
	return f(ctx, runID, d)
}

// Config controls dispatch and output.
type Config struct {
	Mode        string
	Concurrency int
	// JobDelay and Jitter pace sequential mode.
	JobDelay time.Duration
	Jitter   float64
	Files    sink.Files
	// HTMLReport, when set, also renders the summary as HTML.
	HTMLReport string
}

// Result is what a finished run produced.
type Result struct {
	RunID       string
	Descriptors []job.Descriptor
	Outcomes    []*job.Outcome
	Summary     report.Summary
	// Peak is the highest number of jobs that ran at once.
	Peak int
}

// Pipeline runs a single batch. It is not reusable.
type Pipeline struct {
	load    Loader
	exec    Executor
	cfg     Config
	history storage.Backend
	logger  *slog.Logger
	now     func() time.Time
	runID   string

	mu    sync.Mutex
	state State
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithHistory persists every outcome to b.
func WithHistory(b storage.Backend) Option { return func(p *Pipeline) { p.history = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option { return func(p *Pipeline) { p.runID = id } }

// New builds a Pipeline.
func New(load Loader, exec Executor, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		load:   load,
		exec:   exec,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.cfg.Mode == "" {
		p.cfg.Mode = ModeConcurrent
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) enter(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.logger.Debug("pipeline state", "state", s.String())
}

// Run executes the batch. Load errors abort before any job is dispatched.
// Once dispatch has started the output files are always written, also when
// ctx is cancelled; records never dispatched are reported as skipped.
// History persistence errors do not stop the run but are returned at the end.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	p.state = Loading
	p.mu.Unlock()

	logger := p.logger.With("run", p.runID)
	descs, err := p.load(ctx)
	if err != nil {
		p.enter(Done)
		return nil, fmt.Errorf("pipeline: load: %w", err)
	}
	if len(descs) == 0 {
		p.enter(Done)
		return nil, fmt.Errorf("pipeline: load: %w", records.ErrEmptyInput)
	}
	logger.Info("records loaded", "count", len(descs), "mode", p.cfg.Mode)

	start := p.now().UTC()
	coll := results.NewCollection(len(descs))
	rec := &recorder{coll: coll, history: p.history, logger: logger}

	p.enter(Dispatching)
	var peak int
	switch p.cfg.Mode {
	case ModeSequential:
		peak = p.sequential(ctx, descs, rec)
	default:
		peak = p.concurrent(ctx, descs, rec)
	}

	p.enter(Reporting)
	outcomes := coll.Snapshot()
	summary := report.GenerateSummary(p.runID, len(descs), outcomes, start, p.now().UTC())
	res := &Result{
		RunID:       p.runID,
		Descriptors: descs,
		Outcomes:    outcomes,
		Summary:     summary,
		Peak:        peak,
	}

	errs := []error{rec.err()}
	if err := sink.Write(p.cfg.Files, descs, outcomes, summary); err != nil {
		errs = append(errs, err)
	}
	if p.cfg.HTMLReport != "" {
		if err := writeHTML(p.cfg.HTMLReport, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if ctx.Err() != nil {
		logger.Warn("run cancelled", "dispatched", len(outcomes), "skipped", summary.Skipped)
	}
	logger.Info("run finished", "summary", summary.Line())
	p.enter(Done)

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}
	return res, nil
}

// concurrent dispatches in input order through a FIFO slot controller and
// waits for every started job.
func (p *Pipeline) concurrent(ctx context.Context, descs []job.Descriptor, rec *recorder) int {
	ctrl := slots.New(p.cfg.Concurrency)
	var g errgroup.Group

	for _, d := range descs {
		if ctx.Err() != nil {
			break
		}
		slot, err := ctrl.Acquire(ctx)
		if err != nil {
			break
		}
		metrics.SlotsInFlight.Inc()
		g.Go(func() error {
			defer slot.Release()
			defer metrics.SlotsInFlight.Dec()
			rec.record(ctx, p.execute(ctx, d))
			return nil
		})
	}

	p.enter(Collecting)
	_ = g.Wait()
	return ctrl.Peak()
}

// sequential runs one job at a time and waits the configured delay, plus
// jitter, between the end of one job and the start of the next.
func (p *Pipeline) sequential(ctx context.Context, descs []job.Descriptor, rec *recorder) int {
	pacer := ratelimit.NewLimiter(p.cfg.JobDelay, p.cfg.Jitter)
	ran := 0
	for _, d := range descs {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		ran = 1
		metrics.SlotsInFlight.Inc()
		rec.record(ctx, p.execute(ctx, d))
		metrics.SlotsInFlight.Dec()
		pacer.Done()
	}
	p.enter(Collecting)
	return ran
}

// execute runs one job and turns a panic into an error outcome so a single
// job cannot take down the run.
func (p *Pipeline) execute(ctx context.Context, d job.Descriptor) (out *job.Outcome) {
	started := p.now()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.logger.Error("job panicked", "job", d.ID, "panic", r)
		finished := p.now()
		out = &job.Outcome{
			RunID:      p.runID,
			JobID:      d.ID,
			Row:        d.Row,
			Flow:       d.Flow,
			Status:     job.StatusError,
			Error:      fmt.Sprintf("panic: %v", r),
			Attempts:   1,
			StartedAt:  started,
			FinishedAt: finished,
			Duration:   finished.Sub(started),
		}
	}()
	return p.exec.Execute(ctx, p.runID, d)
}

type recorder struct {
	coll    *results.Collection
	history storage.Backend
	logger  *slog.Logger

	mu   sync.Mutex
	errs []error
}

func (r *recorder) record(ctx context.Context, o *job.Outcome) {
	if err := r.coll.Record(o); err != nil {
		r.logger.Error("outcome dropped", "err", err)
		return
	}
	metrics.RecordOutcome(o)
	r.logger.Info("job finished",
		"job", o.JobID, "flow", o.Flow, "status", o.Status,
		"attempts", o.Attempts, "artifacts", len(o.Artifacts), "duration", o.Duration)

	if r.history == nil {
		return
	}
	if err := r.history.Save(context.WithoutCancel(ctx), o); err != nil {
		r.logger.Error("failed to save outcome", "job", o.JobID, "err", err)
		r.mu.Lock()
		r.errs = append(r.errs, fmt.Errorf("history: %s: %w", o.JobID, err))
		r.mu.Unlock()
	}
}

func (r *recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func writeHTML(path string, summary report.Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := report.WriteHTML(f, summary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
