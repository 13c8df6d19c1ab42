package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/gbpsnap/internal/artifacts"
	"github.com/FranksOps/gbpsnap/internal/browser/browsertest"
	"github.com/FranksOps/gbpsnap/internal/flows"
	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/scraper"
	"github.com/FranksOps/gbpsnap/pkg/retry"
)

func testRegistry(t *testing.T) *flows.Registry {
	t.Helper()
	r, err := flows.NewRegistry(
		flows.Definition{Name: "shot", Steps: []flows.Step{
			{Kind: flows.StepNavigate},
			{Kind: flows.StepWait, Selectors: []string{"#ready"}},
			{Kind: flows.StepCapture, Label: "page"},
		}},
		flows.Definition{Name: "late", Steps: []flows.Step{
			{Kind: flows.StepNavigate},
			{Kind: flows.StepCapture, Label: "early"},
			{Kind: flows.StepWait, Selectors: []string{"#ready"}},
		}},
		flows.Definition{Name: "iframe", Steps: []flows.Step{
			{Kind: flows.StepNavigate},
			{Kind: flows.StepDetect, Selectors: []string{"iframe"}, Timeout: 30 * time.Millisecond},
			{Kind: flows.StepCapture, Label: "map"},
		}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func descriptor(id, flow string) job.Descriptor {
	d := job.NewDescriptor(1, []string{"id", "url"}, []string{id, "https://" + id + ".example"})
	d.ID, d.Kind, d.Locator, d.Flow, d.Name = id, job.KindURL, "https://"+id+".example", flow, id
	return d
}

func newExecutor(t *testing.T, opener *browsertest.Opener, cfg Config, opts ...Option) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 50 * time.Millisecond
	}
	return New(opener, testRegistry(t), artifacts.NewStore(dir), cfg, opts...), dir
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, e os.DirEntry, err error) error {
		if err == nil && !e.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func assertAllClosed(t *testing.T, opener *browsertest.Opener) {
	t.Helper()
	open, _, opened := opener.Stats()
	if open != 0 {
		t.Errorf("%d of %d pages left open", open, opened)
	}
	for i, p := range opener.Pages() {
		if !p.Closed() {
			t.Errorf("page %d not closed", i)
		}
	}
}

func TestExecute_Success(t *testing.T) {
	opener := &browsertest.Opener{Factory: func() *browsertest.Page { return browsertest.NewPage("#ready") }}
	ex, dir := newExecutor(t, opener, Config{MaxRetries: 2})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusSuccess {
		t.Fatalf("expected success, got %s: %s", out.Status, out.Error)
	}
	if out.Attempts != 1 || out.Retries != 0 {
		t.Errorf("expected single attempt, got %d/%d", out.Attempts, out.Retries)
	}
	if len(out.Artifacts) != 1 || !strings.HasPrefix(out.Artifacts[0], filepath.Join(dir, "shot")) {
		t.Errorf("unexpected artifacts %v", out.Artifacts)
	}
	if out.RunID != "run-1" || out.JobID != "acme" || out.FinishedAt.Before(out.StartedAt) {
		t.Errorf("outcome not filled in: %+v", out)
	}
	assertAllClosed(t, opener)
}

func TestExecute_FlakyThenSuccess(t *testing.T) {
	var n atomic.Int32
	opener := &browsertest.Opener{Factory: func() *browsertest.Page {
		p := browsertest.NewPage("#ready")
		if n.Add(1) <= 2 {
			p.NavigateFunc = func(string) error { return errors.New("net::ERR_CONNECTION_RESET") }
		}
		return p
	}}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusSuccess {
		t.Fatalf("expected success after retries, got %s: %s", out.Status, out.Error)
	}
	if out.Attempts != 3 || out.Retries != 2 {
		t.Errorf("expected 3 attempts / 2 retries, got %d/%d", out.Attempts, out.Retries)
	}
	if out.Error != "" {
		t.Errorf("success must not carry an error, got %q", out.Error)
	}
	assertAllClosed(t, opener)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	opener := &browsertest.Opener{Factory: func() *browsertest.Page { return browsertest.NewPage() }}
	ex, dir := newExecutor(t, opener, Config{MaxRetries: 2})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "late"))
	if out.Status != job.StatusError {
		t.Fatalf("expected error, got %s", out.Status)
	}
	if out.Retries != 2 || out.Attempts != 3 {
		t.Errorf("expected Retries == MaxRetries, got %d/%d", out.Attempts, out.Retries)
	}
	if !strings.Contains(out.Error, "deadline exceeded") {
		t.Errorf("expected last error message, got %q", out.Error)
	}
	if len(out.Artifacts) != 0 {
		t.Errorf("failed job must not reference artifacts: %v", out.Artifacts)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected partial captures to be discarded, found %d files", n)
	}
	if _, _, opened := opener.Stats(); opened != 3 {
		t.Errorf("expected a fresh page per attempt, got %d", opened)
	}
	assertAllClosed(t, opener)
}

func TestExecute_SignalAbsentIsFailure(t *testing.T) {
	opener := &browsertest.Opener{Factory: func() *browsertest.Page {
		p := browsertest.NewPage()
		p.Content = "<html><body>contact us</body></html>"
		return p
	}}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 3})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "iframe"))
	if out.Status != job.StatusFailure {
		t.Fatalf("expected failure, got %s: %s", out.Status, out.Error)
	}
	if out.Attempts != 1 {
		t.Errorf("absent signal must not be retried, got %d attempts", out.Attempts)
	}
	assertAllClosed(t, opener)
}

func TestExecute_MalformedInput(t *testing.T) {
	opener := &browsertest.Opener{}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 3})

	d := job.NewDescriptor(4, []string{"notes"}, []string{"call back"})
	d.ID, d.Flow = "row-4", "shot"
	out := ex.Execute(context.Background(), "run-1", d)
	if out.Status != job.StatusError || out.Attempts != 0 {
		t.Fatalf("expected error without attempts, got %s/%d", out.Status, out.Attempts)
	}
	if _, _, opened := opener.Stats(); opened != 0 {
		t.Errorf("no page should be opened for malformed input")
	}

	out = ex.Execute(context.Background(), "run-1", descriptor("acme", "menu"))
	if out.Status != job.StatusError || !strings.Contains(out.Error, "unknown flow") {
		t.Errorf("expected unknown flow error, got %s: %s", out.Status, out.Error)
	}
}

func TestExecute_OpenPageFails(t *testing.T) {
	opener := &browsertest.Opener{OpenErr: errors.New("browser gone")}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 1})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusError || out.Attempts != 2 {
		t.Errorf("expected error after 2 attempts, got %s/%d", out.Status, out.Attempts)
	}
	if !strings.Contains(out.Error, "browser gone") {
		t.Errorf("unexpected error %q", out.Error)
	}
}

func TestExecute_PanicBecomesError(t *testing.T) {
	opener := &browsertest.Opener{Factory: func() *browsertest.Page {
		p := browsertest.NewPage("#ready")
		p.NavigateFunc = func(string) error { panic("boom") }
		return p
	}}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 2})

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusError || out.Error != "panic: boom" {
		t.Fatalf("expected panic error outcome, got %s: %q", out.Status, out.Error)
	}
	if out.JobID != "acme" || out.Attempts != 1 || out.FinishedAt.IsZero() {
		t.Errorf("outcome not filled in: %+v", out)
	}
	assertAllClosed(t, opener)
}

type stubProbe struct {
	report *scraper.ProbeReport
	err    error
	calls  atomic.Int32
}

func (s *stubProbe) Check(ctx context.Context, targetURL string) (*scraper.ProbeReport, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func TestExecute_ProbeDeadTargetIsTerminal(t *testing.T) {
	probe := &stubProbe{
		report: &scraper.ProbeReport{StatusCode: 404},
		err:    retry.Permanent(scraper.ErrDeadTarget),
	}
	opener := &browsertest.Opener{}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 3}, WithProbe(probe))

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusError || out.Attempts != 1 {
		t.Fatalf("expected one terminal attempt, got %s/%d", out.Status, out.Attempts)
	}
	if out.Metadata["probe_status"] != "404" {
		t.Errorf("expected probe status in metadata, got %v", out.Metadata)
	}
	if _, _, opened := opener.Stats(); opened != 0 {
		t.Errorf("no page should be opened after a failed probe")
	}
}

func TestExecute_ProbeBlockedStillRuns(t *testing.T) {
	probe := &stubProbe{report: &scraper.ProbeReport{StatusCode: 403, Blocked: true, BlockSource: "Cloudflare"}}
	opener := &browsertest.Opener{Factory: func() *browsertest.Page { return browsertest.NewPage("#ready") }}
	ex, _ := newExecutor(t, opener, Config{}, WithProbe(probe))

	out := ex.Execute(context.Background(), "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusSuccess {
		t.Fatalf("expected success, got %s: %s", out.Status, out.Error)
	}
	if out.Metadata["probe_blocked"] != "Cloudflare" {
		t.Errorf("expected block source in metadata, got %v", out.Metadata)
	}
}

func TestExecute_CancelStopsRetries(t *testing.T) {
	opener := &browsertest.Opener{Factory: func() *browsertest.Page { return browsertest.NewPage() }}
	ex, _ := newExecutor(t, opener, Config{MaxRetries: 5, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ex.Execute(ctx, "run-1", descriptor("acme", "shot"))
	if out.Status != job.StatusError {
		t.Fatalf("expected error, got %s", out.Status)
	}
	if out.Attempts != 1 {
		t.Errorf("expected the running attempt only, got %d", out.Attempts)
	}
	assertAllClosed(t, opener)
}
