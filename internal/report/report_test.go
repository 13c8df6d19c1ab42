package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []*job.Outcome{
		{Flow: "reviews", Status: job.StatusSuccess, Artifacts: []string{"a.png"}, StartedAt: now, FinishedAt: now.Add(time.Second)},
		{Flow: "reviews", Status: job.StatusError, Retries: 2, StartedAt: now, FinishedAt: now.Add(3 * time.Second)},
		{Flow: "iframe", Status: job.StatusFailure, StartedAt: now.Add(time.Second), FinishedAt: now.Add(2 * time.Second)},
	}

	summary := GenerateSummary("run-1", 5, outcomes, time.Time{}, time.Time{})

	if summary.Total != 5 || summary.Success != 1 || summary.Failure != 1 || summary.Error != 1 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", summary.Skipped)
	}
	if summary.Retries != 2 || summary.Artifacts != 1 {
		t.Errorf("expected 2 retries and 1 artifact, got %d/%d", summary.Retries, summary.Artifacts)
	}
	if got := summary.ByFlow["reviews"]; got.Success != 1 || got.Error != 1 {
		t.Errorf("unexpected reviews counts %+v", got)
	}
	if summary.Duration != 3*time.Second || summary.DurationMS != 3000 {
		t.Errorf("expected 3s duration, got %v", summary.Duration)
	}
}

func TestGenerateSummary_ExplicitWindow(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := GenerateSummary("run-2", 0, nil, start, start.Add(time.Minute))
	if s.Duration != time.Minute || s.Skipped != 0 {
		t.Errorf("unexpected summary %+v", s)
	}
	if !strings.Contains(s.Line(), "0 records") {
		t.Errorf("unexpected line %q", s.Line())
	}
}

func TestWriteJSON(t *testing.T) {
	summary := Summary{RunID: "run-1", Total: 5, Success: 4, ByFlow: map[string]FlowCounts{"panel": {Success: 4}}}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["total"] != float64(5) || decoded["run_id"] != "run-1" {
		t.Errorf("unexpected json %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		RunID:   "run-1",
		Total:   5,
		Success: 4,
		Error:   1,
		ByFlow:  map[string]FlowCounts{"photos": {Success: 4, Error: 1}},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Records:    5") {
		t.Errorf("expected record count, got:\n%s", out)
	}
	if !strings.Contains(out, "photos: 4 success, 0 failure, 1 error") {
		t.Errorf("expected per-flow line, got:\n%s", out)
	}
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		RunID:  "run-1",
		Total:  10,
		Error:  2,
		ByFlow: map[string]FlowCounts{"qa": {Error: 2}},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>gbpsnap run run-1</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "<td>qa</td>") {
		t.Errorf("expected HTML to contain the qa flow row")
	}
}
