package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
)

// FlowCounts are the per-status totals for one flow.
type FlowCounts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Error   int `json:"error"`
}

// Summary contains aggregated figures about one pipeline run.
type Summary struct {
	RunID      string                `json:"run_id"`
	Total      int                   `json:"total"`
	Success    int                   `json:"success"`
	Failure    int                   `json:"failure"`
	Error      int                   `json:"error"`
	Skipped    int                   `json:"skipped"`
	Retries    int                   `json:"retries"`
	Artifacts  int                   `json:"artifacts"`
	ByFlow     map[string]FlowCounts `json:"by_flow"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	Duration   time.Duration         `json:"-"`
	DurationMS int64                 `json:"duration_ms"`
}

// GenerateSummary aggregates the outcomes of a run over total loaded
// records. Records without an outcome count as skipped. A zero start or end
// is taken from the outcomes themselves.
func GenerateSummary(runID string, total int, outcomes []*job.Outcome, start, end time.Time) Summary {
	s := Summary{
		RunID:     runID,
		Total:     total,
		ByFlow:    make(map[string]FlowCounts),
		StartTime: start,
		EndTime:   end,
	}

	for _, o := range outcomes {
		fc := s.ByFlow[o.Flow]
		switch o.Status {
		case job.StatusSuccess:
			s.Success++
			fc.Success++
		case job.StatusFailure:
			s.Failure++
			fc.Failure++
		default:
			s.Error++
			fc.Error++
		}
		s.ByFlow[o.Flow] = fc
		s.Retries += o.Retries
		s.Artifacts += len(o.Artifacts)

		if start.IsZero() && (s.StartTime.IsZero() || o.StartedAt.Before(s.StartTime)) {
			s.StartTime = o.StartedAt
		}
		if end.IsZero() && o.FinishedAt.After(s.EndTime) {
			s.EndTime = o.FinishedAt
		}
	}

	s.Skipped = max(total-len(outcomes), 0)
	if !s.StartTime.IsZero() && s.EndTime.After(s.StartTime) {
		s.Duration = s.EndTime.Sub(s.StartTime)
	}
	s.DurationMS = s.Duration.Milliseconds()
	return s
}

// Line is the one-line summary printed when a run ends.
func (s Summary) Line() string {
	return fmt.Sprintf("%d records: %d success, %d failure, %d error, %d skipped (%d retries) in %s",
		s.Total, s.Success, s.Failure, s.Error, s.Skipped, s.Retries, s.Duration.Round(time.Millisecond))
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

const textTmpl = `gbpsnap run {{.RunID}}
------------------
Time:       {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:   {{.Duration}}
Records:    {{.Total}}
Success:    {{.Success}}
Failure:    {{.Failure}}
Error:      {{.Error}}
Skipped:    {{.Skipped}}
Retries:    {{.Retries}}
Artifacts:  {{.Artifacts}}

By flow:
{{- range $flow, $c := .ByFlow}}
  {{$flow}}: {{$c.Success}} success, {{$c.Failure}} failure, {{$c.Error}} error
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>gbpsnap run {{.RunID}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 120px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>gbpsnap run {{.RunID}}</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card"><div>Records</div><div class="stat-val">{{.Total}}</div></div>
  <div class="stat-card"><div>Success</div><div class="stat-val" style="color: green;">{{.Success}}</div></div>
  <div class="stat-card"><div>Failure</div><div class="stat-val">{{.Failure}}</div></div>
  <div class="stat-card"><div>Error</div><div class="stat-val" style="color: {{if gt .Error 0}}red{{else}}green{{end}};">{{.Error}}</div></div>
  <div class="stat-card"><div>Skipped</div><div class="stat-val">{{.Skipped}}</div></div>

  <h3>By Flow</h3>
  <table>
    <tr><th>Flow</th><th>Success</th><th>Failure</th><th>Error</th></tr>
    {{- range $flow, $c := .ByFlow}}
    <tr><td>{{$flow}}</td><td>{{$c.Success}}</td><td>{{$c.Failure}}</td><td>{{$c.Error}}</td></tr>
    {{- else}}
    <tr><td colspan="4">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
