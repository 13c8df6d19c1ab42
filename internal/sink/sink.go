// Package sink writes the per-run output files: a results CSV mirroring the
// input rows, an errors-only CSV and the JSON summary.
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/report"
)

// ResultColumns are appended to the input header.
var ResultColumns = []string{"status", "attempts", "error", "artifacts", "finished_at"}

// ArtifactSeparator joins artifact paths in one cell.
const ArtifactSeparator = "|"

// Files names the output paths. Empty paths are not written.
type Files struct {
	Results string
	Errors  string
	Summary string
}

// Write produces every configured file. Each file is written to a temporary
// name and renamed so readers never see a partial file.
func Write(files Files, descs []job.Descriptor, outcomes []*job.Outcome, summary report.Summary) error {
	if files.Results != "" {
		if err := writeFile(files.Results, func(w io.Writer) error {
			return WriteResults(w, descs, outcomes)
		}); err != nil {
			return err
		}
	}
	if files.Errors != "" {
		if err := writeFile(files.Errors, func(w io.Writer) error {
			return WriteErrors(w, descs, outcomes)
		}); err != nil {
			return err
		}
	}
	if files.Summary != "" {
		if err := writeFile(files.Summary, func(w io.Writer) error {
			return report.WriteJSON(w, summary)
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteResults writes one row per descriptor, in input order. Descriptors
// without an outcome are marked skipped.
func WriteResults(w io.Writer, descs []job.Descriptor, outcomes []*job.Outcome) error {
	return write(w, descs, outcomes, func(job.Status) bool { return true })
}

// WriteErrors writes only the rows whose status is error or failure.
func WriteErrors(w io.Writer, descs []job.Descriptor, outcomes []*job.Outcome) error {
	return write(w, descs, outcomes, func(s job.Status) bool {
		return s == job.StatusError || s == job.StatusFailure
	})
}

func write(w io.Writer, descs []job.Descriptor, outcomes []*job.Outcome, keep func(job.Status) bool) error {
	byID := make(map[string]*job.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.JobID] = o
	}

	header, cols := layout(descs)
	cw := csv.NewWriter(w)
	if err := cw.Write(append(header, ResultColumns...)); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	for _, d := range descs {
		o := byID[d.ID]
		status := job.StatusSkipped
		if o != nil {
			status = o.Status
		}
		if !keep(status) {
			continue
		}
		values := d.Values()
		row := make([]string, 0, len(cols)+len(ResultColumns))
		for _, c := range cols {
			if c < len(values) {
				row = append(row, values[c])
			} else {
				row = append(row, "")
			}
		}
		row = append(row, resultCells(status, o)...)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

// layout returns the pass-through header and the input column indexes it
// keeps. Input columns that clash with result columns are dropped, so a
// results file can be fed back in as input.
func layout(descs []job.Descriptor) ([]string, []int) {
	if len(descs) == 0 {
		return nil, nil
	}
	var header []string
	var cols []int
	for i, h := range descs[0].Header() {
		if slices.Contains(ResultColumns, strings.ToLower(strings.TrimSpace(h))) {
			continue
		}
		header = append(header, h)
		cols = append(cols, i)
	}
	return header, cols
}

func resultCells(status job.Status, o *job.Outcome) []string {
	if o == nil {
		return []string{string(status), "0", "", "", ""}
	}
	finished := ""
	if !o.FinishedAt.IsZero() {
		finished = o.FinishedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		string(status),
		strconv.Itoa(o.Attempts),
		o.Error,
		strings.Join(o.Artifacts, ArtifactSeparator),
		finished,
	}
}

func writeFile(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}
