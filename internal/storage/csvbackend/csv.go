package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"run_id",
	"job_id",
	"row",
	"flow",
	"status",
	"attempts",
	"retries",
	"artifacts_json",
	"error",
	"metadata_json",
	"started_at",
	"finished_at",
	"duration_ms",
}

// New creates a new CSV-backed storage.Backend. The file is appended to.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv history: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv history: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv history: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv history: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, o *job.Outcome) error {
	artifactsJSON, err := json.Marshal(o.Artifacts)
	if err != nil {
		return fmt.Errorf("csv history: %w", err)
	}
	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("csv history: %w", err)
	}

	record := []string{
		o.RunID,
		o.JobID,
		strconv.Itoa(o.Row),
		o.Flow,
		string(o.Status),
		strconv.Itoa(o.Attempts),
		strconv.Itoa(o.Retries),
		string(artifactsJSON),
		o.Error,
		string(metadataJSON),
		o.StartedAt.Format(time.RFC3339Nano),
		o.FinishedAt.Format(time.RFC3339Nano),
		strconv.FormatInt(o.Duration.Milliseconds(), 10),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("csv history: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("csv history: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv history: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*job.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csv history: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return []*job.Outcome{}, nil
		}
		return nil, fmt.Errorf("csv history: %w", err)
	}

	var matched []*job.Outcome
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv history: %w", err)
		}
		if len(record) != len(headers) {
			continue // skip malformed rows
		}

		o := decode(record)
		if filter.Match(o) {
			matched = append(matched, o)
		}
	}

	return filter.Page(matched), nil
}

func decode(record []string) *job.Outcome {
	row, _ := strconv.Atoi(record[2])
	attempts, _ := strconv.Atoi(record[5])
	retries, _ := strconv.Atoi(record[6])
	var artifacts []string
	_ = json.Unmarshal([]byte(record[7]), &artifacts)
	var metadata map[string]string
	_ = json.Unmarshal([]byte(record[9]), &metadata)
	startedAt, _ := time.Parse(time.RFC3339Nano, record[10])
	finishedAt, _ := time.Parse(time.RFC3339Nano, record[11])
	durationMs, _ := strconv.ParseInt(record[12], 10, 64)

	return &job.Outcome{
		RunID:      record[0],
		JobID:      record[1],
		Row:        row,
		Flow:       record[3],
		Status:     job.Status(record[4]),
		Attempts:   attempts,
		Retries:    retries,
		Artifacts:  artifacts,
		Error:      record[8],
		Metadata:   metadata,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   time.Duration(durationMs) * time.Millisecond,
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
