package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
	run_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	row_num INTEGER NOT NULL,
	flow TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	retries INTEGER NOT NULL,
	artifacts TEXT NOT NULL,
	error TEXT,
	metadata TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, job_id)
);
CREATE INDEX IF NOT EXISTS job_outcomes_finished_at ON job_outcomes (finished_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite history: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, o *job.Outcome) error {
	artifactsJSON, err := json.Marshal(o.Artifacts)
	if err != nil {
		return fmt.Errorf("sqlite history: %w", err)
	}
	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite history: %w", err)
	}

	query := `
	INSERT INTO job_outcomes (
		run_id, job_id, row_num, flow, status, attempts, retries, artifacts, error, metadata, started_at, finished_at, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		o.RunID,
		o.JobID,
		o.Row,
		o.Flow,
		string(o.Status),
		o.Attempts,
		o.Retries,
		string(artifactsJSON),
		o.Error,
		string(metadataJSON),
		o.StartedAt.UTC(),
		o.FinishedAt.UTC(),
		o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("sqlite history: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*job.Outcome, error) {
	query := `SELECT run_id, job_id, row_num, flow, status, attempts, retries, artifacts, error, metadata, started_at, finished_at, duration_ms FROM job_outcomes WHERE 1=1`
	args := []any{}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.Flow != "" {
		query += ` AND flow = ?`
		args = append(args, filter.Flow)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		query += ` AND finished_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY finished_at DESC, rowid DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	defer rows.Close()

	var results []*job.Outcome
	for rows.Next() {
		var (
			o             job.Outcome
			status        string
			artifactsJSON string
			metadataJSON  string
			errText       sql.NullString
			durationMs    int64
		)

		err := rows.Scan(
			&o.RunID, &o.JobID, &o.Row, &o.Flow, &status, &o.Attempts, &o.Retries,
			&artifactsJSON, &errText, &metadataJSON, &o.StartedAt, &o.FinishedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite history: %w", err)
		}

		o.Status = job.Status(status)
		o.Error = errText.String
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(artifactsJSON), &o.Artifacts); err != nil {
			return nil, fmt.Errorf("sqlite history: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &o.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite history: %w", err)
		}

		results = append(results, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
