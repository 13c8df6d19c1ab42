package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	artifacts JSONB NOT NULL,
	error TEXT,
	metadata JSONB NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (run_id, job_id)
);
CREATE INDEX IF NOT EXISTS job_outcomes_finished_at ON job_outcomes (finished_at);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, o *job.Outcome) error {
	artifactsJSON, err := json.Marshal(o.Artifacts)
	if err != nil {
		return fmt.Errorf("postgres history: %w", err)
	}
	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("postgres history: %w", err)
	}

	query := `
	INSERT INTO job_outcomes (
		run_id, job_id, row_num, flow, status, attempts, retries, artifacts, error, metadata, started_at, finished_at, duration_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = b.pool.Exec(ctx, query,
		o.RunID,
		o.JobID,
		o.Row,
		o.Flow,
		string(o.Status),
		o.Attempts,
		o.Retries,
		artifactsJSON,
		o.Error,
		metadataJSON,
		o.StartedAt,
		o.FinishedAt,
		o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres history: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*job.Outcome, error) {
	query := `SELECT run_id, job_id, row_num, flow, status, attempts, retries, artifacts, COALESCE(error, ''), metadata, started_at, finished_at, duration_ms FROM job_outcomes WHERE 1=1`
	args := []any{}
	paramCount := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, paramCount)
		args = append(args, v)
		paramCount++
	}

	if filter.RunID != "" {
		add(` AND run_id = $%d`, filter.RunID)
	}
	if filter.JobID != "" {
		add(` AND job_id = $%d`, filter.JobID)
	}
	if filter.Flow != "" {
		add(` AND flow = $%d`, filter.Flow)
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	if filter.Since != nil {
		add(` AND finished_at >= $%d`, *filter.Since)
	}

	query += ` ORDER BY finished_at DESC`

	if filter.Limit > 0 {
		add(` LIMIT $%d`, filter.Limit)
	}
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres history: %w", err)
	}
	defer rows.Close()

	var results []*job.Outcome
	for rows.Next() {
		var (
			o             job.Outcome
			status        string
			artifactsJSON []byte
			metadataJSON  []byte
			durationMs    int64
		)

		err := rows.Scan(
			&o.RunID, &o.JobID, &o.Row, &o.Flow, &status, &o.Attempts, &o.Retries,
			&artifactsJSON, &o.Error, &metadataJSON, &o.StartedAt, &o.FinishedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}

		o.Status = job.Status(status)
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(artifactsJSON, &o.Artifacts); err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}

		results = append(results, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres history: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
