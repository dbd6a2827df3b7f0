// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// dbPool is the subset of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs and results in Postgres.
//
// Expected schema:
//
//	CREATE TABLE scrape_jobs (
//	    id TEXT PRIMARY KEY,
//	    status TEXT NOT NULL,
//	    target JSONB NOT NULL,
//	    max_pages INT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    started_at TIMESTAMPTZ,
//	    completed_at TIMESTAMPTZ,
//	    progress INT NOT NULL DEFAULT 0,
//	    error TEXT NOT NULL DEFAULT '',
//	    result_key TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE scrape_results (
//	    job_id TEXT PRIMARY KEY REFERENCES scrape_jobs(id),
//	    reviews JSONB NOT NULL
//	);
type JobStore struct {
	pool  dbPool
	clock scraper.Clock
}

// New connects to Postgres and pings it.
func New(ctx context.Context, dsn string, clock scraper.Clock) (*JobStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool, clock scraper.Clock) *JobStore {
	return &JobStore{pool: pool, clock: clock}
}

// Close shuts down the connection pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob implements scraper.JobStore.
func (s *JobStore) CreateJob(ctx context.Context, job scraper.Job) error {
	target, err := json.Marshal(job.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	query := `
		INSERT INTO scrape_jobs (id, status, target, max_pages, created_at, progress, error, result_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status), target, job.MaxPages, job.CreatedAt,
		job.Progress, job.Error, job.ResultKey)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s already exists", scraper.ErrInvalidState, job.ID)
	}
	return nil
}

// GetJob implements scraper.JobStore.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	query := `
		SELECT id, status, target, max_pages, created_at, started_at, completed_at, progress, error, result_key
		FROM scrape_jobs
		WHERE id = $1
	`
	var (
		job       scraper.Job
		status    string
		targetRaw []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &status, &targetRaw, &job.MaxPages, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.Progress, &job.Error, &job.ResultKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = scraper.JobStatus(status)
	if err := json.Unmarshal(targetRaw, &job.Target); err != nil {
		return scraper.Job{}, fmt.Errorf("unmarshal target: %w", err)
	}
	return job, nil
}

// UpdateStatus implements scraper.JobStore. The current status is read
// first and the update is guarded on it, so a concurrent transition
// loses cleanly instead of clobbering.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status scraper.JobStatus, errText string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scrape_jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("select job status: %w", err)
	}
	if !scraper.JobStatus(current).CanTransition(status) {
		return fmt.Errorf("%w: cannot transition job %s from %s to %s",
			scraper.ErrInvalidState, jobID, current, status)
	}

	now := s.clock.Now()
	var startedAt, completedAt *time.Time
	if status == scraper.JobStatusInProgress {
		startedAt = &now
	}
	if status.IsTerminal() {
		completedAt = &now
	}
	query := `
		UPDATE scrape_jobs
		SET status = $1,
		    error = $2,
		    started_at = COALESCE(started_at, $3),
		    completed_at = COALESCE($4, completed_at)
		WHERE id = $5 AND status = $6
	`
	tag, err := s.pool.Exec(ctx, query, string(status), errText, startedAt, completedAt, jobID, current)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s changed concurrently", scraper.ErrInvalidState, jobID)
	}
	return nil
}

// SetProgress implements scraper.JobStore. Progress only moves forward.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	query := `UPDATE scrape_jobs SET progress = $1 WHERE id = $2 AND progress < $1`
	tag, err := s.pool.Exec(ctx, query, progress, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// no row moved: either the job is unknown or progress would regress
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	return nil
}

// SetResults implements scraper.JobStore.
func (s *JobStore) SetResults(ctx context.Context, jobID string, reviews []scraper.Review) error {
	payload, err := json.Marshal(reviews)
	if err != nil {
		return fmt.Errorf("marshal reviews: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET result_key = id WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("update result key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}

	query := `
		INSERT INTO scrape_results (job_id, reviews)
		VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET reviews = EXCLUDED.reviews
	`
	if _, err := s.pool.Exec(ctx, query, jobID, payload); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	return nil
}

// Results implements scraper.JobStore.
func (s *JobStore) Results(ctx context.Context, jobID string) ([]scraper.Review, error) {
	query := `
		SELECT r.reviews
		FROM scrape_jobs j
		LEFT JOIN scrape_results r ON r.job_id = j.id
		WHERE j.id = $1
	`
	var payload []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	if payload == nil {
		return nil, nil
	}
	var reviews []scraper.Review
	if err := json.Unmarshal(payload, &reviews); err != nil {
		return nil, fmt.Errorf("unmarshal reviews: %w", err)
	}
	return reviews, nil
}
