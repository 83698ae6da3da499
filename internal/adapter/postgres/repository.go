// Package postgres implements domain.JobStore on PostgreSQL for
// deployments where API and worker processes share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwygoda/imgingest/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    total      INTEGER NOT NULL,
    processed  INTEGER NOT NULL DEFAULT 0,
    succeeded  INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'pending',
    version    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner, created_at);

CREATE TABLE IF NOT EXISTS image_outcomes (
    id            BIGSERIAL PRIMARY KEY,
    job_id        TEXT NOT NULL REFERENCES jobs(id),
    item_index    INTEGER NOT NULL,
    original_url  TEXT NOT NULL,
    resolved_url  TEXT NOT NULL DEFAULT '',
    storage_key   TEXT NOT NULL DEFAULT '',
    public_url    TEXT NOT NULL DEFAULT '',
    content_type  TEXT NOT NULL DEFAULT '',
    format        TEXT NOT NULL DEFAULT '',
    width         INTEGER,
    height        INTEGER,
    file_size     BIGINT,
    dpi           INTEGER,
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (job_id, item_index)
);
`

const jobColumns = `id, owner, total, processed, succeeded, status, version, created_at, updated_at`

// Repository implements domain.JobStore using a pgx connection pool.
type Repository struct {
	db *pgxpool.Pool
}

// New connects to dsn and creates the schema if needed.
func New(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN cannot be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "imgingest"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Repository{db: pool}, nil
}

// Close closes the pool.
func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

// PutJob inserts a new job.
func (r *Repository) PutJob(ctx context.Context, job *domain.Job) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Owner, job.Total, job.Processed, job.Succeeded, string(job.Status), job.Version,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateJob writes the mutable job fields if the stored version matches.
func (r *Repository) UpdateJob(ctx context.Context, job *domain.Job, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET processed = $1, succeeded = $2, status = $3, version = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		job.Processed, job.Succeeded, string(job.Status), job.Version, job.UpdatedAt,
		job.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return domain.ErrVersionConflict
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (r *Repository) ListJobsByOwner(ctx context.Context, owner string) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner = $1 ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// PutOutcome inserts the outcome unless one exists for the same image.
func (r *Repository) PutOutcome(ctx context.Context, o *domain.ImageOutcome) (bool, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO image_outcomes (job_id, item_index, original_url, resolved_url, storage_key,
		     public_url, content_type, format, width, height, file_size, dpi, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (job_id, item_index) DO NOTHING
		 RETURNING id`,
		o.JobID, o.ItemIndex, o.OriginalURL, o.ResolvedURL, o.StorageKey,
		o.PublicURL, o.ContentType, o.Format, o.Width, o.Height,
		o.FileSizeBytes, o.DPI, o.ErrorMessage, o.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.ID = id
	return true, nil
}

// ListOutcomesByJob returns the outcomes of a job in submission order.
func (r *Repository) ListOutcomesByJob(ctx context.Context, jobID string) ([]domain.ImageOutcome, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_id, item_index, original_url, resolved_url, storage_key, public_url,
		     content_type, format, width, height, file_size, dpi, error_message, created_at
		 FROM image_outcomes WHERE job_id = $1 ORDER BY item_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.ImageOutcome
	for rows.Next() {
		var o domain.ImageOutcome
		if err := rows.Scan(&o.ID, &o.JobID, &o.ItemIndex, &o.OriginalURL, &o.ResolvedURL,
			&o.StorageKey, &o.PublicURL, &o.ContentType, &o.Format,
			&o.Width, &o.Height, &o.FileSizeBytes, &o.DPI, &o.ErrorMessage, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var status string
	err := row.Scan(&job.ID, &job.Owner, &job.Total, &job.Processed, &job.Succeeded,
		&status, &job.Version, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}
