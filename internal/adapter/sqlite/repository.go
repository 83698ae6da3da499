package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/cwygoda/imgingest/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    total      INTEGER NOT NULL,
    processed  INTEGER NOT NULL DEFAULT 0,
    succeeded  INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'pending',
    version    INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner, created_at);

CREATE TABLE IF NOT EXISTS image_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
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
    file_size     INTEGER,
    dpi           INTEGER,
    error_message TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    UNIQUE (job_id, item_index)
);
`

// Repository implements domain.JobStore using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// One writer at a time; other processes are fenced by busy_timeout and
	// the version column.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// PutJob inserts a new job.
func (r *Repository) PutJob(ctx context.Context, job *domain.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner, total, processed, succeeded, status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Owner, job.Total, job.Processed, job.Succeeded, job.Status, job.Version,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner, total, processed, succeeded, status, version, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// UpdateJob writes the mutable job fields if the stored version matches.
func (r *Repository) UpdateJob(ctx context.Context, job *domain.Job, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET processed = ?, succeeded = ?, status = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		job.Processed, job.Succeeded, job.Status, job.Version, job.UpdatedAt,
		job.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, job.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrVersionConflict
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (r *Repository) ListJobsByOwner(ctx context.Context, owner string) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner, total, processed, succeeded, status, version, created_at, updated_at
		 FROM jobs WHERE owner = ? ORDER BY created_at DESC, id`, owner,
	)
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
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO image_outcomes (job_id, item_index, original_url, resolved_url, storage_key,
		     public_url, content_type, format, width, height, file_size, dpi, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, item_index) DO NOTHING`,
		o.JobID, o.ItemIndex, o.OriginalURL, o.ResolvedURL, o.StorageKey,
		o.PublicURL, o.ContentType, o.Format, nullInt(o.Width), nullInt(o.Height),
		nullInt64(o.FileSizeBytes), nullInt(o.DPI), o.ErrorMessage, o.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if id, err := result.LastInsertId(); err == nil {
		o.ID = id
	}
	return true, nil
}

// ListOutcomesByJob returns the outcomes of a job in submission order.
func (r *Repository) ListOutcomesByJob(ctx context.Context, jobID string) ([]domain.ImageOutcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, item_index, original_url, resolved_url, storage_key, public_url,
		     content_type, format, width, height, file_size, dpi, error_message, created_at
		 FROM image_outcomes WHERE job_id = ? ORDER BY item_index`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.ImageOutcome
	for rows.Next() {
		var (
			o                        domain.ImageOutcome
			width, height, size, dpi sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.JobID, &o.ItemIndex, &o.OriginalURL, &o.ResolvedURL,
			&o.StorageKey, &o.PublicURL, &o.ContentType, &o.Format,
			&width, &height, &size, &dpi, &o.ErrorMessage, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Width = intPtr(width)
		o.Height = intPtr(height)
		o.DPI = intPtr(dpi)
		if size.Valid {
			v := size.Int64
			o.FileSizeBytes = &v
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	err := row.Scan(&job.ID, &job.Owner, &job.Total, &job.Processed, &job.Succeeded,
		&status, &job.Version, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
