package domain

import "context"

// JobStore is the driven port for job and outcome persistence.
type JobStore interface {
	PutJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpdateJob overwrites the job if its stored version equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	UpdateJob(ctx context.Context, job *Job, expectedVersion int64) error
	// PutOutcome stores an outcome once per (JobID, ItemIndex). created is
	// false when an outcome for that image already existed.
	PutOutcome(ctx context.Context, outcome *ImageOutcome) (created bool, err error)
	ListOutcomesByJob(ctx context.Context, jobID string) ([]ImageOutcome, error)
	ListJobsByOwner(ctx context.Context, owner string) ([]Job, error)
}

// Dispatcher hands work items to per-image workers. Delivery is at least
// once; no ordering is guaranteed.
type Dispatcher interface {
	Dispatch(ctx context.Context, item WorkItem) error
}

// ObjectStore durably stores bytes and returns a public URL for them.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// URLRewriter turns a known viewer URL into a directly downloadable one.
type URLRewriter interface {
	Name() string
	// Rewrite returns the rewritten URL and true if the URL matched.
	Rewrite(url string) (string, bool)
}
