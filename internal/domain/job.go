package domain

import "time"

// JobStatus represents the aggregate processing state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one batch submission of image URLs.
type Job struct {
	ID        string
	Owner     string
	Total     int
	Processed int
	Succeeded int
	Status    JobStatus
	// Version is bumped on every write and guards concurrent updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Failed returns the number of images that finished with an error.
func (j *Job) Failed() int {
	return j.Processed - j.Succeeded
}

// Done returns true once every submitted image has reported.
func (j *Job) Done() bool {
	return j.Processed >= j.Total
}

// DeriveStatus computes a job status from its counters.
func DeriveStatus(processed, total, succeeded int) JobStatus {
	switch {
	case processed >= total && succeeded > 0:
		return StatusCompleted
	case processed >= total:
		return StatusFailed
	case processed > 0:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// MaxErrorMessageLen bounds the stored error text of an outcome.
const MaxErrorMessageLen = 512

// ImageOutcome is the result of processing one submitted URL.
type ImageOutcome struct {
	ID            int64
	JobID         string
	ItemIndex     int
	OriginalURL   string
	ResolvedURL   string
	StorageKey    string
	PublicURL     string
	ContentType   string
	Format        string
	Width         *int
	Height        *int
	FileSizeBytes *int64
	DPI           *int
	ErrorMessage  string
	CreatedAt     time.Time
}

// Succeeded returns true if the image was stored.
func (o *ImageOutcome) Succeeded() bool {
	return o.ErrorMessage == ""
}

// SetError records a failure, truncating long messages.
func (o *ImageOutcome) SetError(err error) {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	if r := []rune(msg); len(r) > MaxErrorMessageLen {
		msg = string(r[:MaxErrorMessageLen])
	}
	o.ErrorMessage = msg
}

// WorkItem is one unit of dispatched work: a single URL of a job.
type WorkItem struct {
	JobID string `json:"job_id"`
	Index int    `json:"index"`
	URL   string `json:"url"`
}
