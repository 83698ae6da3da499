// Package pipeline runs one submitted URL through normalize, fetch,
// upload and metadata extraction, then records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/imgingest/internal/adapter/storage"
	"github.com/cwygoda/imgingest/internal/domain"
	"github.com/cwygoda/imgingest/internal/fetch"
	"github.com/cwygoda/imgingest/internal/metadata"
)

// Normalizer rewrites share links into downloadable URLs.
type Normalizer interface {
	Normalize(url string) string
}

// Fetcher downloads image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Download, error)
}

// Extractor reads image metadata. Its error is informational.
type Extractor interface {
	Extract(data []byte) (metadata.Metadata, error)
}

// Reporter receives one completion per processed image.
type Reporter interface {
	ReportCompletion(ctx context.Context, jobID string, success bool) (*domain.Job, error)
}

// Options holds the per-stage timeouts. Zero disables a timeout.
type Options struct {
	FetchTimeout  time.Duration
	UploadTimeout time.Duration
}

// Worker processes work items. It is safe for concurrent use.
type Worker struct {
	normalizer Normalizer
	fetcher    Fetcher
	objects    domain.ObjectStore
	extractor  Extractor
	store      domain.JobStore
	reporter   Reporter
	log        logrus.FieldLogger
	opts       Options
	now        func() time.Time
}

// New creates a Worker.
func New(normalizer Normalizer, fetcher Fetcher, objects domain.ObjectStore, extractor Extractor,
	store domain.JobStore, reporter Reporter, log logrus.FieldLogger, opts Options) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		normalizer: normalizer,
		fetcher:    fetcher,
		objects:    objects,
		extractor:  extractor,
		store:      store,
		reporter:   reporter,
		log:        log,
		opts:       opts,
		now:        time.Now,
	}
}

// Handle processes an item and returns only infrastructure errors, so it
// can serve as a dispatch handler.
func (w *Worker) Handle(ctx context.Context, item domain.WorkItem) error {
	_, err := w.Process(ctx, item)
	return err
}

// Process runs the full pipeline for one image. Fetch and upload failures
// end up in the outcome, never in the returned error. The error is set
// only when the outcome could not be persisted or reported.
func (w *Worker) Process(ctx context.Context, item domain.WorkItem) (domain.ImageOutcome, error) {
	log := w.log.WithFields(logrus.Fields{"job_id": item.JobID, "index": item.Index})

	resolved := w.normalizer.Normalize(item.URL)
	outcome := domain.ImageOutcome{
		JobID:       item.JobID,
		ItemIndex:   item.Index,
		OriginalURL: item.URL,
		ResolvedURL: resolved,
	}
	if resolved != item.URL {
		log.WithField("resolved_url", resolved).Debug("url rewritten")
	}

	if err := w.run(ctx, &outcome, log); err != nil {
		log.WithError(err).Warn("image failed")
		outcome.SetError(err)
	}
	outcome.CreatedAt = w.now()

	created, err := w.store.PutOutcome(ctx, &outcome)
	if err != nil {
		return outcome, fmt.Errorf("persist outcome: %w", err)
	}
	if !created {
		log.Info("outcome already recorded, skipping duplicate delivery")
		return outcome, nil
	}

	job, err := w.reporter.ReportCompletion(ctx, item.JobID, outcome.Succeeded())
	switch {
	case errors.Is(err, domain.ErrJobFinished):
		log.Warn("completion reported after job finished")
		return outcome, nil
	case err != nil:
		return outcome, fmt.Errorf("report completion: %w", err)
	}

	log.WithFields(logrus.Fields{
		"success":   outcome.Succeeded(),
		"processed": job.Processed,
		"total":     job.Total,
		"status":    job.Status,
	}).Info("image processed")
	return outcome, nil
}

func (w *Worker) run(ctx context.Context, outcome *domain.ImageOutcome, log logrus.FieldLogger) error {
	fetchCtx, cancel := withTimeout(ctx, w.opts.FetchTimeout)
	dl, err := w.fetcher.Fetch(fetchCtx, outcome.ResolvedURL)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	key := uuid.NewString() + storage.ExtensionFor(dl.ContentType)
	uploadCtx, cancel := withTimeout(ctx, w.opts.UploadTimeout)
	publicURL, err := w.objects.Put(uploadCtx, key, dl.ContentType, dl.Body)
	cancel()
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	size := int64(len(dl.Body))
	outcome.StorageKey = key
	outcome.PublicURL = publicURL
	outcome.ContentType = dl.ContentType
	outcome.FileSizeBytes = &size

	md, err := w.extractor.Extract(dl.Body)
	if err != nil {
		log.WithError(err).Warn("metadata incomplete")
	}
	outcome.Format = md.Format
	outcome.Width = md.Width
	outcome.Height = md.Height
	outcome.DPI = md.DPI
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
