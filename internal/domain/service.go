package domain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyRequest    = errors.New("no URLs submitted")
	ErrInvalidOwner    = errors.New("owner is required")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobFinished     = errors.New("job already finished")
	ErrVersionConflict = errors.New("job was modified concurrently")
)

const defaultUpdateAttempts = 16

// JobService owns the job lifecycle: creation, dispatch and progress.
type JobService struct {
	store      JobStore
	dispatcher Dispatcher
	log        logrus.FieldLogger
	locks      *keyedMutex
	now        func() time.Time

	updateAttempts int
}

// NewJobService creates a new JobService.
func NewJobService(store JobStore, dispatcher Dispatcher, log logrus.FieldLogger) *JobService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &JobService{
		store:          store,
		dispatcher:     dispatcher,
		log:            log,
		locks:          newKeyedMutex(),
		now:            time.Now,
		updateAttempts: defaultUpdateAttempts,
	}
}

// CreateJob persists a pending job and dispatches one work item per URL.
// It does not wait for any image to be processed.
func (s *JobService) CreateJob(ctx context.Context, owner string, urls []string) (*Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	if len(urls) == 0 {
		return nil, ErrEmptyRequest
	}

	now := s.now()
	job := &Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		Total:     len(urls),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "owner": owner, "total": job.Total})
	log.Info("job created")

	// The job exists now; a caller going away must not fail its images.
	dispatchCtx := context.WithoutCancel(ctx)
	for i, u := range urls {
		item := WorkItem{JobID: job.ID, Index: i, URL: u}
		if err := s.dispatcher.Dispatch(dispatchCtx, item); err != nil {
			log.WithError(err).WithField("index", i).Warn("dispatch failed, recording image as failed")
			s.abandon(dispatchCtx, item, err)
		}
	}

	snapshot := *job
	return &snapshot, nil
}

// abandon records an undeliverable item as a failed image so the job can
// still reach a terminal state.
func (s *JobService) abandon(ctx context.Context, item WorkItem, cause error) {
	outcome := &ImageOutcome{
		JobID:       item.JobID,
		ItemIndex:   item.Index,
		OriginalURL: item.URL,
		ResolvedURL: item.URL,
		CreatedAt:   s.now(),
	}
	outcome.SetError(fmt.Errorf("dispatch: %w", cause))

	created, err := s.store.PutOutcome(ctx, outcome)
	if err != nil {
		s.log.WithError(err).WithField("job_id", item.JobID).Error("persist abandoned outcome")
		return
	}
	if !created {
		return
	}
	if _, err := s.ReportCompletion(ctx, item.JobID, false); err != nil {
		s.log.WithError(err).WithField("job_id", item.JobID).Error("report abandoned outcome")
	}
}

// ReportCompletion records that one image of the job finished. It is the
// only place a job record is mutated. Concurrent calls for the same job
// are serialized in-process and guarded by the stored version across
// processes.
func (s *JobService) ReportCompletion(ctx context.Context, jobID string, success bool) (*Job, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	log := s.log.WithField("job_id", jobID)
	for attempt := 1; attempt <= s.updateAttempts; attempt++ {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				log.Error("completion reported for missing job")
			}
			return nil, err
		}
		if job.Done() {
			log.WithField("processed", job.Processed).Warn("completion reported for finished job")
			return job, ErrJobFinished
		}

		expected := job.Version
		job.Processed++
		if success {
			job.Succeeded++
		}
		job.Status = DeriveStatus(job.Processed, job.Total, job.Succeeded)
		job.UpdatedAt = s.now()
		job.Version = expected + 1

		err = s.store.UpdateJob(ctx, job, expected)
		if err == nil {
			if job.Status.Terminal() {
				log.WithFields(logrus.Fields{
					"status":    job.Status,
					"succeeded": job.Succeeded,
					"failed":    job.Failed(),
				}).Info("job finished")
			}
			return job, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update job %s: %w", jobID, err)
		}

		log.WithField("attempt", attempt).Debug("version conflict, retrying")
		if err := sleepJitter(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update job %s: %w after %d attempts", jobID, ErrVersionConflict, s.updateAttempts)
}

// GetStatus retrieves a job by ID.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns the jobs submitted by owner, newest first.
func (s *JobService) ListJobs(ctx context.Context, owner string) ([]Job, error) {
	return s.store.ListJobsByOwner(ctx, owner)
}

// ListOutcomes returns the per-image results recorded so far for a job.
func (s *JobService) ListOutcomes(ctx context.Context, jobID string) ([]ImageOutcome, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListOutcomesByJob(ctx, jobID)
}

// ListPublicURLs returns the public URLs of every stored image of owner.
func (s *JobService) ListPublicURLs(ctx context.Context, owner string) ([]string, error) {
	jobs, err := s.store.ListJobsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, job := range jobs {
		outcomes, err := s.store.ListOutcomesByJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range outcomes {
			if o.PublicURL != "" {
				urls = append(urls, o.PublicURL)
			}
		}
	}
	return urls, nil
}

func sleepJitter(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*5*time.Millisecond + rand.N(5*time.Millisecond)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// keyedMutex hands out one mutex per key, dropping it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
