// Package dispatch delivers work items to per-image workers, either
// through a bounded in-process pool or a Redis-backed asynq queue.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/cwygoda/imgingest/internal/domain"
)

var (
	ErrPoolSaturated = errors.New("work queue is full")
	ErrPoolClosed    = errors.New("work pool is closed")
)

// Handler processes one work item. A returned error is logged by the pool
// and used by queue transports to schedule a retry.
type Handler func(ctx context.Context, item domain.WorkItem) error

// PoolOptions sizes a Pool.
type PoolOptions struct {
	Workers        int
	QueueDepth     int
	RejectWhenFull bool
	// MaxRetries is how many times a failing item is handed to the handler
	// again. Delays start at RetryBackoff and double per attempt.
	MaxRetries   int
	RetryBackoff time.Duration
}

const maxRetryDelay = time.Minute

// Pool is a bounded in-process dispatcher. Items wait in a fixed-size
// queue and at most Workers handlers run at once.
type Pool struct {
	queue   chan domain.WorkItem
	sem     *semaphore.Weighted
	workers int64
	reject  bool
	retries int
	backoff time.Duration
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool

	running sync.WaitGroup
	loop    sync.WaitGroup
}

// NewPool creates a Pool. It accepts items immediately but runs nothing
// until Start is called.
func NewPool(opts PoolOptions, log logrus.FieldLogger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		queue:   make(chan domain.WorkItem, opts.QueueDepth),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		workers: int64(opts.Workers),
		reject:  opts.RejectWhenFull,
		retries: opts.MaxRetries,
		backoff: opts.RetryBackoff,
		log:     log,
	}
}

// Dispatch queues an item. When the queue is full it either blocks until
// space frees up or ctx is done, or fails with ErrPoolSaturated if the
// pool rejects when full.
func (p *Pool) Dispatch(ctx context.Context, item domain.WorkItem) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	if p.reject {
		select {
		case p.queue <- item:
			return nil
		default:
			return ErrPoolSaturated
		}
	}

	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs handler for queued items until Close is called. Handlers
// receive ctx, so callers should Close before cancelling it to let the
// queue drain cleanly.
func (p *Pool) Start(ctx context.Context, handler Handler) {
	p.loop.Add(1)
	go func() {
		defer p.loop.Done()
		for item := range p.queue {
			// Acquire only fails on a done context; the pool never
			// requests more than its capacity.
			if err := p.sem.Acquire(context.Background(), 1); err != nil {
				p.log.WithError(err).Error("acquire worker slot")
				continue
			}
			p.running.Add(1)
			go func(item domain.WorkItem) {
				defer p.running.Done()
				defer p.sem.Release(1)
				p.run(ctx, handler, item)
			}(item)
		}
	}()
	p.log.WithFields(logrus.Fields{
		"workers":     p.workers,
		"queue_depth": cap(p.queue),
		"max_retries": p.retries,
	}).Info("worker pool started")
}

// run calls handler until it succeeds or the retries are used up. Items
// are redelivered as a whole, so handlers must be idempotent.
func (p *Pool) run(ctx context.Context, handler Handler, item domain.WorkItem) {
	log := p.log.WithFields(logrus.Fields{"job_id": item.JobID, "index": item.Index})
	delay := p.backoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, item)
		if err == nil {
			return
		}
		if attempt > p.retries {
			log.WithError(err).WithField("attempts", attempt).Error("work item failed")
			return
		}

		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": delay,
		}).Warn("work item failed, retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.WithError(ctx.Err()).Error("work item abandoned")
			return
		case <-t.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

// Pending returns the number of queued items not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Close stops accepting items, drains the queue and waits for running
// handlers to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.loop.Wait()
	p.running.Wait()
	p.log.Info("worker pool stopped")
}
