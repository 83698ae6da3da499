package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/imgingest/internal/domain"
)

// TypeProcessImage is the asynq task type carrying one WorkItem.
const TypeProcessImage = "image:process"

// NewImageTask encodes a work item as an asynq task.
func NewImageTask(item domain.WorkItem) (*asynq.Task, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, payload), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqOptions configures enqueued tasks.
type AsynqOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// AsynqDispatcher enqueues work items on Redis for the worker command.
type AsynqDispatcher struct {
	client enqueuer
	close  func() error
	opts   AsynqOptions
	log    logrus.FieldLogger
}

// NewAsynqDispatcher connects an asynq client to Redis.
func NewAsynqDispatcher(redis asynq.RedisClientOpt, opts AsynqOptions, log logrus.FieldLogger) *AsynqDispatcher {
	client := asynq.NewClient(redis)
	d := newAsynqDispatcher(client, opts, log)
	d.close = client.Close
	return d
}

func newAsynqDispatcher(client enqueuer, opts AsynqOptions, log logrus.FieldLogger) *AsynqDispatcher {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AsynqDispatcher{client: client, opts: opts, log: log}
}

// Dispatch enqueues one item.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, item domain.WorkItem) error {
	task, err := NewImageTask(item)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(d.opts.Queue), asynq.MaxRetry(d.opts.MaxRetry)}
	if d.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(d.opts.Timeout))
	}

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s for job %s: %w", TypeProcessImage, item.JobID, err)
	}
	d.log.WithFields(logrus.Fields{
		"job_id":  item.JobID,
		"index":   item.Index,
		"task_id": info.ID,
		"queue":   info.Queue,
	}).Debug("task enqueued")
	return nil
}

// Close releases the Redis connection.
func (d *AsynqDispatcher) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// HandleImageTask adapts a Handler to asynq. Undecodable payloads are not
// retried.
func HandleImageTask(handler Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var item domain.WorkItem
		if err := json.Unmarshal(t.Payload(), &item); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", TypeProcessImage, err, asynq.SkipRetry)
		}
		return handler(ctx, item)
	}
}

// RegisterHandlers binds the image handler on mux.
func RegisterHandlers(mux *asynq.ServeMux, handler Handler) {
	mux.Handle(TypeProcessImage, HandleImageTask(handler))
}
