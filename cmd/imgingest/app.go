package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/imgingest/internal/adapter/postgres"
	"github.com/cwygoda/imgingest/internal/adapter/rewrite"
	"github.com/cwygoda/imgingest/internal/adapter/sqlite"
	"github.com/cwygoda/imgingest/internal/adapter/storage"
	"github.com/cwygoda/imgingest/internal/config"
	"github.com/cwygoda/imgingest/internal/dispatch"
	"github.com/cwygoda/imgingest/internal/domain"
	"github.com/cwygoda/imgingest/internal/fetch"
	"github.com/cwygoda/imgingest/internal/metadata"
	"github.com/cwygoda/imgingest/internal/pipeline"
)

type jobStore interface {
	domain.JobStore
	io.Closer
}

func openStore(ctx context.Context, sc config.StoreConfig) (jobStore, error) {
	switch sc.Driver {
	case "postgres":
		return postgres.New(ctx, sc.PostgresDSN)
	default:
		return sqlite.New(sc.SQLitePath)
	}
}

// openObjects returns the object store and, for the filesystem backend,
// the directory that should be served under /objects/.
func openObjects(ctx context.Context, sc config.StorageConfig) (domain.ObjectStore, string, error) {
	if sc.Backend == "s3" {
		s, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    sc.Bucket,
			Region:    sc.Region,
			CDNDomain: sc.CDNDomain,
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
		})
		return s, "", err
	}
	fs, err := storage.NewFileStore(sc.Dir, sc.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return fs, fs.BasePath(), nil
}

func newWorker(c *config.Config, store domain.JobStore, objects domain.ObjectStore, reporter pipeline.Reporter, log logrus.FieldLogger) (*pipeline.Worker, error) {
	chain, err := rewrite.FromConfig(c.Rewriters)
	if err != nil {
		return nil, fmt.Errorf("url rewriters: %w", err)
	}
	fetcher := fetch.New(fetch.Options{
		Timeout:   c.Fetch.Timeout,
		MaxBytes:  c.Fetch.MaxBytes,
		UserAgent: c.Fetch.UserAgent,
	})
	return pipeline.New(chain, fetcher, objects, metadata.New(), store, reporter, log, pipeline.Options{
		FetchTimeout:  c.Fetch.Timeout,
		UploadTimeout: c.Storage.Timeout,
	}), nil
}

func redisOpt(dc config.DispatchConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     dc.RedisAddr,
		Password: dc.RedisPassword,
		DB:       dc.RedisDB,
	}
}

// runtime is a fully wired job service with its dispatcher.
type runtime struct {
	store   jobStore
	svc     *domain.JobService
	pool    *dispatch.Pool
	asynq   *dispatch.AsynqDispatcher
	objDir  string
	objects domain.ObjectStore
}

// newRuntime wires store, object storage, dispatcher and job service. In
// pool mode the in-process workers are started on ctx.
func newRuntime(ctx context.Context, c *config.Config, log *logrus.Logger) (*runtime, error) {
	store, err := openStore(ctx, c.Store)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	objects, objDir, err := openObjects(ctx, c.Storage)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open object storage: %w", err)
	}

	rt := &runtime{store: store, objects: objects, objDir: objDir}
	if c.Dispatch.Mode == "asynq" {
		rt.asynq = dispatch.NewAsynqDispatcher(redisOpt(c.Dispatch), dispatch.AsynqOptions{
			Queue:    c.Dispatch.Queue,
			MaxRetry: c.Dispatch.MaxRetry,
			Timeout:  c.Dispatch.TaskTimeout,
		}, log)
		rt.svc = domain.NewJobService(store, rt.asynq, log)
		return rt, nil
	}

	rt.pool = dispatch.NewPool(dispatch.PoolOptions{
		Workers:        c.Dispatch.Workers,
		QueueDepth:     c.Dispatch.QueueDepth,
		RejectWhenFull: c.Dispatch.RejectWhenFull,
		MaxRetries:     c.Dispatch.Retries,
		RetryBackoff:   c.Dispatch.RetryBackoff,
	}, log)
	rt.svc = domain.NewJobService(store, rt.pool, log)
	w, err := newWorker(c, store, objects, rt.svc, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	rt.pool.Start(ctx, w.Handle)
	return rt, nil
}

// Close drains in-process work before closing the store.
func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.asynq != nil {
		rt.asynq.Close()
	}
	rt.store.Close()
}
