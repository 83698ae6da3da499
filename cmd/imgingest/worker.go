package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cwygoda/imgingest/internal/dispatch"
	"github.com/cwygoda/imgingest/internal/domain"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued images from Redis",
	Long:  `Runs an asynq server that consumes image tasks enqueued by serve or submit in asynq mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer store.Close()

		objects, _, err := openObjects(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("open object storage: %w", err)
		}

		// Workers never create jobs, so the dispatcher is only a formality.
		enqueue := dispatch.NewAsynqDispatcher(redisOpt(cfg.Dispatch), dispatch.AsynqOptions{
			Queue:    cfg.Dispatch.Queue,
			MaxRetry: cfg.Dispatch.MaxRetry,
			Timeout:  cfg.Dispatch.TaskTimeout,
		}, logger)
		defer enqueue.Close()

		svc := domain.NewJobService(store, enqueue, logger)
		w, err := newWorker(cfg, store, objects, svc, logger)
		if err != nil {
			return err
		}

		srv := asynq.NewServer(redisOpt(cfg.Dispatch), asynq.Config{
			Concurrency: cfg.Dispatch.Workers,
			Queues:      map[string]int{cfg.Dispatch.Queue: 1},
			Logger:      logger,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.WithError(err).WithField("type", task.Type()).Error("task failed")
			}),
		})

		mux := asynq.NewServeMux()
		dispatch.RegisterHandlers(mux, w.Handle)

		logger.WithFields(logrus.Fields{
			"concurrency": cfg.Dispatch.Workers,
			"queue":       cfg.Dispatch.Queue,
			"redis":       cfg.Dispatch.RedisAddr,
		}).Info("starting worker")
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}

		<-ctx.Done()
		logger.Info("shutting down worker")
		srv.Shutdown()
		return nil
	},
}
