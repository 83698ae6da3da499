package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	httpAdapter "github.com/cwygoda/imgingest/internal/adapter/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the HTTP API. In pool mode images are processed in-process;
in asynq mode they are queued on Redis for the worker command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Workers outlive the signal so the queue can drain.
		workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelWork()

		rt, err := newRuntime(workCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		srv := httpAdapter.NewServer(rt.svc, addr, logger, httpAdapter.Options{ObjectsDir: rt.objDir})

		logger.WithFields(logrus.Fields{
			"addr":     addr,
			"store":    cfg.Store.Driver,
			"storage":  cfg.Storage.Backend,
			"dispatch": cfg.Dispatch.Mode,
		}).Info("starting imgingest")

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http server shutdown")
		}
		return nil
	},
}
