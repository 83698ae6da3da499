package main

import (
	"github.com/spf13/cobra"

	"github.com/cwygoda/imgingest/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's progress and per-image results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		// Read-only: no dispatcher needed.
		svc := domain.NewJobService(store, nil, logger)
		job, err := svc.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}
		outcomes, err := svc.ListOutcomes(ctx, job.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printJob(out, job)
		printOutcomes(out, outcomes)
		return nil
	},
}
