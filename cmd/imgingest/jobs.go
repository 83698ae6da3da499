package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwygoda/imgingest/internal/domain"
)

var (
	jobsOwner string
	jobsURLs  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List an owner's jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := domain.NewJobService(store, nil, logger)
		out := cmd.OutOrStdout()

		if jobsURLs {
			urls, err := svc.ListPublicURLs(ctx, jobsOwner)
			if err != nil {
				return err
			}
			for _, u := range urls {
				fmt.Fprintln(out, u)
			}
			return nil
		}

		jobs, err := svc.ListJobs(ctx, jobsOwner)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintf(out, "No jobs for %s\n", jobsOwner)
			return nil
		}
		printJobs(out, jobs)
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsOwner, "owner", os.Getenv("USER"), "owner whose jobs to list")
	jobsCmd.Flags().BoolVar(&jobsURLs, "urls", false, "print public URLs of stored images instead")
}
