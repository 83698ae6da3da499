package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	submitOwner string
	submitFile  string
	submitWait  bool
	submitPoll  time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit [url...]",
	Short: "Submit a batch of image URLs",
	Long: `Creates a job for the given URLs. In pool mode the images are processed
in this process and the command waits for the job to finish. In asynq mode
the job is queued for the worker command and --wait is optional.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urls := append([]string(nil), args...)
		if submitFile != "" {
			fromFile, err := readURLFile(submitFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(context.WithoutCancel(ctx), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		job, err := rt.svc.CreateJob(ctx, submitOwner, urls)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Submitted job %s with %d image(s)\n", job.ID, job.Total)

		if !submitWait && rt.pool == nil {
			return nil
		}

		ticker := time.NewTicker(submitPoll)
		defer ticker.Stop()
		for !job.Status.Terminal() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if job, err = rt.svc.GetStatus(ctx, job.ID); err != nil {
				return err
			}
		}

		outcomes, err := rt.svc.ListOutcomes(ctx, job.ID)
		if err != nil {
			return err
		}
		printJob(out, job)
		printOutcomes(out, outcomes)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", os.Getenv("USER"), "owner of the job")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "read URLs from a file, one per line")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the job to finish (always on in pool mode)")
	submitCmd.Flags().DurationVar(&submitPoll, "poll", 500*time.Millisecond, "status poll interval")
}

// readURLFile reads one URL per line, skipping blanks and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(urls) == 0 {
		return nil, errors.New("no URLs in " + path)
	}
	return urls, nil
}
