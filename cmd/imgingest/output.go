package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/cwygoda/imgingest/internal/domain"
)

func printJob(w io.Writer, job *domain.Job) {
	fmt.Fprintf(w, "Job:       %s\n", job.ID)
	fmt.Fprintf(w, "Owner:     %s\n", job.Owner)
	fmt.Fprintf(w, "Status:    %s\n", statusColor(job.Status).Sprint(job.Status))
	fmt.Fprintf(w, "Progress:  %d/%d (%d succeeded)\n", job.Processed, job.Total, job.Succeeded)
	fmt.Fprintf(w, "Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:   %s\n", job.UpdatedAt.Format(time.RFC3339))
}

func printOutcomes(w io.Writer, outcomes []domain.ImageOutcome) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "URL", "Result", "Format", "Size", "Dimensions", "DPI"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)

	for _, o := range outcomes {
		result := o.PublicURL
		if !o.Succeeded() {
			result = "error: " + o.ErrorMessage
		}
		table.Append([]string{
			strconv.Itoa(o.ItemIndex),
			o.OriginalURL,
			result,
			orDash(o.Format),
			formatSize(o.FileSizeBytes),
			formatDimensions(o.Width, o.Height),
			formatInt(o.DPI),
		})
	}
	table.Render()
}

func printJobs(w io.Writer, jobs []domain.Job) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job ID", "Status", "Processed", "Succeeded", "Created"})
	table.SetBorder(true)

	for _, job := range jobs {
		table.Append([]string{
			job.ID,
			string(job.Status),
			fmt.Sprintf("%d/%d", job.Processed, job.Total),
			strconv.Itoa(job.Succeeded),
			humanize.Time(job.CreatedAt),
		})
	}
	table.Render()
}

func statusColor(s domain.JobStatus) *color.Color {
	switch s {
	case domain.StatusCompleted:
		return color.New(color.FgGreen, color.Bold)
	case domain.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	case domain.StatusProcessing:
		return color.New(color.FgYellow)
	}
	return color.New(color.Reset)
}

func formatSize(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanize.IBytes(uint64(*n))
}

func formatDimensions(w, h *int) string {
	if w == nil || h == nil {
		return "-"
	}
	return fmt.Sprintf("%dx%d", *w, *h)
}

func formatInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
