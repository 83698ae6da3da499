package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		succeeded int
		want      JobStatus
	}{
		{"nothing processed", 0, 3, 0, StatusPending},
		{"partially processed with success", 1, 3, 1, StatusProcessing},
		{"partially processed all failed", 2, 3, 0, StatusProcessing},
		{"all processed one success", 3, 3, 1, StatusCompleted},
		{"all processed all success", 3, 3, 3, StatusCompleted},
		{"all processed zero success", 3, 3, 0, StatusFailed},
		{"single image failed", 1, 1, 0, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.processed, tt.total, tt.succeeded); got != tt.want {
				t.Errorf("DeriveStatus(%d, %d, %d) = %q, want %q", tt.processed, tt.total, tt.succeeded, got, tt.want)
			}
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestJobStatus_Values(t *testing.T) {
	// Stored as text in the jobs table
	if StatusPending != "pending" {
		t.Errorf("StatusPending = %q, want %q", StatusPending, "pending")
	}
	if StatusProcessing != "processing" {
		t.Errorf("StatusProcessing = %q, want %q", StatusProcessing, "processing")
	}
	if StatusCompleted != "completed" {
		t.Errorf("StatusCompleted = %q, want %q", StatusCompleted, "completed")
	}
	if StatusFailed != "failed" {
		t.Errorf("StatusFailed = %q, want %q", StatusFailed, "failed")
	}
}

func TestJob_Counters(t *testing.T) {
	job := Job{Total: 4, Processed: 3, Succeeded: 1}

	if job.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", job.Failed())
	}
	if job.Done() {
		t.Error("Done() = true, want false")
	}

	job.Processed = 4
	if !job.Done() {
		t.Error("Done() = false, want true")
	}
}

func TestImageOutcome_SetError(t *testing.T) {
	var o ImageOutcome
	if !o.Succeeded() {
		t.Error("Succeeded() = false for zero outcome")
	}

	o.SetError(errors.New("upstream returned 404"))
	if o.Succeeded() {
		t.Error("Succeeded() = true after SetError")
	}
	if o.ErrorMessage != "upstream returned 404" {
		t.Errorf("ErrorMessage = %q", o.ErrorMessage)
	}

	o.SetError(errors.New(strings.Repeat("é", MaxErrorMessageLen+40)))
	if n := len([]rune(o.ErrorMessage)); n != MaxErrorMessageLen {
		t.Errorf("truncated message has %d runes, want %d", n, MaxErrorMessageLen)
	}
}
