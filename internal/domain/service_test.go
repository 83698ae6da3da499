package domain

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// mockStore implements JobStore for testing.
type mockStore struct {
	mu        sync.Mutex
	jobs      map[string]Job
	outcomes  map[string][]ImageOutcome
	putErr    error
	conflicts int // number of UpdateJob calls to fail with ErrVersionConflict
	updates   int
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]Job), outcomes: make(map[string][]ImageOutcome)}
}

func (m *mockStore) PutJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (m *mockStore) UpdateJob(ctx context.Context, job *Job, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	current, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockStore) PutOutcome(ctx context.Context, outcome *ImageOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.outcomes[outcome.JobID] {
		if o.ItemIndex == outcome.ItemIndex {
			return false, nil
		}
	}
	m.outcomes[outcome.JobID] = append(m.outcomes[outcome.JobID], *outcome)
	return true, nil
}

func (m *mockStore) ListOutcomesByJob(ctx context.Context, jobID string) ([]ImageOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ImageOutcome(nil), m.outcomes[jobID]...), nil
}

func (m *mockStore) ListJobsByOwner(ctx context.Context, owner string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Job
	for _, job := range m.jobs {
		if job.Owner == owner {
			result = append(result, job)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// mockDispatcher records dispatched items.
type mockDispatcher struct {
	mu    sync.Mutex
	items []WorkItem
	err   error
}

func (d *mockDispatcher) Dispatch(ctx context.Context, item WorkItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, item)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService() (*JobService, *mockStore, *mockDispatcher) {
	store := newMockStore()
	disp := &mockDispatcher{}
	return NewJobService(store, disp, quietLogger()), store, disp
}

func TestJobService_CreateJob(t *testing.T) {
	svc, store, disp := newTestService()
	ctx := context.Background()

	urls := []string{"https://example.com/a.png", "https://example.com/b.png", "https://example.com/a.png"}
	job, err := svc.CreateJob(ctx, "alice", urls)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if job.ID == "" {
		t.Error("CreateJob() job.ID is empty")
	}
	if job.Total != 3 || job.Processed != 0 || job.Status != StatusPending {
		t.Errorf("CreateJob() job = %+v, want total=3 processed=0 pending", job)
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.Owner != "alice" {
		t.Errorf("stored owner = %q, want %q", stored.Owner, "alice")
	}

	if len(disp.items) != 3 {
		t.Fatalf("dispatched %d items, want 3", len(disp.items))
	}
	for i, item := range disp.items {
		if item.JobID != job.ID || item.Index != i || item.URL != urls[i] {
			t.Errorf("item %d = %+v", i, item)
		}
	}
}

func TestJobService_CreateJob_Validation(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		urls    []string
		wantErr error
	}{
		{"empty list", "alice", nil, ErrEmptyRequest},
		{"blank owner", "  ", []string{"https://example.com/a.png"}, ErrInvalidOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, disp := newTestService()

			_, err := svc.CreateJob(context.Background(), tt.owner, tt.urls)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateJob() error = %v, want %v", err, tt.wantErr)
			}
			if len(store.jobs) != 0 || len(disp.items) != 0 {
				t.Error("CreateJob() persisted or dispatched on invalid input")
			}
		})
	}
}

func TestJobService_CreateJob_StoreError(t *testing.T) {
	svc, store, disp := newTestService()
	store.putErr = errors.New("disk full")

	_, err := svc.CreateJob(context.Background(), "alice", []string{"https://example.com/a.png"})
	if err == nil {
		t.Fatal("CreateJob() error = nil, want error")
	}
	if len(disp.items) != 0 {
		t.Error("items dispatched although the job was not stored")
	}
}

func TestJobService_CreateJob_DispatchFailure(t *testing.T) {
	svc, store, disp := newTestService()
	disp.err = errors.New("queue closed")
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "alice", []string{"https://example.com/a.png", "https://example.com/b.png"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, _ := svc.GetStatus(ctx, job.ID)
	if got.Processed != 2 || got.Status != StatusFailed {
		t.Errorf("job = processed %d status %q, want 2 failed", got.Processed, got.Status)
	}
	outcomes, _ := store.ListOutcomesByJob(ctx, job.ID)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			t.Errorf("outcome %d succeeded, want dispatch failure", o.ItemIndex)
		}
	}
}

// waitingDispatcher accepts an item only while its context is live, like a
// full pool that blocks until space frees up.
type waitingDispatcher struct {
	mu    sync.Mutex
	items []WorkItem
}

func (d *waitingDispatcher) Dispatch(ctx context.Context, item WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, item)
	return nil
}

func TestJobService_CreateJob_CallerCancelled(t *testing.T) {
	store := newMockStore()
	disp := &waitingDispatcher{}
	svc := NewJobService(store, disp, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	urls := []string{"https://example.com/a.png", "https://example.com/b.png", "https://example.com/c.png"}
	job, err := svc.CreateJob(ctx, "alice", urls)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if len(disp.items) != 3 {
		t.Errorf("dispatched %d items, want 3", len(disp.items))
	}
	outcomes, _ := store.ListOutcomesByJob(context.Background(), job.ID)
	if len(outcomes) != 0 {
		t.Errorf("recorded %d failed outcomes, want none: %+v", len(outcomes), outcomes)
	}
	got, _ := svc.GetStatus(context.Background(), job.ID)
	if got.Status != StatusPending || got.Processed != 0 {
		t.Errorf("job = processed %d status %q, want 0 pending", got.Processed, got.Status)
	}
}

func TestJobService_ReportCompletion_Transitions(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, "alice", []string{"u1", "u2", "u3"})

	steps := []struct {
		success bool
		want    JobStatus
	}{
		{false, StatusProcessing},
		{true, StatusProcessing},
		{false, StatusCompleted},
	}
	for i, step := range steps {
		got, err := svc.ReportCompletion(ctx, job.ID, step.success)
		if err != nil {
			t.Fatalf("step %d: ReportCompletion() error = %v", i, err)
		}
		if got.Processed != i+1 {
			t.Errorf("step %d: processed = %d, want %d", i, got.Processed, i+1)
		}
		if got.Status != step.want {
			t.Errorf("step %d: status = %q, want %q", i, got.Status, step.want)
		}
	}

	// Terminal state is stable
	got, err := svc.ReportCompletion(ctx, job.ID, true)
	if !errors.Is(err, ErrJobFinished) {
		t.Errorf("extra report error = %v, want %v", err, ErrJobFinished)
	}
	if got.Processed != 3 || got.Status != StatusCompleted {
		t.Errorf("after extra report job = processed %d status %q", got.Processed, got.Status)
	}
}

func TestJobService_ReportCompletion_AllFailed(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, "alice", []string{"u1", "u2"})
	svc.ReportCompletion(ctx, job.ID, false)
	got, err := svc.ReportCompletion(ctx, job.ID, false)
	if err != nil {
		t.Fatalf("ReportCompletion() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, StatusFailed)
	}
}

func TestJobService_ReportCompletion_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ReportCompletion(context.Background(), "missing", true)
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("ReportCompletion() error = %v, want %v", err, ErrJobNotFound)
	}
}

func TestJobService_ReportCompletion_RetriesOnConflict(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, "alice", []string{"u1", "u2"})
	store.conflicts = 2

	got, err := svc.ReportCompletion(ctx, job.ID, true)
	if err != nil {
		t.Fatalf("ReportCompletion() error = %v", err)
	}
	if got.Processed != 1 {
		t.Errorf("processed = %d, want 1", got.Processed)
	}
	if store.updates != 3 {
		t.Errorf("UpdateJob calls = %d, want 3", store.updates)
	}
}

func TestJobService_ReportCompletion_GivesUp(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	svc.updateAttempts = 3

	job, _ := svc.CreateJob(ctx, "alice", []string{"u1"})
	store.conflicts = 10

	_, err := svc.ReportCompletion(ctx, job.ID, true)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("ReportCompletion() error = %v, want %v", err, ErrVersionConflict)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Processed != 0 {
		t.Errorf("processed = %d, want 0", got.Processed)
	}
}

func TestJobService_ReportCompletion_Concurrent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	const n = 100
	urls := make([]string, n)
	for i := range urls {
		urls[i] = "https://example.com/img"
	}
	job, _ := svc.CreateJob(ctx, "alice", urls)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.ReportCompletion(ctx, job.ID, i%2 == 0); err != nil {
				t.Errorf("ReportCompletion() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := svc.GetStatus(ctx, job.ID)
	if got.Processed != n {
		t.Errorf("processed = %d, want %d", got.Processed, n)
	}
	if got.Succeeded != n/2 {
		t.Errorf("succeeded = %d, want %d", got.Succeeded, n/2)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
	}
}

func TestJobService_ListOutcomes(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, "alice", []string{"u1", "u2"})
	store.PutOutcome(ctx, &ImageOutcome{JobID: job.ID, ItemIndex: 0, PublicURL: "https://cdn.example.com/a.jpg"})
	store.PutOutcome(ctx, &ImageOutcome{JobID: job.ID, ItemIndex: 1, ErrorMessage: "boom"})

	outcomes, err := svc.ListOutcomes(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListOutcomes() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("ListOutcomes() len = %d, want 2", len(outcomes))
	}

	if _, err := svc.ListOutcomes(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("ListOutcomes(missing) error = %v, want %v", err, ErrJobNotFound)
	}

	urls, err := svc.ListPublicURLs(ctx, "alice")
	if err != nil {
		t.Fatalf("ListPublicURLs() error = %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://cdn.example.com/a.jpg" {
		t.Errorf("ListPublicURLs() = %v", urls)
	}
}

func TestJobService_ListJobs(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	svc.CreateJob(ctx, "alice", []string{"u1"})
	svc.CreateJob(ctx, "alice", []string{"u2"})
	svc.CreateJob(ctx, "bob", []string{"u3"})

	jobs, err := svc.ListJobs(ctx, "alice")
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("ListJobs() len = %d, want 2", len(jobs))
	}
}
