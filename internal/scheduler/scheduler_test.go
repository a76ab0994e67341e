package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vod-publisher/internal/domain"
	"vod-publisher/internal/history"
)

// memStore is an in-memory JobStore with the same compare-and-swap
// transition semantics as the SQL store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (m *memStore) put(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.JobID] = &cp
}

func (m *memStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) Transition(_ context.Context, jobID, from, to string, mut domain.JobMutation) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.State != from {
		return nil, fmt.Errorf("%w: job is %s, expected %s", domain.ErrConflict, job.State, from)
	}

	job.State = to
	if mut.ProviderVideoID != nil {
		job.ProviderVideoID = *mut.ProviderVideoID
	}
	if mut.LastError != nil {
		job.LastError = *mut.LastError
	}
	if mut.PublishedLate != nil {
		job.PublishedLate = *mut.PublishedLate
	}
	job.UpdatedAt = time.Now().UTC()

	cp := *job
	return &cp, nil
}

func (m *memStore) ListPending(_ context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if !job.IsTerminal() {
			out = append(out, *job)
		}
	}
	return out, nil
}

// fakeFetcher writes a small file at dest, or fails per the configured
// error sequence for a ref.
type fakeFetcher struct {
	mu    sync.Mutex
	errs  map[string][]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, ref, dest string) error {
	f.mu.Lock()
	f.calls++
	var err error
	if seq := f.errs[ref]; len(seq) > 0 {
		err = seq[0]
		f.errs[ref] = seq[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("payload"), 0o644)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu          sync.Mutex
	createErrs  []error
	flipErrs    []error
	status      *domain.VideoStatus
	statusErr   error
	flipped     []string
	nextVideoID string
}

func (p *fakePublisher) CreateRestricted(_ context.Context, _ string, _ domain.Video, filePath, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.createErrs) > 0 {
		err := p.createErrs[0]
		p.createErrs = p.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(filePath); err != nil {
		return "", fmt.Errorf("upload source missing: %w", err)
	}
	if p.nextVideoID == "" {
		p.nextVideoID = "vid-1"
	}
	return p.nextVideoID, nil
}

func (p *fakePublisher) SetVisibility(_ context.Context, _, videoID, visibility string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.flipErrs) > 0 {
		err := p.flipErrs[0]
		p.flipErrs = p.flipErrs[1:]
		if err != nil {
			return err
		}
	}
	p.flipped = append(p.flipped, videoID+":"+visibility)
	return nil
}

func (p *fakePublisher) GetStatus(_ context.Context, _, _ string) (*domain.VideoStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.statusErr
}

func (p *fakePublisher) flips() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.flipped...)
}

func testScheduler(t *testing.T, store *memStore, fetcher *fakeFetcher, pub *fakePublisher) (*Scheduler, *history.MemoryCache) {
	t.Helper()

	hist := history.NewMemoryCache()
	s := New(&Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Fetcher:    fetcher,
		Publisher:  pub,
		History:    hist,
		ScratchDir: t.TempDir(),
		JobTimeout: 5 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
	return s, hist
}

func testJob(state string, scheduledAt time.Time) *domain.Job {
	return &domain.Job{
		JobID:     "job-" + state,
		ChannelID: "chan-1",
		Video: domain.Video{
			Title:     "launch video",
			SourceRef: "https://drive.google.com/file/d/abc123/view",
		},
		State:       state,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now().UTC(),
	}
}

func waitForState(t *testing.T, store *memStore, jobID, want string) *domain.Job {
	t.Helper()

	var got *domain.Job
	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.State == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

func TestPipelinePublishesOnSchedule(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{}
	pub := &fakePublisher{nextVideoID: "vid-42"}

	job := testJob(domain.StatePending, time.Now().Add(50*time.Millisecond))
	store.put(job)

	s, hist := testScheduler(t, store, fetcher, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx) //nolint:errcheck
	defer s.Stop()

	got := waitForState(t, store, job.JobID, domain.StatePublished)

	assert.Equal(t, "vid-42", got.ProviderVideoID)
	assert.False(t, got.PublishedLate)
	assert.Equal(t, []string{"vid-42:" + domain.VisibilityPublic}, pub.flips())

	entries, err := hist.ListSuccess(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vid-42", entries[0].VideoID)
	assert.Equal(t, "launch video", entries[0].Title)
}

func TestPipelineFailsOnFatalFetchError(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{errs: map[string][]error{
		"https://drive.google.com/file/d/abc123/view": {domain.ErrNotFound},
	}}
	pub := &fakePublisher{}

	job := testJob(domain.StatePending, time.Now().Add(time.Hour))
	store.put(job)

	s, hist := testScheduler(t, store, fetcher, pub)

	require.NoError(t, s.runPipeline(context.Background(), job.JobID))

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, "NOT_FOUND", got.LastError)

	// Fatal classes are not retried.
	assert.Equal(t, 1, fetcher.callCount())
	assert.Empty(t, pub.flips())

	entries, err := hist.ListFailure(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NOT_FOUND", entries[0].Reason)
}

func TestPipelineRetriesTransientFetchError(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{errs: map[string][]error{
		"https://drive.google.com/file/d/abc123/view": {
			domain.ErrTransientNetwork,
			domain.ErrRateLimited,
		},
	}}
	pub := &fakePublisher{}

	job := testJob(domain.StatePending, time.Now().Add(time.Hour))
	store.put(job)

	s, _ := testScheduler(t, store, fetcher, pub)

	require.NoError(t, s.runPipeline(context.Background(), job.JobID))

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, got.State)
	assert.Equal(t, 3, fetcher.callCount())

	s.disarmAllTimers()
}

func TestPipelineExhaustsRetries(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{errs: map[string][]error{
		"https://drive.google.com/file/d/abc123/view": {
			domain.ErrTransientNetwork,
			domain.ErrTransientNetwork,
			domain.ErrTransientNetwork,
		},
	}}

	job := testJob(domain.StatePending, time.Now().Add(time.Hour))
	store.put(job)

	s, _ := testScheduler(t, store, fetcher, &fakePublisher{})

	require.NoError(t, s.runPipeline(context.Background(), job.JobID))

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, "TRANSIENT_NETWORK", got.LastError)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestPipelineSkipsNonPendingJob(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{}

	job := testJob(domain.StateFailed, time.Now().Add(time.Hour))
	store.put(job)

	s, _ := testScheduler(t, store, fetcher, &fakePublisher{})

	require.NoError(t, s.runPipeline(context.Background(), job.JobID))
	assert.Equal(t, 0, fetcher.callCount())
}

func TestPublishDropsCancelledJob(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}

	job := testJob(domain.StateScheduled, time.Now().Add(-time.Second))
	job.ProviderVideoID = "vid-9"
	store.put(job)

	// Cancel lands between arming and firing.
	reason := "cancelled"
	_, err := store.Transition(context.Background(), job.JobID, domain.StateScheduled, domain.StateFailed, domain.JobMutation{LastError: &reason})
	require.NoError(t, err)

	s, _ := testScheduler(t, store, &fakeFetcher{}, pub)

	require.NoError(t, s.publishJob(context.Background(), job.JobID, false))
	assert.Empty(t, pub.flips())

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
}

func TestPublishIsIdempotentOnTerminalJob(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}

	job := testJob(domain.StatePublished, time.Now().Add(-time.Minute))
	job.ProviderVideoID = "vid-9"
	store.put(job)

	s, _ := testScheduler(t, store, &fakeFetcher{}, pub)

	require.NoError(t, s.publishJob(context.Background(), job.JobID, false))
	require.NoError(t, s.publishJob(context.Background(), job.JobID, false))
	assert.Empty(t, pub.flips())
}

func TestPublishFailureRecordsClassification(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{flipErrs: []error{domain.ErrUnauthorized}}

	job := testJob(domain.StateScheduled, time.Now().Add(-time.Second))
	job.ProviderVideoID = "vid-9"
	store.put(job)

	s, hist := testScheduler(t, store, &fakeFetcher{}, pub)

	require.NoError(t, s.publishJob(context.Background(), job.JobID, true))

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, "UNAUTHORIZED", got.LastError)

	entries, err := hist.ListFailure(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "UNAUTHORIZED", entries[0].Reason)
}

func TestReconcileRestartsInterruptedTransfer(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{}
	pub := &fakePublisher{nextVideoID: "vid-7"}

	job := testJob(domain.StateDownloading, time.Now().Add(-time.Second))
	store.put(job)

	s, _ := testScheduler(t, store, fetcher, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx) //nolint:errcheck
	defer s.Stop()

	got := waitForState(t, store, job.JobID, domain.StatePublished)
	assert.True(t, got.PublishedLate)
	assert.Equal(t, "vid-7", got.ProviderVideoID)
}

func TestReconcileSettlesCompletedPublish(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{status: &domain.VideoStatus{
		VideoID:    "vid-5",
		Visibility: domain.VisibilityPublic,
	}}

	job := testJob(domain.StatePublishing, time.Now().Add(-time.Minute))
	job.ProviderVideoID = "vid-5"
	store.put(job)

	s, hist := testScheduler(t, store, &fakeFetcher{}, pub)

	require.NoError(t, s.Reconcile(context.Background()))

	got, err := store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePublished, got.State)

	// The flip already landed before the restart; it is not repeated.
	assert.Empty(t, pub.flips())

	entries, err := hist.ListSuccess(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestReconcileRetriesUnfinishedPublish(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{status: &domain.VideoStatus{
		VideoID:    "vid-5",
		Visibility: domain.VisibilityPrivate,
	}}

	job := testJob(domain.StatePublishing, time.Now().Add(-time.Minute))
	job.ProviderVideoID = "vid-5"
	store.put(job)

	s, _ := testScheduler(t, store, &fakeFetcher{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx) //nolint:errcheck
	defer s.Stop()

	got := waitForState(t, store, job.JobID, domain.StatePublished)
	assert.True(t, got.PublishedLate)
	assert.Equal(t, []string{"vid-5:" + domain.VisibilityPublic}, pub.flips())
}

func TestReconcileRearmsScheduledJob(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}

	job := testJob(domain.StateScheduled, time.Now().Add(40*time.Millisecond))
	job.ProviderVideoID = "vid-3"
	store.put(job)

	s, _ := testScheduler(t, store, &fakeFetcher{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx) //nolint:errcheck
	defer s.Stop()

	got := waitForState(t, store, job.JobID, domain.StatePublished)
	assert.False(t, got.PublishedLate)
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	s, _ := testScheduler(t, newMemStore(), &fakeFetcher{}, &fakePublisher{})
	s.retry = RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.withRetry(ctx, "job-x", "download", func(context.Context) error {
			return domain.ErrTransientNetwork
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, domain.ErrTransientNetwork))
	case <-time.After(2 * time.Second):
		t.Fatal("withRetry did not return after context cancel")
	}
}
