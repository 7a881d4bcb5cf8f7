package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// fakeStore covers just the store surface the watchdog touches; anything else
// panics through the embedded nil interface.
type fakeStore struct {
	store.Store

	mu      sync.Mutex
	jobs    map[string]*model.Job
	chunks  map[string]model.Chunk
	last    *model.Checkpoint
	lastErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   make(map[string]*model.Job),
		chunks: make(map[string]model.Chunk),
	}
}

func (f *fakeStore) addJob(job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

func (f *fakeStore) job(id string) model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

func (f *fakeStore) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Job
	for _, j := range f.jobs {
		if j.StuckSince(cutoff) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) IncrementJobRetry(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.RetryCount++
	j.Status = model.JobStatusRetrying
	return j.RetryCount, nil
}

func (f *fakeStore) SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.Status = status
	j.ErrorMessage = errorMessage
	return nil
}

func (f *fakeStore) LastCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr != nil {
		return nil, f.lastErr
	}
	if f.last == nil {
		return nil, store.ErrNotFound
	}
	return f.last, nil
}

func (f *fakeStore) ListChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, j := range f.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

type restartCall struct {
	jobID string
	stage model.Stage
}

type fakeRestarter struct {
	mu    sync.Mutex
	calls []restartCall
}

func (f *fakeRestarter) RestartFrom(ctx context.Context, jobID string, stage model.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, restartCall{jobID: jobID, stage: stage})
	return nil
}

func (f *fakeRestarter) restarts() []restartCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]restartCall(nil), f.calls...)
}

func stuckJob(id string) *model.Job {
	return &model.Job{
		ID:             id,
		DocumentID:     "doc-" + id,
		Status:         model.JobStatusProcessing,
		CurrentStage:   model.StageChunked,
		LastProgressAt: time.Now().Add(-time.Hour),
	}
}

func checkpointAt(t *testing.T, jobID string, stage model.Stage) *model.Checkpoint {
	t.Helper()
	payload, err := model.EncodePayload(&model.StagePayload{TotalPages: 3})
	require.NoError(t, err)
	return &model.Checkpoint{JobID: jobID, Stage: stage, Payload: payload}
}

func TestCheck_RestartsStuckJobAfterLastCheckpoint(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	st.last = checkpointAt(t, "job-1", model.StageChunked)
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	calls := engine.restarts()
	require.Len(t, calls, 1)
	assert.Equal(t, "job-1", calls[0].jobID)
	assert.Equal(t, model.StageTextEmbedded, calls[0].stage)
	assert.Equal(t, 1, st.job("job-1").RetryCount)
}

func TestCheck_NoCheckpointRestartsFromDiscovery(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	calls := engine.restarts()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StageDiscovered, calls[0].stage)
}

func TestCheck_CorruptCheckpointRerunsItsStage(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	st.last = &model.Checkpoint{JobID: "job-1", Stage: model.StageExtracted, Payload: []byte("{broken")}
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	calls := engine.restarts()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StageExtracted, calls[0].stage)
}

func TestCheck_UnresolvedArtifactsRerunCheckpointStage(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	// The checkpoint references a chunk that no longer exists in the store;
	// resuming past it would skip the lost work.
	payload, err := model.EncodePayload(&model.StagePayload{TotalPages: 3, ChunkIDs: []string{"ghost-chunk"}})
	require.NoError(t, err)
	st.last = &model.Checkpoint{JobID: "job-1", Stage: model.StageChunked, Payload: payload}
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	calls := engine.restarts()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StageChunked, calls[0].stage)

	// With the chunk present the same checkpoint resumes at the next stage.
	st.chunks["ghost-chunk"] = model.Chunk{ID: "ghost-chunk", JobID: "job-1"}
	assert.Equal(t, model.StageTextEmbedded, m.restartStage(context.Background(), "job-1"))
}

func TestCheck_RetryBudgetExceededFailsPermanently(t *testing.T) {
	st := newFakeStore()
	job := stuckJob("job-1")
	job.RetryCount = 3
	st.addJob(job)
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	assert.Empty(t, engine.restarts())
	got := st.job("job-1")
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	health, err := m.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, health.PermanentFailures)
	assert.Zero(t, health.Restarts)
}

func TestCheck_ProgressBetweenScanAndRecoverySkips(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	engine := &fakeRestarter{}
	m := New(DefaultConfig(), st, engine)

	// The worker catches up between the stuck scan and the re-read.
	cutoff := time.Now().Add(-m.cfg.StuckThreshold)
	stale := st.job("job-1")
	st.jobs["job-1"].LastProgressAt = time.Now()

	require.NoError(t, m.recover(context.Background(), &stale, cutoff))
	assert.Empty(t, engine.restarts())
	assert.Zero(t, st.job("job-1").RetryCount)
}

func TestCheck_IgnoresHealthyAndTerminalJobs(t *testing.T) {
	st := newFakeStore()
	healthy := stuckJob("job-1")
	healthy.LastProgressAt = time.Now()
	st.addJob(healthy)
	failed := stuckJob("job-2")
	failed.Status = model.JobStatusFailed
	st.addJob(failed)
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))
	assert.Empty(t, engine.restarts())
}

func TestHealth_ReportsCountsAndTallies(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	done := stuckJob("job-2")
	done.Status = model.JobStatusCompleted
	st.addJob(done)
	st.last = checkpointAt(t, "job-1", model.StageChunked)
	engine := &fakeRestarter{}

	m := New(DefaultConfig(), st, engine)
	require.NoError(t, m.Check(context.Background()))

	health, err := m.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, health.ChecksRun)
	assert.Equal(t, 1, health.Restarts)
	assert.Equal(t, 1, health.JobCounts[model.JobStatusCompleted])
	assert.False(t, health.LastCheckAt.IsZero())
}

func TestHealth_CountsStuckJobs(t *testing.T) {
	st := newFakeStore()
	st.addJob(stuckJob("job-1"))
	healthy := stuckJob("job-2")
	healthy.LastProgressAt = time.Now()
	st.addJob(healthy)

	m := New(DefaultConfig(), st, &fakeRestarter{})
	health, err := m.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, health.Stuck)
	assert.Equal(t, 2, health.JobCounts[model.JobStatusProcessing])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	m := New(Config{Interval: time.Millisecond}, newFakeStore(), &fakeRestarter{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRestartStage_CheckpointLookupErrorFallsBack(t *testing.T) {
	st := newFakeStore()
	st.lastErr = eris.New("connection refused")

	m := New(DefaultConfig(), st, &fakeRestarter{})
	assert.Equal(t, model.StageDiscovered, m.restartStage(context.Background(), "job-1"))
}
