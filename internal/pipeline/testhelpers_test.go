package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// memStore is an in-memory Store used by engine and gate tests.
type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	checkpoints map[string]map[model.Stage]*model.Checkpoint
	extractions map[string]*model.Extraction
	chunks      map[string]*model.Chunk
	images      map[string]*model.Image
	products    map[string]*model.Product
	routeLogs   map[string][]model.RouteLog
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[string]*model.Job),
		checkpoints: make(map[string]map[model.Stage]*model.Checkpoint),
		extractions: make(map[string]*model.Extraction),
		chunks:      make(map[string]*model.Chunk),
		images:      make(map[string]*model.Image),
		products:    make(map[string]*model.Product),
		routeLogs:   make(map[string][]model.RouteLog),
	}
}

func (m *memStore) CreateJob(ctx context.Context, documentID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &model.Job{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		Status:         model.JobStatusPending,
		CurrentStage:   model.StageInitialized,
		CreatedAt:      time.Now(),
		LastProgressAt: time.Now(),
	}
	m.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (m *memStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *memStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.DocumentID != "" && j.DocumentID != filter.DocumentID {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	return out, nil
}

func (m *memStore) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.jobs {
		if j.StuckSince(cutoff) {
			out = append(out, *cloneJob(j))
		}
	}
	return out, nil
}

func (m *memStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *memStore) SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status == model.JobStatusCancelled {
		return nil
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	job.LastProgressAt = time.Now()
	return nil
}

func (m *memStore) MarkJobStarted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = model.JobStatusProcessing
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	job.LastProgressAt = time.Now()
	return nil
}

func (m *memStore) SetJobProgress(ctx context.Context, jobID string, stage model.Stage, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.CurrentStage = stage
	job.ProgressPercent = percent
	job.LastProgressAt = time.Now()
	return nil
}

func (m *memStore) IncrementJobRetry(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return 0, store.ErrNotFound
	}
	job.RetryCount++
	job.Status = model.JobStatusRetrying
	return job.RetryCount, nil
}

func (m *memStore) AddFailedUnits(ctx context.Context, jobID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.FailedUnits += n
	return nil
}

func (m *memStore) UpsertCheckpoint(ctx context.Context, jobID string, stage model.Stage, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints[jobID] == nil {
		m.checkpoints[jobID] = make(map[model.Stage]*model.Checkpoint)
	}
	m.checkpoints[jobID][stage] = &model.Checkpoint{
		JobID:     jobID,
		Stage:     stage,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) LastCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.Checkpoint
	for _, cp := range m.checkpoints[jobID] {
		if last == nil || last.Stage.Before(cp.Stage) {
			last = cp
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	return last, nil
}

func (m *memStore) GetCheckpoint(ctx context.Context, jobID string, stage model.Stage) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[jobID][stage]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cp, nil
}

func (m *memStore) DeleteCheckpointsFrom(ctx context.Context, jobID string, stage model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.checkpoints[jobID] {
		if !s.Before(stage) {
			delete(m.checkpoints[jobID], s)
		}
	}
	return nil
}

func (m *memStore) InsertExtractions(ctx context.Context, exs []*model.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range exs {
		if ex.ID == "" {
			ex.ID = uuid.New().String()
		}
		m.extractions[ex.ID] = ex
	}
	return nil
}

func (m *memStore) ListExtractions(ctx context.Context, ids []string) ([]model.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Extraction
	for _, id := range ids {
		if ex, ok := m.extractions[id]; ok {
			out = append(out, *ex)
		}
	}
	return out, nil
}

func (m *memStore) InsertChunk(ctx context.Context, c *model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.chunks {
		if existing.DocumentID == c.DocumentID && existing.ContentHash == c.ContentHash {
			return store.ErrDuplicateChunk
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cp := *c
	m.chunks[c.ID] = &cp
	return nil
}

func (m *memStore) ListChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) FindChunkByHash(ctx context.Context, documentID, contentHash string) (*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.DocumentID == documentID && c.ContentHash == contentHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindSimilarChunks(ctx context.Context, documentID string, embedding []float64, threshold float64) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.DocumentID != documentID || len(c.Embedding) == 0 || c.State == model.ChunkStateDiscarded {
			continue
		}
		if store.CosineSimilarity(embedding, c.Embedding) >= threshold {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	if !ok {
		return store.ErrNotFound
	}
	c.Embedding = append([]float64(nil), embedding...)
	return nil
}

func (m *memStore) SetChunkState(ctx context.Context, chunkID string, state model.ChunkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	if !ok {
		return store.ErrNotFound
	}
	c.State = state
	return nil
}

func (m *memStore) InsertImage(ctx context.Context, img *model.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *memStore) ListImages(ctx context.Context, ids []string) ([]model.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Image
	for _, id := range ids {
		if img, ok := m.images[id]; ok {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (m *memStore) SetImageEmbedding(ctx context.Context, imageID, caption string, embedding []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[imageID]
	if !ok {
		return store.ErrNotFound
	}
	img.Caption = caption
	img.Embedding = append([]float64(nil), embedding...)
	return nil
}

func (m *memStore) AppendRouteLog(ctx context.Context, entry *model.RouteLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.routeLogs[entry.JobID] = append(m.routeLogs[entry.JobID], *entry)
	return nil
}

func (m *memStore) ListRouteLogs(ctx context.Context, jobID string) ([]model.RouteLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RouteLog(nil), m.routeLogs[jobID]...), nil
}

func (m *memStore) InsertProduct(ctx context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) ListProducts(ctx context.Context, ids []string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

func (m *memStore) chunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	return &cp
}
