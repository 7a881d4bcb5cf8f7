package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/model"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicateChunk is returned when an insert violates the unique
// (document_id, content_hash) constraint. The constraint is the
// authoritative backstop behind the duplicate gate's pre-check; two
// near-simultaneous identical chunks cannot both land.
var ErrDuplicateChunk = eris.New("store: duplicate chunk")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store is the durable persistence contract for the ingest pipeline. The job
// and checkpoint tables are the only shared mutable state; all writes are
// single-row upserts keyed by id or (job_id, stage).
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, documentID string) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error
	MarkJobStarted(ctx context.Context, jobID string) error
	SetJobProgress(ctx context.Context, jobID string, stage model.Stage, percent int) error
	IncrementJobRetry(ctx context.Context, jobID string) (int, error)
	AddFailedUnits(ctx context.Context, jobID string, n int) error

	// Checkpoints
	UpsertCheckpoint(ctx context.Context, jobID string, stage model.Stage, payload json.RawMessage) error
	LastCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)
	GetCheckpoint(ctx context.Context, jobID string, stage model.Stage) (*model.Checkpoint, error)
	DeleteCheckpointsFrom(ctx context.Context, jobID string, stage model.Stage) error

	// Extractions
	InsertExtractions(ctx context.Context, exs []*model.Extraction) error
	ListExtractions(ctx context.Context, ids []string) ([]model.Extraction, error)

	// Chunks
	InsertChunk(ctx context.Context, c *model.Chunk) error
	ListChunks(ctx context.Context, ids []string) ([]model.Chunk, error)
	FindChunkByHash(ctx context.Context, documentID, contentHash string) (*model.Chunk, error)
	FindSimilarChunks(ctx context.Context, documentID string, embedding []float64, threshold float64) ([]model.Chunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float64) error
	SetChunkState(ctx context.Context, chunkID string, state model.ChunkState) error

	// Images
	InsertImage(ctx context.Context, img *model.Image) error
	ListImages(ctx context.Context, ids []string) ([]model.Image, error)
	SetImageEmbedding(ctx context.Context, imageID, caption string, embedding []float64) error

	// Route audit log
	AppendRouteLog(ctx context.Context, entry *model.RouteLog) error
	ListRouteLogs(ctx context.Context, jobID string) ([]model.RouteLog, error)

	// Products
	InsertProduct(ctx context.Context, p *model.Product) error
	ListProducts(ctx context.Context, ids []string) ([]model.Product, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
