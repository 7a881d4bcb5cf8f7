package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/resilience"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// errCancelled signals a store-level cancellation observed mid-run.
var errCancelled = eris.New("engine: job cancelled")

// Discovery is the document survey produced before extraction starts.
type Discovery struct {
	TotalPages   int
	ProductPages []int
}

// ImageRef identifies one image lifted from a document page.
type ImageRef struct {
	URL     string
	Page    int
	Caption string
}

// Extractor is the document-service collaborator.
type Extractor interface {
	Discover(ctx context.Context, documentID string) (*Discovery, error)
	ExtractPage(ctx context.Context, documentID string, page int) (string, error)
	ExtractImages(ctx context.Context, documentID string, page int) ([]ImageRef, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

// EngineConfig tunes stage execution.
type EngineConfig struct {
	// UnitConcurrency bounds parallel per-unit work inside a stage.
	UnitConcurrency int `yaml:"unit_concurrency" mapstructure:"unit_concurrency"`
	// MaxJobRetries caps whole-stage retry rounds before the job fails.
	MaxJobRetries int `yaml:"max_job_retries" mapstructure:"max_job_retries"`
	// FocusedMode restricts extraction to discovered product pages.
	FocusedMode bool `yaml:"focused_mode" mapstructure:"focused_mode"`
	// Workers bounds how many jobs the worker pool runs concurrently.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// PollInterval is how often the worker pool scans for pending jobs.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UnitConcurrency: 4,
		MaxJobRetries:   3,
		FocusedMode:     true,
		Workers:         2,
		PollInterval:    2 * time.Second,
	}
}

// Engine drives a job through the stage sequence, checkpointing after each
// stage so a restart resumes instead of redoing work.
type Engine struct {
	cfg       EngineConfig
	store     store.Store
	gate      *DuplicateGate
	router    *ConfidenceRouter
	extractor Extractor
	embedder  Embedder
	retry     resilience.RetryPolicy
}

func NewEngine(cfg EngineConfig, st store.Store, gate *DuplicateGate, router *ConfidenceRouter, extractor Extractor, embedder Embedder) *Engine {
	retry := resilience.DefaultRetryPolicy()
	return &Engine{
		cfg:       cfg,
		store:     st,
		gate:      gate,
		router:    router,
		extractor: extractor,
		embedder:  embedder,
		retry:     retry,
	}
}

// Submit registers a new ingestion job for a document.
func (e *Engine) Submit(ctx context.Context, documentID string) (*model.Job, error) {
	job, err := e.store.CreateJob(ctx, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: submit")
	}
	zap.L().Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
	)
	return job, nil
}

// Run executes the job until completion, failure, or context cancellation.
// A job with existing checkpoints resumes after its last completed stage.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", jobID)
	}
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusCancelled {
		zap.L().Info("job already finished, nothing to run",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	state, resumeAfter, err := e.loadState(ctx, jobID)
	if err != nil {
		return err
	}
	if err := e.store.MarkJobStarted(ctx, jobID); err != nil {
		return eris.Wrap(err, "engine: mark started")
	}

	for _, stage := range model.Stages() {
		if stage == model.StageInitialized {
			continue
		}
		if resumeAfter != nil && !resumeAfter.Before(stage) {
			zap.L().Debug("stage already checkpointed, skipping",
				zap.String("job_id", jobID),
				zap.String("stage", string(stage)),
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "engine: cancelled")
		}
		// A cancellation written through the store (the cancel CLI or API,
		// possibly from another process) stops the run at the next stage
		// boundary. Cancelled is terminal; nothing further is checkpointed.
		fresh, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			return eris.Wrapf(err, "engine: reload job %s", jobID)
		}
		if fresh.Status == model.JobStatusCancelled {
			zap.L().Info("job cancelled, stopping",
				zap.String("job_id", jobID),
				zap.String("stage", string(stage)),
			)
			return nil
		}
		if err := e.runStage(ctx, job, stage, state); err != nil {
			if errors.Is(err, errCancelled) {
				zap.L().Info("job cancelled, stage results discarded",
					zap.String("job_id", jobID),
					zap.String("stage", string(stage)),
				)
				return nil
			}
			return err
		}
	}

	if err := e.store.SetJobStatus(ctx, jobID, model.JobStatusCompleted, ""); err != nil {
		return eris.Wrap(err, "engine: mark completed")
	}
	zap.L().Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("failed_units", state.FailedUnits),
	)
	return nil
}

// RestartFrom discards checkpoints at and after stage and reruns the job.
// The monitor uses this to recover a stuck job from its last verified
// checkpoint.
func (e *Engine) RestartFrom(ctx context.Context, jobID string, stage model.Stage) error {
	if !stage.Valid() {
		return eris.Errorf("engine: invalid stage %q", stage)
	}
	if err := e.store.DeleteCheckpointsFrom(ctx, jobID, stage); err != nil {
		return eris.Wrap(err, "engine: clear checkpoints")
	}
	if err := e.store.SetJobProgress(ctx, jobID, stage, stage.ProgressPercent()); err != nil {
		return eris.Wrap(err, "engine: rewind progress")
	}
	zap.L().Info("job restarting from stage",
		zap.String("job_id", jobID),
		zap.String("stage", string(stage)),
	)
	return e.Run(ctx, jobID)
}

// Cancel marks a job cancelled. A running stage finishes its current unit
// batch; the engine checks for cancellation between stages.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", jobID)
	}
	if job.Status.Terminal() {
		return eris.Errorf("engine: job %s already %s", jobID, job.Status)
	}
	return e.store.SetJobStatus(ctx, jobID, model.JobStatusCancelled, "")
}

// JobStatus is the public view of a job's progress.
type JobStatus struct {
	Job         *model.Job       `json:"job"`
	Checkpoints []model.Stage    `json:"checkpoints"`
	RouteLogs   []model.RouteLog `json:"route_logs,omitempty"`
}

// Status reports the job row plus its checkpointed stages and route audit.
func (e *Engine) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: load job %s", jobID)
	}
	st := &JobStatus{Job: job}
	for _, stage := range model.Stages() {
		if _, err := e.store.GetCheckpoint(ctx, jobID, stage); err == nil {
			st.Checkpoints = append(st.Checkpoints, stage)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "engine: load checkpoints")
		}
	}
	if st.RouteLogs, err = e.store.ListRouteLogs(ctx, jobID); err != nil {
		return nil, eris.Wrap(err, "engine: load route logs")
	}
	return st, nil
}

func (e *Engine) loadState(ctx context.Context, jobID string) (*model.StagePayload, *model.Stage, error) {
	cp, err := e.store.LastCheckpoint(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.StagePayload{}, nil, nil
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "engine: load checkpoint")
	}

	// A checkpoint that no longer decodes, or whose artifact IDs no longer
	// resolve, means the stage's durable writes cannot be trusted; rerun it
	// from scratch and fall back to the checkpoint before it.
	if err := store.VerifyCheckpoint(ctx, e.store, cp); err != nil {
		if !errors.Is(err, store.ErrCheckpointInconsistent) {
			return nil, nil, eris.Wrap(err, "engine: verify checkpoint")
		}
		zap.L().Warn("checkpoint failed verification, rerunning stage",
			zap.String("job_id", jobID),
			zap.String("stage", string(cp.Stage)),
			zap.Error(err),
		)
		if err := e.store.DeleteCheckpointsFrom(ctx, jobID, cp.Stage); err != nil {
			return nil, nil, eris.Wrap(err, "engine: clear bad checkpoint")
		}
		return e.loadState(ctx, jobID)
	}

	state, err := cp.DecodePayload()
	if err != nil {
		return nil, nil, eris.Wrap(err, "engine: decode checkpoint")
	}
	return state, &cp.Stage, nil
}

func (e *Engine) runStage(ctx context.Context, job *model.Job, stage model.Stage, state *model.StagePayload) error {
	logger := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
	)
	logger.Info("stage starting")

	run := func(ctx context.Context) error {
		return e.execStage(ctx, job, stage, state)
	}
	policy := e.retry
	policy.OnRetry = resilience.RetryLogger("engine", string(stage))

	if err := resilience.Do(ctx, policy, run); err != nil {
		return e.handleStageFailure(ctx, job, stage, err)
	}

	// A cancel that landed while the stage ran means its results are
	// discarded, never checkpointed.
	fresh, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "engine: reload job %s", job.ID)
	}
	if fresh.Status == model.JobStatusCancelled {
		return errCancelled
	}

	// Durable artifacts are committed by the stage itself; the checkpoint is
	// written only after they land, so a crash between the two reruns the
	// stage rather than skipping it.
	payload, err := model.EncodePayload(state)
	if err != nil {
		return eris.Wrap(err, "engine: encode checkpoint")
	}
	if err := e.store.UpsertCheckpoint(ctx, job.ID, stage, payload); err != nil {
		return eris.Wrap(err, "engine: write checkpoint")
	}
	if err := e.store.SetJobProgress(ctx, job.ID, stage, stage.ProgressPercent()); err != nil {
		return eris.Wrap(err, "engine: record progress")
	}
	logger.Info("stage complete", zap.Int("progress_percent", stage.ProgressPercent()))
	return nil
}

func (e *Engine) handleStageFailure(ctx context.Context, job *model.Job, stage model.Stage, cause error) error {
	logger := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
	)

	if resilience.IsFatal(cause) || ctx.Err() != nil {
		logger.Error("stage failed permanently", zap.Error(cause))
		if err := e.store.SetJobStatus(ctx, job.ID, model.JobStatusFailed, eris.ToString(cause, false)); err != nil {
			logger.Error("failed to record job failure", zap.Error(err))
		}
		return eris.Wrapf(cause, "engine: stage %s", stage)
	}

	count, err := e.store.IncrementJobRetry(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "engine: increment retry")
	}
	if count >= e.cfg.MaxJobRetries {
		logger.Error("retry budget exhausted, failing job",
			zap.Int("retry_count", count),
			zap.Error(cause),
		)
		if err := e.store.SetJobStatus(ctx, job.ID, model.JobStatusFailed, eris.ToString(cause, false)); err != nil {
			logger.Error("failed to record job failure", zap.Error(err))
		}
		return eris.Wrapf(cause, "engine: stage %s retries exhausted", stage)
	}

	logger.Warn("stage failed, job left for retry",
		zap.Int("retry_count", count),
		zap.Error(cause),
	)
	return eris.Wrapf(cause, "engine: stage %s", stage)
}
