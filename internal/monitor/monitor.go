// Package monitor watches for jobs that stopped making progress and restarts
// them from their last verified checkpoint.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/pipeline"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// Config tunes the watchdog.
type Config struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	StuckThreshold time.Duration `yaml:"stuck_threshold" mapstructure:"stuck_threshold"`
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries"`
}

func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		StuckThreshold: 30 * time.Minute,
		MaxRetries:     3,
	}
}

// Restarter is the slice of the engine the monitor drives.
type Restarter interface {
	RestartFrom(ctx context.Context, jobID string, stage model.Stage) error
}

var _ Restarter = (*pipeline.Engine)(nil)

// Health is a point-in-time snapshot of job state plus watchdog tallies.
type Health struct {
	JobCounts         map[model.JobStatus]int `json:"job_counts"`
	Stuck             int                     `json:"stuck"`
	ChecksRun         int                     `json:"checks_run"`
	Restarts          int                     `json:"restarts"`
	PermanentFailures int                     `json:"permanent_failures"`
	LastCheckAt       time.Time               `json:"last_check_at"`
}

// Monitor periodically scans for processing jobs whose last progress is older
// than the stuck threshold and restarts each from the stage after its last
// checkpoint.
type Monitor struct {
	cfg    Config
	store  store.Store
	engine Restarter

	mu                sync.Mutex
	checksRun         int
	restarts          int
	permanentFailures int
	lastCheckAt       time.Time
}

func New(cfg Config, st store.Store, engine Restarter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultConfig().StuckThreshold
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Monitor{cfg: cfg, store: st, engine: engine}
}

// Run loops until the context is cancelled, checking once per interval.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	zap.L().Info("job monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("stuck_threshold", m.cfg.StuckThreshold),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Check(ctx); err != nil {
				zap.L().Error("monitor check failed", zap.Error(err))
			}
		}
	}
}

// Check runs one scan-and-recover pass.
func (m *Monitor) Check(ctx context.Context) error {
	cutoff := time.Now().Add(-m.cfg.StuckThreshold)
	stuck, err := m.store.ListStuckJobs(ctx, cutoff)
	if err != nil {
		return eris.Wrap(err, "monitor: list stuck jobs")
	}

	m.mu.Lock()
	m.checksRun++
	m.lastCheckAt = time.Now()
	m.mu.Unlock()

	for i := range stuck {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.recover(ctx, &stuck[i], cutoff); err != nil {
			zap.L().Error("stuck job recovery failed",
				zap.String("job_id", stuck[i].ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Monitor) recover(ctx context.Context, job *model.Job, cutoff time.Time) error {
	// Re-read under the same cutoff; a worker may have made progress between
	// the scan and now, in which case there is nothing to do.
	fresh, err := m.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "monitor: reload job")
	}
	if !fresh.StuckSince(cutoff) {
		return nil
	}

	count, err := m.store.IncrementJobRetry(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "monitor: increment retry")
	}
	if count > m.cfg.MaxRetries {
		m.mu.Lock()
		m.permanentFailures++
		m.mu.Unlock()
		zap.L().Error("stuck job exceeded retry budget, failing",
			zap.String("job_id", job.ID),
			zap.Int("retry_count", count),
		)
		return m.store.SetJobStatus(ctx, job.ID, model.JobStatusFailed, "stuck job exceeded retry budget")
	}

	restart := m.restartStage(ctx, job.ID)
	m.mu.Lock()
	m.restarts++
	m.mu.Unlock()
	zap.L().Warn("restarting stuck job",
		zap.String("job_id", job.ID),
		zap.String("restart_stage", string(restart)),
		zap.Int("retry_count", count),
	)
	return m.engine.RestartFrom(ctx, job.ID, restart)
}

// restartStage picks the stage to rerun: the one after the last checkpoint
// that verifies, or the first real stage when no usable checkpoint exists.
func (m *Monitor) restartStage(ctx context.Context, jobID string) model.Stage {
	cp, err := m.store.LastCheckpoint(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("checkpoint lookup failed, restarting from the top",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
		return model.StageDiscovered
	}
	// A checkpoint whose payload does not decode or whose artifacts no longer
	// resolve cannot be resumed past; its stage reruns from scratch.
	if err := store.VerifyCheckpoint(ctx, m.store, cp); err != nil {
		zap.L().Warn("checkpoint failed verification, rerunning its stage",
			zap.String("job_id", jobID),
			zap.String("stage", string(cp.Stage)),
			zap.Error(err),
		)
		return cp.Stage
	}
	next, ok := cp.Stage.Next()
	if !ok {
		return cp.Stage
	}
	return next
}

// Health returns job counts by status, the current stuck count against the
// configured threshold, and the watchdog's own tallies.
func (m *Monitor) Health(ctx context.Context) (*Health, error) {
	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitor: count jobs")
	}
	stuck, err := m.store.ListStuckJobs(ctx, time.Now().Add(-m.cfg.StuckThreshold))
	if err != nil {
		return nil, eris.Wrap(err, "monitor: list stuck jobs")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &Health{
		JobCounts:         counts,
		Stuck:             len(stuck),
		ChecksRun:         m.checksRun,
		Restarts:          m.restarts,
		PermanentFailures: m.permanentFailures,
		LastCheckAt:       m.lastCheckAt,
	}, nil
}
