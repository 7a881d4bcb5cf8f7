package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// Runner runs one job to completion or failure.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

var _ Runner = (*Engine)(nil)

// WorkerPool polls the store for pending jobs and runs each through the
// engine with a bounded number of concurrent workers. Jobs submitted out of
// band (the HTTP host, the CLI, another process) are picked up on the next
// poll.
type WorkerPool struct {
	runner  Runner
	store   store.Store
	workers int
	poll    time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewWorkerPool(cfg EngineConfig, st store.Store, runner Runner) *WorkerPool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultEngineConfig().Workers
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultEngineConfig().PollInterval
	}
	return &WorkerPool{
		runner:   runner,
		store:    st,
		workers:  workers,
		poll:     poll,
		inflight: make(map[string]struct{}),
	}
}

// Run loops until the context is cancelled, dispatching pending jobs each
// poll. In-flight jobs finish on their own context checks.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	zap.L().Info("worker pool started",
		zap.Int("workers", p.workers),
		zap.Duration("poll_interval", p.poll),
	)
	for {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			_ = g.Wait()
			return err
		case <-ticker.C:
			if err := p.dispatch(gctx, g); err != nil {
				zap.L().Error("worker dispatch failed", zap.Error(err))
			}
		}
	}
}

func (p *WorkerPool) dispatch(ctx context.Context, g *errgroup.Group) error {
	jobs, err := p.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusPending,
		Limit:  p.workers * 2,
	})
	if err != nil {
		return eris.Wrap(err, "worker: list pending jobs")
	}

	for i := range jobs {
		id := jobs[i].ID
		if !p.claim(id) {
			continue
		}
		started := g.TryGo(func() error {
			defer p.release(id)
			if err := p.runner.Run(ctx, id); err != nil {
				zap.L().Error("job run failed",
					zap.String("job_id", id),
					zap.Error(err),
				)
			}
			return nil
		})
		if !started {
			// All workers busy; the job stays pending for the next poll.
			p.release(id)
			break
		}
	}
	return nil
}

func (p *WorkerPool) claim(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[jobID]; ok {
		return false
	}
	p.inflight[jobID] = struct{}{}
	return true
}

func (p *WorkerPool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, jobID)
}
