package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// InvokeRequest is a single task handed to a language model.
type InvokeRequest struct {
	Task   string
	Prompt string
	// Source is the raw content the prompt was built from; the rule fallback
	// operates on this rather than the model-facing prompt.
	Source string
	// Escalate selects the stronger model tier.
	Escalate bool
}

// InvokeResult carries the model output plus the self-reported confidence
// signals, already validated at the client boundary.
type InvokeResult struct {
	Content    string
	Model      string
	Breakdown  model.ConfidenceBreakdown
	InputSize  int
	OutputSize int
}

// ModelInvoker is the language-model collaborator.
type ModelInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}

// RuleFallback produces a deterministic result when both model tiers come
// back below the escalation floor.
type RuleFallback func(req InvokeRequest) (string, error)

// RouterConfig holds routing thresholds.
type RouterConfig struct {
	AcceptThreshold   float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	EscalateThreshold float64 `yaml:"escalate_threshold" mapstructure:"escalate_threshold"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AcceptThreshold:   0.90,
		EscalateThreshold: 0.70,
	}
}

// RouteResult is the routed outcome for one task.
type RouteResult struct {
	Content          string
	Action           model.RouteAction
	Score            float64
	MediumConfidence bool
}

// ConfidenceRouter runs a task on the cheap model first and escalates or
// falls back to rules based on the composite confidence score. Every decision
// is appended to the per-job route log.
type ConfidenceRouter struct {
	cfg      RouterConfig
	invoker  ModelInvoker
	fallback RuleFallback
	store    store.Store
}

func NewConfidenceRouter(cfg RouterConfig, invoker ModelInvoker, fallback RuleFallback, st store.Store) *ConfidenceRouter {
	return &ConfidenceRouter{cfg: cfg, invoker: invoker, fallback: fallback, store: st}
}

// Route executes req for jobID. An invocation error on the primary tier is
// treated as zero confidence, so the task escalates rather than failing.
func (r *ConfidenceRouter) Route(ctx context.Context, jobID string, req InvokeRequest) (*RouteResult, error) {
	primary, primaryErr := r.invoke(ctx, jobID, req, false)
	if primaryErr == nil {
		score := primary.Breakdown.Score()
		switch {
		case score >= r.cfg.AcceptThreshold:
			return &RouteResult{Content: primary.Content, Action: model.ActionUseAIResult, Score: score}, nil
		case score >= r.cfg.EscalateThreshold:
			return &RouteResult{
				Content:          primary.Content,
				Action:           model.ActionUseAIResult,
				Score:            score,
				MediumConfidence: true,
			}, nil
		}
	} else {
		zap.L().Warn("primary model invocation failed, escalating",
			zap.String("job_id", jobID),
			zap.String("task", req.Task),
			zap.Error(primaryErr),
		)
	}

	escalated, escErr := r.invoke(ctx, jobID, req, true)
	if escErr == nil {
		if score := escalated.Breakdown.Score(); score >= r.cfg.EscalateThreshold {
			return &RouteResult{Content: escalated.Content, Action: model.ActionUseEscalatedResult, Score: score}, nil
		}
	} else {
		zap.L().Warn("escalated model invocation failed, using rule fallback",
			zap.String("job_id", jobID),
			zap.String("task", req.Task),
			zap.Error(escErr),
		)
	}

	return r.fallbackRoute(ctx, jobID, req, escErr)
}

func (r *ConfidenceRouter) invoke(ctx context.Context, jobID string, req InvokeRequest, escalate bool) (*InvokeResult, error) {
	req.Escalate = escalate
	start := time.Now()
	res, err := r.invoker.Invoke(ctx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	action := model.ActionUseAIResult
	if escalate {
		action = model.ActionUseEscalatedResult
	}
	score := res.Breakdown.Score()
	entry := &model.RouteLog{
		JobID:            jobID,
		Task:             req.Task,
		Model:            res.Model,
		Action:           action,
		ModelConfidence:  res.Breakdown.ModelConfidence,
		Completeness:     res.Breakdown.Completeness,
		Consistency:      res.Breakdown.Consistency,
		Validation:       res.Breakdown.Validation,
		ConfidenceScore:  score,
		MediumConfidence: !escalate && score >= r.cfg.EscalateThreshold && score < r.cfg.AcceptThreshold,
		InputBytes:       res.InputSize,
		OutputBytes:      res.OutputSize,
		LatencyMs:        latency.Milliseconds(),
	}
	if err := r.store.AppendRouteLog(ctx, entry); err != nil {
		return nil, eris.Wrap(err, "router: append route log")
	}
	return res, nil
}

func (r *ConfidenceRouter) fallbackRoute(ctx context.Context, jobID string, req InvokeRequest, cause error) (*RouteResult, error) {
	content, err := r.fallback(req)
	if err != nil {
		return nil, eris.Wrapf(err, "router: rule fallback for task %s", req.Task)
	}

	reason := "confidence below escalation floor"
	if cause != nil {
		reason = eris.ToString(cause, false)
	}
	entry := &model.RouteLog{
		JobID:          jobID,
		Task:           req.Task,
		Model:          "rules",
		Action:         model.ActionFallbackToRules,
		FallbackReason: reason,
	}
	if err := r.store.AppendRouteLog(ctx, entry); err != nil {
		return nil, eris.Wrap(err, "router: append route log")
	}
	return &RouteResult{Content: content, Action: model.ActionFallbackToRules}, nil
}
