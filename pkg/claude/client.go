// Package claude adapts the Anthropic API to the pipeline's model-invoker
// contract, with tiered model selection, rate limiting, and a circuit
// breaker around the upstream.
package claude

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/materialshub/catalog-ingest/internal/cost"
	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/pipeline"
	"github.com/materialshub/catalog-ingest/internal/resilience"
)

const confidenceMarker = "CONFIDENCE:"

const systemPrompt = `You analyze passages from building-materials catalogs.
Answer the task exactly as instructed, then on the final line report how sure
you are, as:

CONFIDENCE: {"model_confidence": <0-1>, "completeness": <0-1>, "consistency": <0-1>, "validation": <0-1>}

model_confidence: your own certainty in the answer.
completeness: how fully the passage supported the task.
consistency: how internally consistent the passage was.
validation: how well your answer satisfies the requested format.`

// Config tunes the client.
type Config struct {
	APIKey      string
	HaikuModel  string
	SonnetModel string
	MaxTokens   int64
	// RatePerSec caps request throughput across both tiers.
	RatePerSec float64
	// Costs, when set, accumulates per-call spend.
	Costs *cost.Calculator
}

// Client invokes Anthropic models. The cheap tier serves routine requests;
// escalated requests go to the stronger tier.
type Client struct {
	sdk     sdk.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

var _ pipeline.ModelInvoker = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		sdk:     sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{}),
	}
}

// Invoke sends one task to the selected tier and parses the trailing
// confidence report. A response without a parseable report is treated as
// transient so the router retries or escalates instead of failing the job.
func (c *Client) Invoke(ctx context.Context, req pipeline.InvokeRequest) (*pipeline.InvokeResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "claude: rate limit wait")
	}

	modelID := c.cfg.HaikuModel
	if req.Escalate {
		modelID = c.cfg.SonnetModel
	}

	msg, err := resilience.Guard(ctx, c.breaker, func(ctx context.Context) (*sdk.Message, error) {
		return c.sdk.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(modelID),
			MaxTokens: c.cfg.MaxTokens,
			System:    []sdk.TextBlockParam{{Text: systemPrompt}},
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
			},
		})
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	content, breakdown, err := splitConfidence(text.String())
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "claude: model %s", modelID), 0)
	}

	var callCost float64
	if c.cfg.Costs != nil {
		callCost = c.cfg.Costs.Claude(modelID, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens))
	}
	zap.L().Debug("model invocation",
		zap.String("model", modelID),
		zap.String("task", req.Task),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Float64("cost_usd", callCost),
	)
	return &pipeline.InvokeResult{
		Content:    content,
		Model:      modelID,
		Breakdown:  breakdown,
		InputSize:  int(msg.Usage.InputTokens),
		OutputSize: int(msg.Usage.OutputTokens),
	}, nil
}

// splitConfidence separates the answer body from the trailing confidence
// report and validates every signal is in [0, 1].
func splitConfidence(text string) (string, model.ConfidenceBreakdown, error) {
	var breakdown model.ConfidenceBreakdown

	idx := strings.LastIndex(text, confidenceMarker)
	if idx == -1 {
		return "", breakdown, eris.New("response missing confidence report")
	}

	raw := strings.TrimSpace(text[idx+len(confidenceMarker):])
	var report struct {
		ModelConfidence float64 `json:"model_confidence"`
		Completeness    float64 `json:"completeness"`
		Consistency     float64 `json:"consistency"`
		Validation      float64 `json:"validation"`
	}
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return "", breakdown, eris.Wrap(err, "decode confidence report")
	}
	for _, v := range []float64{report.ModelConfidence, report.Completeness, report.Consistency, report.Validation} {
		if v < 0 || v > 1 {
			return "", breakdown, eris.Errorf("confidence signal %v out of range", v)
		}
	}

	breakdown = model.ConfidenceBreakdown{
		ModelConfidence: report.ModelConfidence,
		Completeness:    report.Completeness,
		Consistency:     report.Consistency,
		Validation:      report.Validation,
	}
	return strings.TrimSpace(text[:idx]), breakdown, nil
}

func classifyAPIError(err error) error {
	var apiErr *sdk.Error
	if eris.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(eris.Wrap(err, "claude: api"), apiErr.StatusCode)
		}
		return resilience.NewFatalError(eris.Wrap(err, "claude: api"))
	}
	return eris.Wrap(err, "claude: api")
}
