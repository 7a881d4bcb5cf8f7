package model

import "time"

// RouteAction is what the confidence router decided for a model result.
type RouteAction string

const (
	ActionUseAIResult        RouteAction = "use_ai_result"
	ActionUseEscalatedResult RouteAction = "use_escalated_result"
	ActionFallbackToRules    RouteAction = "fallback_to_rules"
)

// RouteLog is one append-only audit entry for a routed model decision,
// keyed by job for replay. It records observability data only and never
// gates correctness.
type RouteLog struct {
	ID               string      `json:"id"`
	JobID            string      `json:"job_id"`
	Task             string      `json:"task"`
	Model            string      `json:"model"`
	Action           RouteAction `json:"action"`
	ModelConfidence  float64     `json:"model_confidence"`
	Completeness     float64     `json:"completeness"`
	Consistency      float64     `json:"consistency"`
	Validation       float64     `json:"validation"`
	ConfidenceScore  float64     `json:"confidence_score"`
	MediumConfidence bool        `json:"medium_confidence"`
	InputBytes       int         `json:"input_bytes"`
	OutputBytes      int         `json:"output_bytes"`
	LatencyMs        int64       `json:"latency_ms"`
	FallbackReason   string      `json:"fallback_reason,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
