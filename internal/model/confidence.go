package model

// Confidence score weights. The four factors combine into a single routing
// signal with a fixed weighted sum.
const (
	WeightModelConfidence = 0.30
	WeightCompleteness    = 0.30
	WeightConsistency     = 0.25
	WeightValidation      = 0.15
)

// ConfidenceBreakdown is the four-factor confidence a model invocation must
// always report, even for low-quality output. Each factor is in [0,1].
type ConfidenceBreakdown struct {
	ModelConfidence float64 `json:"model_confidence"`
	Completeness    float64 `json:"completeness"`
	Consistency     float64 `json:"consistency"`
	Validation      float64 `json:"validation"`
}

// Score combines the four factors into the single confidence score consumed
// by the router.
func (b ConfidenceBreakdown) Score() float64 {
	return WeightModelConfidence*b.ModelConfidence +
		WeightCompleteness*b.Completeness +
		WeightConsistency*b.Consistency +
		WeightValidation*b.Validation
}
