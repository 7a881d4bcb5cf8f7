package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitConfidence(t *testing.T) {
	text := `{"is_product": true, "confidence": 0.9}
CONFIDENCE: {"model_confidence": 0.9, "completeness": 0.85, "consistency": 0.8, "validation": 1.0}`

	content, breakdown, err := splitConfidence(text)
	require.NoError(t, err)
	assert.Equal(t, `{"is_product": true, "confidence": 0.9}`, content)
	assert.InDelta(t, 0.9, breakdown.ModelConfidence, 1e-9)
	assert.InDelta(t, 0.85, breakdown.Completeness, 1e-9)
	assert.InDelta(t, 0.8, breakdown.Consistency, 1e-9)
	assert.InDelta(t, 1.0, breakdown.Validation, 1e-9)
}

func TestSplitConfidence_LastMarkerWins(t *testing.T) {
	// A passage quoting the marker must not confuse the parser.
	text := `The report format is "CONFIDENCE: {...}" as required.
CONFIDENCE: {"model_confidence": 0.5, "completeness": 0.5, "consistency": 0.5, "validation": 0.5}`

	content, breakdown, err := splitConfidence(text)
	require.NoError(t, err)
	assert.Contains(t, content, "as required.")
	assert.InDelta(t, 0.5, breakdown.ModelConfidence, 1e-9)
}

func TestSplitConfidence_MissingReport(t *testing.T) {
	_, _, err := splitConfidence(`{"is_product": true}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing confidence report")
}

func TestSplitConfidence_MalformedReport(t *testing.T) {
	_, _, err := splitConfidence(`answer
CONFIDENCE: not json`)
	assert.Error(t, err)
}

func TestSplitConfidence_OutOfRangeSignal(t *testing.T) {
	_, _, err := splitConfidence(`answer
CONFIDENCE: {"model_confidence": 1.4, "completeness": 0.5, "consistency": 0.5, "validation": 0.5}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestSplitConfidence_MissingFieldsDefaultToZero(t *testing.T) {
	// A sparse report is valid but scores low, which routes to escalation.
	_, breakdown, err := splitConfidence(`answer
CONFIDENCE: {"model_confidence": 0.9}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, breakdown.ModelConfidence, 1e-9)
	assert.Zero(t, breakdown.Completeness)
	assert.Less(t, breakdown.Score(), 0.5)
}
