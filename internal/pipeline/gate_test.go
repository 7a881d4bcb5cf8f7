package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/catalog-ingest/internal/chunk"
	"github.com/materialshub/catalog-ingest/internal/model"
)

// goodContent is three complete sentences inside the scorer's target range.
func goodContent() string {
	s := "The panel is finished with a matte lacquer that resists scratching in daily use and holds its color under direct sunlight without visible fading over time."
	return strings.TrimSpace(strings.Repeat(s+" ", 4))
}

// borderlineContent scores in the band between the floor and strict floor:
// two sentences, terminal ending, well under the target length.
const borderlineContent = "Oak veneer panels suit most office interiors. They pair well with brass fittings."

// lowQualityContent has one sentence but a mid-word cut and short length.
const borderlineCut = "Oak veneer panels suit most office interiors. They pair well with the brass and"

func TestGate_AcceptsGoodContent(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	res, err := gate.Admit(context.Background(), "doc-1", goodContent())
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, res.Decision)
	assert.GreaterOrEqual(t, res.QualityScore, 0.7)
	assert.NotEmpty(t, res.ContentHash)
}

func TestGate_RejectsExactDuplicate(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)
	content := goodContent()

	err := st.InsertChunk(context.Background(), &model.Chunk{
		DocumentID:  "doc-1",
		Content:     content,
		ContentHash: chunk.Hash(content),
		State:       model.ChunkStateAccepted,
	})
	require.NoError(t, err)

	// A formatting variant of the stored chunk hashes identically.
	variant := "  " + strings.ToUpper(content[:1]) + content[1:] + "\n"
	res, err := gate.Admit(context.Background(), "doc-1", variant)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectDup, res.Decision)
	assert.NotEmpty(t, res.MatchedChunkID)
}

func TestGate_DuplicateInOtherDocumentAdmitted(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)
	content := goodContent()

	require.NoError(t, st.InsertChunk(context.Background(), &model.Chunk{
		DocumentID:  "doc-1",
		ContentHash: chunk.Hash(content),
	}))

	res, err := gate.Admit(context.Background(), "doc-2", content)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, res.Decision)
}

func TestGate_RejectsByLength(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	res, err := gate.Admit(context.Background(), "doc-1", "Too short.")
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectLength, res.Decision)

	oversized := strings.Repeat("Padding sentence for the length cap. ", 200)
	res, err = gate.Admit(context.Background(), "doc-1", oversized)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectLength, res.Decision)
}

func TestGate_RejectsNoCompleteSentence(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	res, err := gate.Admit(context.Background(), "doc-1",
		"a fragment of catalog text with no terminal punctuation at all just trailing words")
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectQuality, res.Decision)
}

func TestGate_RejectsLowQuality(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	res, err := gate.Admit(context.Background(), "doc-1", borderlineCut)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectQuality, res.Decision)
	assert.Less(t, res.QualityScore, 0.6)
}

func TestGate_BorderlinePolicyReview(t *testing.T) {
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	score := chunk.Score(borderlineContent)
	require.GreaterOrEqual(t, score, 0.6, "fixture must land in the borderline band")
	require.Less(t, score, 0.7, "fixture must land in the borderline band")

	res, err := gate.Admit(context.Background(), "doc-1", borderlineContent)
	require.NoError(t, err)
	assert.Equal(t, DecisionFlagForReview, res.Decision)
}

func TestGate_BorderlinePolicyReject(t *testing.T) {
	st := newMemStore()
	cfg := DefaultGateConfig()
	cfg.BorderlinePolicy = BorderlineReject
	gate := NewDuplicateGate(cfg, st)

	res, err := gate.Admit(context.Background(), "doc-1", borderlineContent)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectQuality, res.Decision)
}

func TestGate_CheckSimilarityNearDuplicate(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	gate := NewDuplicateGate(DefaultGateConfig(), st)

	stored := &model.Chunk{
		ID:          "chunk-a",
		DocumentID:  "doc-1",
		ContentHash: "hash-a",
		State:       model.ChunkStateAccepted,
		Embedding:   []float64{1, 0.1, 0},
	}
	require.NoError(t, st.InsertChunk(ctx, stored))

	// Nearly parallel vector crosses the similarity threshold.
	res, err := gate.CheckSimilarity(ctx, "doc-1", []float64{1, 0.11, 0})
	require.NoError(t, err)
	assert.Equal(t, DecisionRejectNearDup, res.Decision)
	assert.Equal(t, "chunk-a", res.MatchedChunkID)
	assert.GreaterOrEqual(t, res.Similarity, 0.85)

	// Orthogonal vector is distinct content.
	res, err = gate.CheckSimilarity(ctx, "doc-1", []float64{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, res.Decision)

	// Other documents are never compared.
	res, err = gate.CheckSimilarity(ctx, "doc-2", []float64{1, 0.11, 0})
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, res.Decision)
}
