package pipeline

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/materialshub/catalog-ingest/internal/chunk"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// Decision is the gate's verdict for a candidate chunk.
type Decision string

const (
	DecisionAccept        Decision = "accept"
	DecisionRejectDup     Decision = "reject_duplicate"
	DecisionRejectNearDup Decision = "reject_near_duplicate"
	DecisionRejectQuality Decision = "reject_quality"
	DecisionRejectLength  Decision = "reject_length"
	DecisionFlagForReview Decision = "flag_for_review"
)

// BorderlinePolicy controls what happens to chunks whose quality lands in the
// band between the floor and the strict floor.
type BorderlinePolicy string

const (
	BorderlineReject BorderlinePolicy = "reject"
	BorderlineReview BorderlinePolicy = "review"
)

// GateConfig holds the admission thresholds.
type GateConfig struct {
	MinQuality          float64          `yaml:"min_quality" mapstructure:"min_quality"`
	StrictMinQuality    float64          `yaml:"strict_min_quality" mapstructure:"strict_min_quality"`
	MinLength           int              `yaml:"min_length" mapstructure:"min_length"`
	MaxLength           int              `yaml:"max_length" mapstructure:"max_length"`
	SimilarityThreshold float64          `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	BorderlinePolicy    BorderlinePolicy `yaml:"borderline_policy" mapstructure:"borderline_policy"`
}

// DefaultGateConfig returns the standard admission thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinQuality:          0.6,
		StrictMinQuality:    0.7,
		MinLength:           50,
		MaxLength:           5000,
		SimilarityThreshold: 0.85,
		BorderlinePolicy:    BorderlineReview,
	}
}

// GateResult describes the outcome of admitting one chunk.
type GateResult struct {
	Decision     Decision
	QualityScore float64
	ContentHash  string
	// MatchedChunkID is set for duplicate rejections.
	MatchedChunkID string
	// Similarity is set for near-duplicate rejections.
	Similarity float64
}

// DuplicateGate decides whether a chunk enters the corpus. Checks run
// cheapest-first: exact hash, then length and quality, then embedding
// similarity against already-stored chunks of the same document.
type DuplicateGate struct {
	cfg   GateConfig
	store store.Store
}

func NewDuplicateGate(cfg GateConfig, st store.Store) *DuplicateGate {
	return &DuplicateGate{cfg: cfg, store: st}
}

// Admit evaluates content for the given document. The caller inserts the
// chunk afterwards; the unique (document_id, content_hash) constraint is the
// backstop if two workers race past the hash pre-check.
func (g *DuplicateGate) Admit(ctx context.Context, documentID, content string) (*GateResult, error) {
	hash := chunk.Hash(content)
	res := &GateResult{ContentHash: hash}

	existing, err := g.store.FindChunkByHash(ctx, documentID, hash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "gate: hash lookup")
	}
	if existing != nil {
		res.Decision = DecisionRejectDup
		res.MatchedChunkID = existing.ID
		return res, nil
	}

	n := utf8.RuneCountInString(content)
	if n < g.cfg.MinLength || n > g.cfg.MaxLength {
		res.Decision = DecisionRejectLength
		return res, nil
	}
	if chunk.SentenceCount(content) < 1 {
		res.Decision = DecisionRejectQuality
		return res, nil
	}

	score := chunk.Score(content)
	res.QualityScore = score
	switch {
	case score < g.cfg.MinQuality:
		res.Decision = DecisionRejectQuality
		return res, nil
	case score < g.cfg.StrictMinQuality:
		if g.cfg.BorderlinePolicy == BorderlineReject {
			res.Decision = DecisionRejectQuality
			return res, nil
		}
		res.Decision = DecisionFlagForReview
	default:
		res.Decision = DecisionAccept
	}
	return res, nil
}

// CheckSimilarity runs the near-duplicate check once an embedding exists.
// It downgrades an accept to a near-duplicate rejection when a stored chunk
// of the same document is too close.
func (g *DuplicateGate) CheckSimilarity(ctx context.Context, documentID string, embedding []float64) (*GateResult, error) {
	similar, err := g.store.FindSimilarChunks(ctx, documentID, embedding, g.cfg.SimilarityThreshold)
	if err != nil {
		return nil, eris.Wrap(err, "gate: similarity lookup")
	}
	if len(similar) == 0 {
		return &GateResult{Decision: DecisionAccept}, nil
	}

	best := similar[0]
	bestSim := store.CosineSimilarity(embedding, best.Embedding)
	for _, c := range similar[1:] {
		if sim := store.CosineSimilarity(embedding, c.Embedding); sim > bestSim {
			best, bestSim = c, sim
		}
	}
	zap.L().Debug("near-duplicate chunk rejected",
		zap.String("document_id", documentID),
		zap.String("matched_chunk_id", best.ID),
		zap.Float64("similarity", bestSim),
	)
	return &GateResult{
		Decision:       DecisionRejectNearDup,
		MatchedChunkID: best.ID,
		Similarity:     bestSim,
	}, nil
}
