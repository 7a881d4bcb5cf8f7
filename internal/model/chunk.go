package model

import "time"

// ChunkState tracks what the quality gate decided for a persisted chunk.
type ChunkState string

const (
	ChunkStateAccepted      ChunkState = "accepted"
	ChunkStateReviewPending ChunkState = "review_pending"
	ChunkStateDiscarded     ChunkState = "discarded"
)

// ChunkType is the rule-or-model-assigned content category of a chunk.
type ChunkType string

const (
	ChunkTypeProductDescription ChunkType = "product_description"
	ChunkTypeTechnicalSpecs     ChunkType = "technical_specs"
	ChunkTypeIndexContent       ChunkType = "index_content"
	ChunkTypeSustainabilityInfo ChunkType = "sustainability_info"
	ChunkTypeCertificationInfo  ChunkType = "certification_info"
	ChunkTypeSupportingContent  ChunkType = "supporting_content"
	ChunkTypeUnclassified       ChunkType = "unclassified"
)

// Chunk is a quality-gated slice of extracted document text. The
// (document_id, content_hash) pair is unique in storage; the gate's hash
// lookup is a cheap pre-check in front of that constraint.
type Chunk struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	DocumentID   string     `json:"document_id"`
	Page         int        `json:"page"`
	Content      string     `json:"content"`
	ContentHash  string     `json:"content_hash"`
	QualityScore float64    `json:"quality_score"`
	ChunkType    ChunkType  `json:"chunk_type"`
	State        ChunkState `json:"state"`
	Embedding    []float64  `json:"embedding,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Extraction is the raw per-page text produced by the extractor, kept so the
// chunking stage can resume without re-invoking the extractor.
type Extraction struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Image is an extracted catalog image with its vision-model caption and
// embedding.
type Image struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Caption    string    `json:"caption,omitempty"`
	Embedding  []float64 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
