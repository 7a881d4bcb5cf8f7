package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Checkpoint records that a stage completed for a job, with pointers to the
// artifacts it produced. At most one checkpoint exists per (job, stage);
// a retried stage upserts a fresh payload, superseding the old one.
type Checkpoint struct {
	JobID     string          `json:"job_id"`
	Stage     Stage           `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// StagePayload is the common artifact-reference shape stored in a checkpoint.
// Stages populate only the fields relevant to them; empty slices are fine.
type StagePayload struct {
	// Discovery output: pages identified as product-bearing, used as the
	// focused-mode input filter for later stages.
	ProductPages []int `json:"product_pages,omitempty"`
	TotalPages   int   `json:"total_pages,omitempty"`

	// Artifact IDs produced at this stage.
	ExtractionIDs []string `json:"extraction_ids,omitempty"`
	ChunkIDs      []string `json:"chunk_ids,omitempty"`
	ImageIDs      []string `json:"image_ids,omitempty"`
	ProductIDs    []string `json:"product_ids,omitempty"`

	// Chunk IDs confirmed as product-bearing by the detection stage; the
	// creation stage extracts structured products from exactly this set.
	ProductCandidates []string `json:"product_candidates,omitempty"`

	// Per-stage bookkeeping.
	RejectedChunks int `json:"rejected_chunks,omitempty"`
	FlaggedChunks  int `json:"flagged_chunks,omitempty"`
	NearDuplicates int `json:"near_duplicates,omitempty"`
	FailedUnits    int `json:"failed_units,omitempty"`
}

// DecodePayload unmarshals the checkpoint payload.
func (c *Checkpoint) DecodePayload() (*StagePayload, error) {
	var p StagePayload
	if len(c.Payload) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: decode payload for %s/%s", c.JobID, c.Stage)
	}
	return &p, nil
}

// EncodePayload marshals a stage payload for checkpoint storage.
func EncodePayload(p *StagePayload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: encode payload")
	}
	return b, nil
}
