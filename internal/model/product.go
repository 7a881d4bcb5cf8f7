package model

import "time"

// Product is a structured catalog record detected from an accepted chunk.
type Product struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	ChunkID     string    `json:"chunk_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}
