package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/model"
)

// ErrCheckpointInconsistent marks a checkpoint whose payload does not decode
// or whose artifact references no longer resolve. Resuming past such a
// checkpoint would silently skip work; callers rerun its stage from scratch.
var ErrCheckpointInconsistent = eris.New("store: checkpoint inconsistent")

// VerifyCheckpoint re-resolves every artifact ID referenced by the checkpoint
// payload against the store. Store read failures are returned as-is; a payload
// that cannot be decoded or whose IDs do not all resolve is reported via
// ErrCheckpointInconsistent.
func VerifyCheckpoint(ctx context.Context, s Store, cp *model.Checkpoint) error {
	p, err := cp.DecodePayload()
	if err != nil {
		return eris.Wrapf(ErrCheckpointInconsistent, "%s/%s: payload unreadable", cp.JobID, cp.Stage)
	}

	// ProductCandidates are chunk IDs confirmed by detection; they resolve
	// against the same table as ChunkIDs.
	chunkIDs := append(append([]string(nil), p.ChunkIDs...), p.ProductCandidates...)

	checks := []struct {
		kind  string
		ids   []string
		count func(context.Context, []string) (int, error)
	}{
		{"extractions", p.ExtractionIDs, func(ctx context.Context, ids []string) (int, error) {
			rows, err := s.ListExtractions(ctx, ids)
			return len(rows), err
		}},
		{"chunks", chunkIDs, func(ctx context.Context, ids []string) (int, error) {
			rows, err := s.ListChunks(ctx, ids)
			return len(rows), err
		}},
		{"images", p.ImageIDs, func(ctx context.Context, ids []string) (int, error) {
			rows, err := s.ListImages(ctx, ids)
			return len(rows), err
		}},
		{"products", p.ProductIDs, func(ctx context.Context, ids []string) (int, error) {
			rows, err := s.ListProducts(ctx, ids)
			return len(rows), err
		}},
	}

	for _, c := range checks {
		ids := dedupeIDs(c.ids)
		if len(ids) == 0 {
			continue
		}
		n, err := c.count(ctx, ids)
		if err != nil {
			return eris.Wrapf(err, "store: verify checkpoint %s/%s", cp.JobID, cp.Stage)
		}
		if n != len(ids) {
			return eris.Wrapf(ErrCheckpointInconsistent, "%s/%s: %d of %d %s resolve",
				cp.JobID, cp.Stage, n, len(ids), c.kind)
		}
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
