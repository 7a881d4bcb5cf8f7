package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/materialshub/catalog-ingest/internal/chunk"
	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/resilience"
	"github.com/materialshub/catalog-ingest/internal/store"
)

func (e *Engine) execStage(ctx context.Context, job *model.Job, stage model.Stage, state *model.StagePayload) error {
	switch stage {
	case model.StageDiscovered:
		return e.stageDiscover(ctx, job, state)
	case model.StageExtracted:
		return e.stageExtract(ctx, job, state)
	case model.StageChunked:
		return e.stageChunk(ctx, job, state)
	case model.StageTextEmbedded:
		return e.stageEmbedText(ctx, job, state)
	case model.StageImagesExtracted:
		return e.stageExtractImages(ctx, job, state)
	case model.StageImageEmbedded:
		return e.stageEmbedImages(ctx, job, state)
	case model.StageProductsDetected:
		return e.stageDetectProducts(ctx, job, state)
	case model.StageProductsCreated:
		return e.stageCreateProducts(ctx, job, state)
	case model.StageCompleted:
		return nil
	default:
		return resilience.NewFatalError(eris.Errorf("unknown stage %q", stage))
	}
}

func (e *Engine) stageDiscover(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	disc, err := e.extractor.Discover(ctx, job.DocumentID)
	if err != nil {
		return eris.Wrap(err, "discover document")
	}
	if disc.TotalPages <= 0 {
		return resilience.NewFatalError(eris.Errorf("document %s has no pages", job.DocumentID))
	}

	state.TotalPages = disc.TotalPages
	state.ProductPages = disc.ProductPages
	zap.L().Info("document surveyed",
		zap.String("job_id", job.ID),
		zap.Int("total_pages", disc.TotalPages),
		zap.Int("product_pages", len(disc.ProductPages)),
	)
	return nil
}

// targetPages returns the pages later stages operate on. In focused mode the
// discovered product pages win; otherwise every page is in scope.
func (e *Engine) targetPages(state *model.StagePayload) []int {
	if e.cfg.FocusedMode && len(state.ProductPages) > 0 {
		return state.ProductPages
	}
	pages := make([]int, 0, state.TotalPages)
	for p := 1; p <= state.TotalPages; p++ {
		pages = append(pages, p)
	}
	return pages
}

func (e *Engine) stageExtract(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	pages := e.targetPages(state)

	var mu sync.Mutex
	var extractions []*model.Extraction
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.UnitConcurrency)
	for _, page := range pages {
		g.Go(func() error {
			content, err := e.extractor.ExtractPage(gctx, job.DocumentID, page)
			if err != nil {
				if resilience.IsFatal(err) {
					return eris.Wrapf(err, "extract page %d", page)
				}
				zap.L().Warn("page extraction failed, skipping",
					zap.String("job_id", job.ID),
					zap.Int("page", page),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			if content == "" {
				return nil
			}
			mu.Lock()
			extractions = append(extractions, &model.Extraction{
				JobID:      job.ID,
				DocumentID: job.DocumentID,
				Page:       page,
				Content:    content,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(extractions) == 0 {
		return resilience.NewFatalError(eris.Errorf("no text extracted from document %s", job.DocumentID))
	}
	sort.Slice(extractions, func(i, j int) bool { return extractions[i].Page < extractions[j].Page })

	if err := e.store.InsertExtractions(ctx, extractions); err != nil {
		return eris.Wrap(err, "persist extractions")
	}
	state.ExtractionIDs = state.ExtractionIDs[:0]
	for _, ex := range extractions {
		state.ExtractionIDs = append(state.ExtractionIDs, ex.ID)
	}
	state.FailedUnits += failed
	if failed > 0 {
		if err := e.store.AddFailedUnits(ctx, job.ID, failed); err != nil {
			return eris.Wrap(err, "record failed units")
		}
	}
	return nil
}

func (e *Engine) stageChunk(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	extractions, err := e.store.ListExtractions(ctx, state.ExtractionIDs)
	if err != nil {
		return eris.Wrap(err, "load extractions")
	}

	// A retried stage re-evaluates every piece; already-inserted chunks come
	// back as duplicates and keep their original row.
	state.ChunkIDs = state.ChunkIDs[:0]
	rejected, flagged := 0, 0
	splitCfg := chunk.DefaultSplitConfig()

	for _, ex := range extractions {
		for _, piece := range chunk.Split(ex.Content, splitCfg) {
			res, err := e.gate.Admit(ctx, job.DocumentID, piece)
			if err != nil {
				return eris.Wrap(err, "admit chunk")
			}
			switch res.Decision {
			case DecisionRejectDup:
				state.ChunkIDs = append(state.ChunkIDs, res.MatchedChunkID)
				continue
			case DecisionRejectQuality, DecisionRejectLength:
				rejected++
				continue
			}

			c := &model.Chunk{
				JobID:        job.ID,
				DocumentID:   job.DocumentID,
				Page:         ex.Page,
				Content:      piece,
				ContentHash:  res.ContentHash,
				QualityScore: res.QualityScore,
				ChunkType:    chunk.Classify(piece),
				State:        model.ChunkStateAccepted,
			}
			if res.Decision == DecisionFlagForReview {
				c.State = model.ChunkStateReviewPending
				flagged++
			}
			if err := e.store.InsertChunk(ctx, c); err != nil {
				if errors.Is(err, store.ErrDuplicateChunk) {
					// Lost the race past the hash pre-check; the stored copy wins.
					if dup, derr := e.store.FindChunkByHash(ctx, job.DocumentID, res.ContentHash); derr == nil {
						state.ChunkIDs = append(state.ChunkIDs, dup.ID)
					}
					continue
				}
				return eris.Wrap(err, "persist chunk")
			}
			state.ChunkIDs = append(state.ChunkIDs, c.ID)
		}
	}

	state.RejectedChunks += rejected
	state.FlaggedChunks += flagged
	zap.L().Info("extractions chunked",
		zap.String("job_id", job.ID),
		zap.Int("chunks", len(state.ChunkIDs)),
		zap.Int("rejected", rejected),
		zap.Int("flagged_for_review", flagged),
	)
	return nil
}

func (e *Engine) stageEmbedText(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	chunks, err := e.store.ListChunks(ctx, state.ChunkIDs)
	if err != nil {
		return eris.Wrap(err, "load chunks")
	}

	var pending []model.Chunk
	for _, c := range chunks {
		if len(c.Embedding) == 0 && c.State != model.ChunkStateDiscarded {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	inputs := make([]string, len(pending))
	for i, c := range pending {
		inputs[i] = c.Content
	}
	vectors, err := e.embedder.Embed(ctx, inputs)
	if err != nil {
		return eris.Wrap(err, "embed chunks")
	}
	if len(vectors) != len(pending) {
		return eris.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(pending))
	}

	// Sequential on purpose: each chunk's near-duplicate check must see the
	// embeddings of the chunks stored before it.
	nearDups := 0
	for i, c := range pending {
		sim, err := e.gate.CheckSimilarity(ctx, job.DocumentID, vectors[i])
		if err != nil {
			return eris.Wrap(err, "near-duplicate check")
		}
		if sim.Decision == DecisionRejectNearDup {
			if err := e.store.SetChunkState(ctx, c.ID, model.ChunkStateDiscarded); err != nil {
				return eris.Wrap(err, "discard near-duplicate")
			}
			nearDups++
			continue
		}
		if err := e.store.SetChunkEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return eris.Wrap(err, "persist embedding")
		}
	}

	state.NearDuplicates += nearDups
	zap.L().Info("chunks embedded",
		zap.String("job_id", job.ID),
		zap.Int("embedded", len(pending)-nearDups),
		zap.Int("near_duplicates", nearDups),
	)
	return nil
}

func (e *Engine) stageExtractImages(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	pages := e.targetPages(state)

	var mu sync.Mutex
	var images []*model.Image
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.UnitConcurrency)
	for _, page := range pages {
		g.Go(func() error {
			refs, err := e.extractor.ExtractImages(gctx, job.DocumentID, page)
			if err != nil {
				if resilience.IsFatal(err) {
					return eris.Wrapf(err, "extract images page %d", page)
				}
				zap.L().Warn("image extraction failed, skipping page",
					zap.String("job_id", job.ID),
					zap.Int("page", page),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			for _, ref := range refs {
				images = append(images, &model.Image{
					JobID:      job.ID,
					DocumentID: job.DocumentID,
					Page:       ref.Page,
					Caption:    ref.Caption,
				})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	state.ImageIDs = state.ImageIDs[:0]
	for _, img := range images {
		if err := e.store.InsertImage(ctx, img); err != nil {
			return eris.Wrap(err, "persist image")
		}
		state.ImageIDs = append(state.ImageIDs, img.ID)
	}
	state.FailedUnits += failed
	if failed > 0 {
		if err := e.store.AddFailedUnits(ctx, job.ID, failed); err != nil {
			return eris.Wrap(err, "record failed units")
		}
	}
	return nil
}

func (e *Engine) stageEmbedImages(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	images, err := e.store.ListImages(ctx, state.ImageIDs)
	if err != nil {
		return eris.Wrap(err, "load images")
	}

	var pending []model.Image
	var inputs []string
	for _, img := range images {
		if len(img.Embedding) > 0 || img.Caption == "" {
			continue
		}
		pending = append(pending, img)
		inputs = append(inputs, img.Caption)
	}
	if len(pending) == 0 {
		return nil
	}

	vectors, err := e.embedder.Embed(ctx, inputs)
	if err != nil {
		return eris.Wrap(err, "embed image captions")
	}
	if len(vectors) != len(pending) {
		return eris.Errorf("embedder returned %d vectors for %d captions", len(vectors), len(pending))
	}
	for i, img := range pending {
		if err := e.store.SetImageEmbedding(ctx, img.ID, img.Caption, vectors[i]); err != nil {
			return eris.Wrap(err, "persist image embedding")
		}
	}
	return nil
}

func (e *Engine) stageDetectProducts(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	chunks, err := e.store.ListChunks(ctx, state.ChunkIDs)
	if err != nil {
		return eris.Wrap(err, "load chunks")
	}

	state.ProductCandidates = state.ProductCandidates[:0]
	for _, c := range chunks {
		if c.State != model.ChunkStateAccepted || !chunk.ProductCandidate(c.ChunkType) {
			continue
		}
		res, err := e.router.Route(ctx, job.ID, InvokeRequest{
			Task:   TaskProductDetection,
			Prompt: detectionPrompt(c.Content),
			Source: c.Content,
		})
		if err != nil {
			return eris.Wrapf(err, "detect products in chunk %s", c.ID)
		}
		det, err := ParseDetection(res.Content)
		if err != nil {
			zap.L().Warn("unparseable detection result, skipping chunk",
				zap.String("job_id", job.ID),
				zap.String("chunk_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		if det.IsProduct {
			state.ProductCandidates = append(state.ProductCandidates, c.ID)
		}
	}

	zap.L().Info("product detection complete",
		zap.String("job_id", job.ID),
		zap.Int("candidates", len(state.ProductCandidates)),
	)
	return nil
}

func (e *Engine) stageCreateProducts(ctx context.Context, job *model.Job, state *model.StagePayload) error {
	chunks, err := e.store.ListChunks(ctx, state.ProductCandidates)
	if err != nil {
		return eris.Wrap(err, "load candidate chunks")
	}

	state.ProductIDs = state.ProductIDs[:0]
	for _, c := range chunks {
		res, err := e.router.Route(ctx, job.ID, InvokeRequest{
			Task:   TaskProductExtraction,
			Prompt: extractionPrompt(c.Content),
			Source: c.Content,
		})
		if err != nil {
			return eris.Wrapf(err, "extract product from chunk %s", c.ID)
		}
		draft, err := ParseProductDraft(res.Content)
		if err != nil {
			zap.L().Warn("unparseable product draft, skipping chunk",
				zap.String("job_id", job.ID),
				zap.String("chunk_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		p := &model.Product{
			JobID:       job.ID,
			DocumentID:  job.DocumentID,
			ChunkID:     c.ID,
			Name:        draft.Name,
			Description: draft.Description,
			Confidence:  res.Score,
		}
		if err := e.store.InsertProduct(ctx, p); err != nil {
			return eris.Wrap(err, "persist product")
		}
		state.ProductIDs = append(state.ProductIDs, p.ID)
	}

	zap.L().Info("products created",
		zap.String("job_id", job.ID),
		zap.Int("products", len(state.ProductIDs)),
	)
	return nil
}
