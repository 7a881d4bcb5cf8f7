package model

// Stage is one ordered step of the ingest pipeline. Stages have a fixed total
// order; a job's current stage never regresses except through an explicit
// restart from checkpoint.
type Stage string

const (
	StageInitialized      Stage = "initialized"
	StageDiscovered       Stage = "discovered"
	StageExtracted        Stage = "extracted"
	StageChunked          Stage = "chunked"
	StageTextEmbedded     Stage = "text_embedded"
	StageImagesExtracted  Stage = "images_extracted"
	StageImageEmbedded    Stage = "image_embedded"
	StageProductsDetected Stage = "products_detected"
	StageProductsCreated  Stage = "products_created"
	StageCompleted        Stage = "completed"
)

// stageOrder is the canonical execution order.
var stageOrder = []Stage{
	StageInitialized,
	StageDiscovered,
	StageExtracted,
	StageChunked,
	StageTextEmbedded,
	StageImagesExtracted,
	StageImageEmbedded,
	StageProductsDetected,
	StageProductsCreated,
	StageCompleted,
}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(stageOrder))
	for i, s := range stageOrder {
		m[s] = i
	}
	return m
}()

// Stages returns the full ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of s in the stage order, or -1 for unknown stages.
func (s Stage) Index() int {
	i, ok := stageIndex[s]
	if !ok {
		return -1
	}
	return i
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageIndex[s]
	return ok
}

// Next returns the stage after s. ok is false when s is the last stage or unknown.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Before reports whether s comes strictly before other in the stage order.
func (s Stage) Before(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si < oi
}

// ProgressPercent maps a stage to an overall job progress figure. Completed
// is 100; earlier stages are spread evenly across the order.
func (s Stage) ProgressPercent() int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / (len(stageOrder) - 1)
}
