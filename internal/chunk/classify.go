package chunk

import (
	"regexp"
	"strings"

	"github.com/materialshub/catalog-ingest/internal/model"
)

// Deterministic chunk-type classification. This is the rule-based path used
// both as the router's fallback when model confidence stays low and as the
// cheap pre-screen before product detection.

var (
	dimensionRe = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*[x×]\s*\d+(?:[.,]\d+)?(?:\s*[x×]\s*\d+(?:[.,]\d+)?)?\s*(?:mm|cm|m|in|")?`)
	tocLineRe   = regexp.MustCompile(`(?m)^.{2,60}\.{3,}\s*\d+\s*$`)
	pageRefRe   = regexp.MustCompile(`(?i)\bpage\s+\d+\b`)
)

var materialKeywords = []string{
	"leather", "aluminum", "aluminium", "oak", "walnut", "ceramic", "steel",
	"porcelain", "marble", "upholstery", "veneer", "fabric", "glass", "brass",
	"matte", "gloss", "finish", "lacquer", "tile",
}

var specKeywords = []string{
	"technical specification", "specifications", "weight capacity",
	"resistance", "ip65", "ip54", "load", "thickness", "tolerance",
	"voltage", "wattage",
}

var sustainabilityKeywords = []string{
	"sustainab", "recycled", "carbon-neutral", "carbon neutral",
	"biodegradable", "eco-friendly", "responsible sourcing", "fsc",
}

var certificationKeywords = []string{
	"iso 9001", "iso 14001", "ce marked", "ce marking", "certified",
	"compliance", "ansi", "bifma", "en 1335", "astm",
}

// Classify assigns a chunk type with keyword and pattern rules. It errs
// toward supporting_content rather than guessing a product type.
func Classify(content string) model.ChunkType {
	lower := strings.ToLower(content)

	if tocLineRe.MatchString(content) || strings.Contains(lower, "table of contents") {
		return model.ChunkTypeIndexContent
	}
	if countMatches(lower, certificationKeywords) >= 2 {
		return model.ChunkTypeCertificationInfo
	}
	if countMatches(lower, sustainabilityKeywords) >= 2 {
		return model.ChunkTypeSustainabilityInfo
	}

	hasDimensions := dimensionRe.MatchString(content)
	materials := countMatches(lower, materialKeywords)
	specs := countMatches(lower, specKeywords)

	if specs >= 2 || (specs >= 1 && hasDimensions && materials == 0) {
		return model.ChunkTypeTechnicalSpecs
	}
	if hasDimensions && materials >= 1 {
		return model.ChunkTypeProductDescription
	}
	if materials >= 3 {
		return model.ChunkTypeProductDescription
	}
	if pageRefRe.MatchString(content) && len(content) < 200 {
		return model.ChunkTypeIndexContent
	}

	return model.ChunkTypeSupportingContent
}

// ProductCandidate reports whether a chunk type is eligible for product
// detection. Index and boilerplate content never reaches the detector.
func ProductCandidate(t model.ChunkType) bool {
	switch t {
	case model.ChunkTypeProductDescription, model.ChunkTypeTechnicalSpecs:
		return true
	}
	return false
}

func countMatches(lower string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}
