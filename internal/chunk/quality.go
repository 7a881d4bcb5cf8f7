package chunk

import (
	"strings"
	"unicode/utf8"
)

// Quality score weights and the character range the length score peaks at.
const (
	weightLength   = 0.30
	weightBoundary = 0.40
	weightSemantic = 0.30

	targetMinChars = 500
	targetMaxChars = 2000
)

// sentenceTerminals are the runes that end a complete sentence.
const sentenceTerminals = ".!?"

// Score rates a chunk's content quality in [0,1] as a weighted average of
// three independent axes: length (peaks at 500-2000 chars), boundary (ends
// on sentence-terminal punctuation), and semantic density (sentence count,
// saturating at 3). Pure and deterministic; empty input scores 0.
func Score(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	length := lengthScore(utf8.RuneCountInString(trimmed))
	boundary := boundaryScore(trimmed)
	semantic := semanticScore(trimmed)

	return weightLength*length + weightBoundary*boundary + weightSemantic*semantic
}

// SentenceCount returns the number of complete sentences in the content,
// counting terminal punctuation runs as a single boundary.
func SentenceCount(content string) int {
	count := 0
	inTerminal := false
	for _, r := range content {
		if strings.ContainsRune(sentenceTerminals, r) {
			if !inTerminal {
				count++
				inTerminal = true
			}
			continue
		}
		inTerminal = false
	}
	return count
}

// lengthScore gives full credit inside the target range and tapers linearly
// outside it.
func lengthScore(n int) float64 {
	switch {
	case n >= targetMinChars && n <= targetMaxChars:
		return 1.0
	case n < targetMinChars:
		return float64(n) / float64(targetMinChars)
	default:
		// Taper from 1.0 at the ceiling down to 0.2 at triple the ceiling.
		over := float64(n-targetMaxChars) / float64(2*targetMaxChars)
		if over > 1 {
			over = 1
		}
		return 1.0 - 0.8*over
	}
}

// boundaryScore gives full credit when the content ends on sentence-terminal
// punctuation and partial credit otherwise.
func boundaryScore(content string) float64 {
	last, _ := utf8.DecodeLastRuneInString(content)
	if strings.ContainsRune(sentenceTerminals, last) {
		return 1.0
	}
	// Clause boundaries are better than a mid-word cut.
	if strings.ContainsRune(",;:", last) {
		return 0.5
	}
	return 0.25
}

// semanticScore credits sentence count, saturating at 3+ sentences.
func semanticScore(content string) float64 {
	n := SentenceCount(content)
	if n >= 3 {
		return 1.0
	}
	return float64(n) / 3.0
}
