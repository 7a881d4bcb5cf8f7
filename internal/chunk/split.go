package chunk

import "strings"

// SplitConfig controls how extracted page text is cut into candidate chunks.
type SplitConfig struct {
	// TargetChars is the preferred chunk size; the splitter closes a chunk
	// at the first paragraph boundary past this size.
	TargetChars int
	// MaxChars hard-caps a single chunk. Oversized paragraphs are cut at
	// the nearest sentence boundary below this limit.
	MaxChars int
}

// DefaultSplitConfig matches the quality scorer's target range.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{TargetChars: 1200, MaxChars: 5000}
}

// Split cuts page text into candidate chunks along paragraph boundaries,
// merging small paragraphs up to the target size. It never returns empty
// candidates; whether a candidate survives is the quality gate's call.
func Split(content string, cfg SplitConfig) []string {
	if cfg.TargetChars <= 0 {
		cfg = DefaultSplitConfig()
	}

	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		for len(p) > cfg.MaxChars {
			cut := sentenceCut(p, cfg.MaxChars)
			flush()
			chunks = append(chunks, strings.TrimSpace(p[:cut]))
			p = strings.TrimSpace(p[cut:])
		}

		if current.Len() > 0 && current.Len()+len(p)+2 > cfg.TargetChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}

func splitParagraphs(content string) []string {
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentenceCut finds the last sentence boundary at or below limit, falling
// back to the last space, then to a hard cut.
func sentenceCut(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	window := s[:limit]
	best := -1
	for _, t := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(window, t); i > best {
			best = i + 1 // include the terminal rune
		}
	}
	if best > 0 {
		return best
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i
	}
	return limit
}
