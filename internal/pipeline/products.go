package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/chunk"
)

// Routed task names. They key the route audit log and select the rule
// fallback behavior.
const (
	TaskProductDetection  = "product_detection"
	TaskProductExtraction = "product_extraction"
)

// Detection is the model's answer to "does this passage describe a product".
type Detection struct {
	IsProduct  bool    `json:"is_product"`
	Confidence float64 `json:"confidence"`
}

// ProductDraft is a structured product pulled out of a passage.
type ProductDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func detectionPrompt(content string) string {
	return fmt.Sprintf(`You are screening passages from a building-materials catalog.
Decide whether the passage below describes one or more concrete products
(materials, fixtures, finishes) as opposed to index pages, marketing copy,
or general company text.

Respond with JSON only: {"is_product": <bool>, "confidence": <0.0-1.0>}

Passage:
%s`, content)
}

func extractionPrompt(content string) string {
	return fmt.Sprintf(`Extract the primary product described in the passage below from a
building-materials catalog.

Respond with JSON only: {"name": "<product name>", "description": "<one-paragraph summary>"}

Passage:
%s`, content)
}

// ParseDetection decodes a detection response, tolerating surrounding prose.
func ParseDetection(content string) (*Detection, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}
	var d Detection
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, eris.Wrap(err, "products: decode detection")
	}
	return &d, nil
}

// ParseProductDraft decodes a product extraction response.
func ParseProductDraft(content string) (*ProductDraft, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}
	var p ProductDraft
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, eris.Wrap(err, "products: decode product draft")
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, eris.New("products: draft missing name")
	}
	return &p, nil
}

// extractJSONObject pulls the first top-level JSON object out of a model
// response. Models occasionally wrap the JSON in prose or code fences.
func extractJSONObject(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end <= start {
		return "", eris.Errorf("products: no JSON object in response %q", truncate(content, 120))
	}
	return content[start : end+1], nil
}

// RuleBasedFallback answers routed tasks deterministically from the passage
// text, used when both model tiers come back below the confidence floor.
func RuleBasedFallback(req InvokeRequest) (string, error) {
	switch req.Task {
	case TaskProductDetection:
		d := Detection{
			IsProduct:  chunk.ProductCandidate(chunk.Classify(req.Source)),
			Confidence: chunk.Score(req.Source),
		}
		b, err := json.Marshal(d)
		return string(b), eris.Wrap(err, "products: encode fallback detection")
	case TaskProductExtraction:
		p := ProductDraft{
			Name:        headline(req.Source),
			Description: truncate(strings.TrimSpace(req.Source), 400),
		}
		b, err := json.Marshal(p)
		return string(b), eris.Wrap(err, "products: encode fallback draft")
	default:
		return "", eris.Errorf("products: no rule fallback for task %q", req.Task)
	}
}

// headline takes the first sentence or line as a product name stand-in.
func headline(content string) string {
	content = strings.TrimSpace(content)
	cut := len(content)
	for i, r := range content {
		if r == '\n' || r == '.' || r == '!' || r == '?' {
			cut = i
			break
		}
	}
	name := strings.TrimSpace(content[:cut])
	if name == "" {
		name = "unnamed product"
	}
	return truncate(name, 80)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !unicode.IsSpace(rune(s[cut-1])) {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return strings.TrimSpace(s[:cut]) + "…"
}
