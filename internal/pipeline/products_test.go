package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
		wantErr bool
	}{
		{
			name:    "clean json",
			content: `{"is_product": true, "confidence": 0.88}`,
			want:    true,
		},
		{
			name:    "prose wrapped",
			content: "Here is my answer:\n{\"is_product\": false, \"confidence\": 0.4}\nHope that helps.",
			want:    false,
		},
		{
			name:    "code fence",
			content: "```json\n{\"is_product\": true, \"confidence\": 0.91}\n```",
			want:    true,
		},
		{
			name:    "no json at all",
			content: "the passage describes a chair",
			wantErr: true,
		},
		{
			name:    "malformed json",
			content: `{"is_product": maybe}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDetection(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.IsProduct)
		})
	}
}

func TestParseProductDraft(t *testing.T) {
	d, err := ParseProductDraft("Sure:\n```json\n{\"name\": \"Atlas Tile\", \"description\": \"A porcelain floor tile.\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Atlas Tile", d.Name)
	assert.Equal(t, "A porcelain floor tile.", d.Description)

	_, err = ParseProductDraft(`{"name": "  ", "description": "nameless"}`)
	assert.Error(t, err)

	_, err = ParseProductDraft("no structure here")
	assert.Error(t, err)
}

func TestRuleBasedFallback_Detection(t *testing.T) {
	out, err := RuleBasedFallback(InvokeRequest{
		Task:   TaskProductDetection,
		Source: productPage,
	})
	require.NoError(t, err)
	d, err := ParseDetection(out)
	require.NoError(t, err)
	assert.True(t, d.IsProduct)
	assert.Greater(t, d.Confidence, 0.0)

	out, err = RuleBasedFallback(InvokeRequest{
		Task:   TaskProductDetection,
		Source: "Our company was founded in 1987 and proudly serves the region.",
	})
	require.NoError(t, err)
	d, err = ParseDetection(out)
	require.NoError(t, err)
	assert.False(t, d.IsProduct)
}

func TestRuleBasedFallback_Extraction(t *testing.T) {
	out, err := RuleBasedFallback(InvokeRequest{
		Task:   TaskProductExtraction,
		Source: productPage,
	})
	require.NoError(t, err)
	d, err := ParseProductDraft(out)
	require.NoError(t, err)
	assert.Equal(t, "The Nora lounge chair combines an oak frame with full-grain leather upholstery…", d.Name)
	assert.LessOrEqual(t, len(d.Description), 410)
}

func TestRuleBasedFallback_UnknownTask(t *testing.T) {
	_, err := RuleBasedFallback(InvokeRequest{Task: "weather_report"})
	assert.Error(t, err)
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "Atlas Tile Collection", headline("Atlas Tile Collection\nPorcelain tiles for wet rooms."))
	assert.Equal(t, "The chair ships flat", headline("  The chair ships flat. Assembly takes ten minutes."))
	assert.Equal(t, "unnamed product", headline("   \n"))

	long := strings.Repeat("word ", 40) + "end"
	assert.LessOrEqual(t, len(headline(long)), 83)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	got := truncate("alpha beta gamma delta", 12)
	assert.Equal(t, "alpha beta…", got)
}
