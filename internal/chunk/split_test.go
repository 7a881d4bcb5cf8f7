package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyInput(t *testing.T) {
	assert.Nil(t, Split("", DefaultSplitConfig()))
	assert.Nil(t, Split("\n\n\n", DefaultSplitConfig()))
}

func TestSplit_MergesSmallParagraphs(t *testing.T) {
	content := "First short paragraph.\n\nSecond short paragraph.\n\nThird short paragraph."
	chunks := Split(content, SplitConfig{TargetChars: 200, MaxChars: 5000})

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "First short paragraph.")
	assert.Contains(t, chunks[0], "Third short paragraph.")
}

func TestSplit_ClosesAtTarget(t *testing.T) {
	para := strings.Repeat("Words fill the paragraph here. ", 5)
	content := para + "\n\n" + para + "\n\n" + para
	chunks := Split(content, SplitConfig{TargetChars: len(para) + 10, MaxChars: 5000})

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplit_CutsOversizedParagraphAtSentence(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("A full sentence about porcelain tile. ", 40))
	chunks := Split(para, SplitConfig{TargetChars: 300, MaxChars: 500})

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
	}
	// Cuts land on sentence boundaries, not mid-word.
	assert.True(t, strings.HasSuffix(chunks[0], "."))
}

func TestSplit_NeverReturnsEmptyChunks(t *testing.T) {
	content := "One paragraph.\n\n\n\n  \n\nAnother paragraph."
	for _, c := range Split(content, DefaultSplitConfig()) {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}
