package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_EmptyIsZero(t *testing.T) {
	assert.Zero(t, Score(""))
	assert.Zero(t, Score("   \n\t"))
}

func TestScore_IdealChunkScoresHigh(t *testing.T) {
	// Three full sentences, terminal punctuation, inside the target length.
	sentence := "The panel is finished with a matte lacquer that resists scratching under normal office use and keeps its color in direct sunlight."
	content := strings.TrimSpace(strings.Repeat(sentence+" ", 4))

	score := Score(content)
	assert.GreaterOrEqual(t, score, 0.9)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScore_ShortFragmentScoresLow(t *testing.T) {
	score := Score("matte black")
	assert.Less(t, score, 0.6)
}

func TestScore_MidSentenceCutPenalized(t *testing.T) {
	base := strings.Repeat("A complete sentence about ceramic tile glazing. ", 15)
	complete := strings.TrimSpace(base)
	cut := complete[:len(complete)-1] + " and"

	assert.Greater(t, Score(complete), Score(cut))
}

func TestSentenceCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"no terminal here", 0},
		{"One sentence.", 1},
		{"One. Two! Three?", 3},
		{"Ellipsis... counts once.", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SentenceCount(tt.in), "input %q", tt.in)
	}
}

func TestLengthScore_TargetRangePeaks(t *testing.T) {
	assert.Equal(t, 1.0, lengthScore(500))
	assert.Equal(t, 1.0, lengthScore(2000))
	assert.Less(t, lengthScore(100), 1.0)
	assert.Less(t, lengthScore(4000), 1.0)
	assert.InDelta(t, 0.2, lengthScore(100000), 1e-9)
}
