package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageOrder(t *testing.T) {
	stages := Stages()
	require.Equal(t, StageInitialized, stages[0])
	require.Equal(t, StageCompleted, stages[len(stages)-1])

	for i := 1; i < len(stages); i++ {
		assert.True(t, stages[i-1].Before(stages[i]),
			"%s should come before %s", stages[i-1], stages[i])
	}
}

func TestStageNext(t *testing.T) {
	next, ok := StageChunked.Next()
	require.True(t, ok)
	assert.Equal(t, StageTextEmbedded, next)

	_, ok = StageCompleted.Next()
	assert.False(t, ok)

	_, ok = Stage("bogus").Next()
	assert.False(t, ok)
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageDiscovered.Valid())
	assert.False(t, Stage("bogus").Valid())
}

func TestStageProgressPercent(t *testing.T) {
	assert.Equal(t, 0, StageInitialized.ProgressPercent())
	assert.Equal(t, 100, StageCompleted.ProgressPercent())

	prev := -1
	for _, s := range Stages() {
		p := s.ProgressPercent()
		assert.Greater(t, p, prev, "progress must be strictly increasing at %s", s)
		prev = p
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.False(t, JobStatusRetrying.Terminal())
}
