package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculator_Claude(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output tokens at haiku rates.
	got := c.Claude("claude-haiku-4-5-20251001", 1_000_000, 1_000_000)
	assert.InDelta(t, 4.80, got, 1e-9)

	got = c.Claude("claude-sonnet-4-5-20250929", 500_000, 100_000)
	assert.InDelta(t, 3.00, got, 1e-9)
}

func TestCalculator_UnknownModelCostsNothing(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("claude-instant-0", 1_000_000, 1_000_000))
	assert.Zero(t, c.Total())
}

func TestCalculator_Voyage(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.06, c.Voyage(1_000_000), 1e-9)
	assert.InDelta(t, 0.003, c.Voyage(50_000), 1e-9)
}

func TestCalculator_AccumulatesTotal(t *testing.T) {
	c := NewCalculator(DefaultRates())
	c.Claude("claude-haiku-4-5-20251001", 1_000_000, 0)
	c.Voyage(1_000_000)
	assert.InDelta(t, 0.86, c.Total(), 1e-9)
}
