package cost

import (
	"sync"

	"go.uber.org/zap"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Voyage    VoyageRate           `yaml:"voyage" mapstructure:"voyage"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// VoyageRate holds embedding pricing.
type VoyageRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes and accumulates API spend across a run.
type Calculator struct {
	rates Rates

	mu    sync.Mutex
	total float64
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of one Claude call and adds it to the running
// total. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	cost := (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
	c.add(cost)
	return cost
}

// Voyage computes the cost of embedding the given token count and adds it to
// the running total.
func (c *Calculator) Voyage(tokens int) float64 {
	cost := (float64(tokens) / 1e6) * c.rates.Voyage.PerMTok
	c.add(cost)
	return cost
}

// Total returns the accumulated spend in USD.
func (c *Calculator) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// LogTotal emits the accumulated spend for a job.
func (c *Calculator) LogTotal(jobID string) {
	zap.L().Info("api spend",
		zap.String("job_id", jobID),
		zap.Float64("total_usd", c.Total()),
	)
}

func (c *Calculator) add(cost float64) {
	c.mu.Lock()
	c.total += cost
	c.mu.Unlock()
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Voyage: VoyageRate{PerMTok: 0.06},
	}
}
