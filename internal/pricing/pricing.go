// Package pricing converts token counts into USD amounts using the
// registry's per-million rates. All amounts are decimal with six fractional
// digits, rounded half-up per component.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
)

const scale = 6

var million = decimal.NewFromInt(1_000_000)

// Calculator prices token usage against the model registry.
type Calculator struct {
	registry *registry.Registry
}

func NewCalculator(r *registry.Registry) *Calculator {
	return &Calculator{registry: r}
}

func perToken(count int64, ratePer1M decimal.Decimal) decimal.Decimal {
	// DivRound rounds half away from zero, matching half-up for the
	// non-negative amounts handled here.
	return decimal.NewFromInt(count).Mul(ratePer1M).DivRound(million, scale)
}

// EstimateInput prices an estimated prompt for budget admission.
func (c *Calculator) EstimateInput(inputTokens int, cfg registry.ModelConfig) decimal.Decimal {
	return perToken(int64(inputTokens), cfg.InputPer1M)
}

// Calculate prices reported usage for the final response. The total is
// input + output; thinking-token rates exist in the registry but are not
// billed here.
func (c *Calculator) Calculate(usage providers.Usage, modelID string) providers.Cost {
	cfg := c.registry.Config(modelID)
	input := perToken(int64(usage.PromptTokens), cfg.InputPer1M)
	output := perToken(int64(usage.CompletionTokens), cfg.OutputPer1M)
	return providers.Cost{
		Input:    input,
		Output:   output,
		Total:    input.Add(output),
		Currency: "USD",
	}
}
