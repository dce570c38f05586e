package llm

// defaultPricing maps model ids to [input, output] USD per million tokens.
// Used only for the cost field of CostRecord; unknown models report zero
// cost but still account tokens. Rates drift — config can override any
// entry via SetPricing.
var defaultPricing = map[string][2]float64{
	// Anthropic
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-opus-4-1-20250805":   {15.0, 75.0},
	"claude-haiku-4-5-20251001":  {1.0, 5.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},

	// OpenAI
	"gpt-4o":      {2.5, 10.0},
	"gpt-4o-mini": {0.15, 0.6},
	"gpt-4.1":     {2.0, 8.0},
	"o4-mini":     {1.1, 4.4},

	// Common open-weight hosts (per-1M list rates)
	"llama-3.3-70b-versatile": {0.59, 0.79},
	"deepseek-chat":           {0.27, 1.1},
}

// LoadDefaultPricing seeds the router with the built-in rate table.
func (r *Router) LoadDefaultPricing() {
	for model, rates := range defaultPricing {
		r.SetPricing(model, rates[0], rates[1])
	}
}
