package tracker

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// TODO: pull OpenRouter's /models pricing at startup instead of this table.
var modelPricing = map[string]ModelPricing{
	// Video models behind OpenRouter
	"google/gemini-2.5-flash": {PromptPrice: 0.30, CompletionPrice: 2.50},
	"google/gemini-2.5-pro":   {PromptPrice: 1.25, CompletionPrice: 10.00},
	"amazon/nova-pro-v1":      {PromptPrice: 0.80, CompletionPrice: 3.20},

	// Criteria generation
	"claude-sonnet-4-20250514": {PromptPrice: 3.00, CompletionPrice: 15.00},
	"claude-opus-4-1-20250805": {PromptPrice: 15.00, CompletionPrice: 75.00},
	"gpt-4o-mini":              {PromptPrice: 0.15, CompletionPrice: 0.60},
	"gpt-4o":                   {PromptPrice: 2.50, CompletionPrice: 10.00},

	// Embeddings bill prompt tokens only
	"text-embedding-3-large": {PromptPrice: 0.13},
	"text-embedding-3-small": {PromptPrice: 0.02},
}

// DefaultPricingFallback is charged per request when a model is unknown.
const DefaultPricingFallback = 0.01

// CalculateCost returns the USD cost of one call.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}
	return float64(promptTokens)/1_000_000*pricing.PromptPrice +
		float64(completionTokens)/1_000_000*pricing.CompletionPrice
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
