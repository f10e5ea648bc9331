package ai

// Pricing in USD per 1K tokens. Unknown models fall back to the default rate
// so cost tracking keeps working when the configured model changes.
var pricing = map[string]struct {
	input  float64
	output float64
}{
	"gpt-4o-mini":   {input: 0.00015, output: 0.0006},
	"gpt-4o":        {input: 0.0025, output: 0.01},
	"gpt-4":         {input: 0.03, output: 0.06},
	"gpt-3.5-turbo": {input: 0.0005, output: 0.0015},
}

const defaultPricingModel = "gpt-4o-mini"

// CalculateCost returns the USD cost of one completion.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := pricing[model]
	if !ok {
		rate = pricing[defaultPricingModel]
	}
	return float64(inputTokens)/1000*rate.input + float64(outputTokens)/1000*rate.output
}
