package llms

import "strings"

// modelPricing is USD per million tokens.
type modelPricing struct {
	Input  float64
	Output float64
}

// pricingTable covers the models the pipeline is configured with.
// Unknown models report zero cost rather than guessing.
var pricingTable = map[string]modelPricing{
	"gpt-4o":        {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
	"gpt-4.1":       {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":  {Input: 0.40, Output: 1.60},
	"gpt-4.1-nano":  {Input: 0.10, Output: 0.40},
	"o3-mini":       {Input: 1.10, Output: 4.40},
}

// CostFor computes the dollar cost of a completion. Dated model ids
// (gpt-4o-2024-08-06) match their base entry.
func CostFor(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := pricingTable[model]
	if !ok {
		// Longest base wins so gpt-4o-mini-2024-07-18 does not price as
		// gpt-4o.
		best := ""
		for base, p := range pricingTable {
			if strings.HasPrefix(model, base+"-") && len(base) > len(best) {
				best = base
				pricing = p
				ok = true
			}
		}
	}
	if !ok {
		return 0
	}
	return float64(inputTokens)*pricing.Input/1e6 + float64(outputTokens)*pricing.Output/1e6
}
