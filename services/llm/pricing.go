// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "strings"

// Pricing is USD cost per one million tokens.
type Pricing struct {
	InputPerM  float64 `yaml:"input_per_m" json:"input_per_m"`
	OutputPerM float64 `yaml:"output_per_m" json:"output_per_m"`
}

var defaultPricing = map[string]Pricing{
	"gpt-4o":       {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":  {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4.1":      {InputPerM: 2.00, OutputPerM: 8.00},
	"gpt-4.1-mini": {InputPerM: 0.40, OutputPerM: 1.60},
	"gpt-4.1-nano": {InputPerM: 0.10, OutputPerM: 0.40},

	"claude-3-5-haiku":  {InputPerM: 0.80, OutputPerM: 4.00},
	"claude-3-5-sonnet": {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-sonnet-4":   {InputPerM: 3.00, OutputPerM: 15.00},
}

// ResolvePricing returns the pricing for model. Dated snapshots such as
// "gpt-4o-mini-2024-07-18" resolve to their base model. Unknown models (and
// local backends) are free.
func ResolvePricing(model string) Pricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	best := ""
	for name := range defaultPricing {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return defaultPricing[best]
	}
	return Pricing{}
}

// Cost converts token counts to USD.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return p.InputPerM*float64(promptTokens)/1_000_000.0 +
		p.OutputPerM*float64(completionTokens)/1_000_000.0
}

// NewUsage builds a Usage with cost computed from p.
func (p Pricing) NewUsage(promptTokens, completionTokens int) *Usage {
	return &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          p.Cost(promptTokens, completionTokens),
	}
}
