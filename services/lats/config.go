// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lats

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config configures a LATSSearcher.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after the
// searcher is created.
type Config struct {
	// MaxVisits bounds the number of search iterations.
	MaxVisits int `json:"max_visits" yaml:"max_visits" envconfig:"MAX_VISITS" validate:"gte=0"`

	// MaxDepth stops expansion of nodes at or below this depth.
	MaxDepth int `json:"max_depth" yaml:"max_depth" envconfig:"MAX_DEPTH" validate:"gte=1"`

	// ExplorationConstant is C in the UCB1 score.
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant" envconfig:"EXPLORATION_CONSTANT" validate:"gte=0"`

	// TokenBudget stops expansion of a branch once its state has consumed
	// this many tokens.
	TokenBudget int `json:"token_budget" yaml:"token_budget" envconfig:"TOKEN_BUDGET" validate:"gt=0"`

	// CostBudget stops expansion of a branch once its state has spent this
	// much (USD).
	CostBudget float64 `json:"cost_budget" yaml:"cost_budget" envconfig:"COST_BUDGET" validate:"gt=0"`

	// ConcurrencyLimit caps concurrent validator and evaluator calls.
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit" envconfig:"CONCURRENCY_LIMIT" validate:"gte=1"`

	// ValidationPenalty is subtracted from a score when concrete execution
	// reports a quality below QualityThreshold.
	ValidationPenalty float64 `json:"validation_penalty" yaml:"validation_penalty" envconfig:"VALIDATION_PENALTY" validate:"gte=0"`

	// QualityThreshold is the executor quality needed to pass.
	QualityThreshold float64 `json:"quality_threshold" yaml:"quality_threshold" envconfig:"QUALITY_THRESHOLD" validate:"gte=0,lte=1"`

	// MaxTextLength is passed to the executor as the output length limit.
	MaxTextLength int `json:"max_text_length" yaml:"max_text_length" envconfig:"MAX_TEXT_LENGTH" validate:"gte=1"`

	// ActionCatalog lists the action names the LLM proposer may choose
	// from. Empty means unrestricted.
	ActionCatalog []string `json:"action_catalog" yaml:"action_catalog" envconfig:"ACTION_CATALOG"`

	// MaxCandidates caps the number of LLM-proposed actions per expansion.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" envconfig:"MAX_CANDIDATES" validate:"gte=1"`

	// Token caps for the fallback generator calls.
	ProposeMaxTokens int `json:"propose_max_tokens" yaml:"propose_max_tokens" envconfig:"PROPOSE_MAX_TOKENS" validate:"gte=1"`
	ScoreMaxTokens   int `json:"score_max_tokens" yaml:"score_max_tokens" envconfig:"SCORE_MAX_TOKENS" validate:"gte=1"`
	ReflectMaxTokens int `json:"reflect_max_tokens" yaml:"reflect_max_tokens" envconfig:"REFLECT_MAX_TOKENS" validate:"gte=1"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxVisits:           20,
		MaxDepth:            4,
		ExplorationConstant: 1.41,
		TokenBudget:         50000,
		CostBudget:          1.0,
		ConcurrencyLimit:    4,
		ValidationPenalty:   0.2,
		QualityThreshold:    0.5,
		MaxTextLength:       2000,
		ActionCatalog: []string{
			"trim_whitespace",
			"collapse_spaces",
			"dedupe_lines",
			"strip_html",
			"strip_markdown",
			"normalize_unicode",
			"truncate",
			"summarize",
		},
		MaxCandidates:    3,
		ProposeMaxTokens: 96,
		ScoreMaxTokens:   12,
		ReflectMaxTokens: 48,
	}
}

var configValidator = validator.New()

// Validate checks that the configuration is usable.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig if any field is out of range.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
