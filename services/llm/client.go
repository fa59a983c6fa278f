// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the content generation backends used by the planner
// for scoring, proposing and reflecting.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when a backend produced no choices.
	ErrEmptyResponse = errors.New("llm returned no content")

	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("llm circuit breaker is open")

	// ErrMissingAPIKey is returned when a hosted backend has no credentials.
	ErrMissingAPIKey = errors.New("llm api key not configured")
)

// GenerationParams holds per-call sampling options. Nil fields use the
// backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Usage reports the resources consumed by one generation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Generation is the result of one call.
type Generation struct {
	Content string `json:"content"`

	// Usage is nil when the backend does not report accounting.
	Usage *Usage `json:"usage,omitempty"`
}

// Generator is the content generation capability.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, params GenerationParams) (Generation, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error) {
	return f(ctx, prompt, params)
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }
