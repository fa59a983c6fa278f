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

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// GuardConfig configures rate limiting and the circuit breaker around a
// Generator.
type GuardConfig struct {
	// RequestsPerSecond caps call rate. Zero or negative disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`

	// Burst is the limiter bucket size (default: 1).
	Burst int `yaml:"burst" json:"burst" envconfig:"BURST"`

	Breaker CircuitBreakerConfig `yaml:"breaker" json:"breaker" envconfig:"BREAKER"`
}

// GuardedGenerator wraps a Generator with a token bucket and a circuit
// breaker.
//
// Thread Safety: Safe for concurrent use.
type GuardedGenerator struct {
	inner   Generator
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewGuardedGenerator wraps inner.
//
// Inputs:
//   - inner: The backend to protect. Must not be nil.
//   - cfg: Limits and breaker thresholds.
//   - logger: Logger for breaker transitions. Nil uses slog.Default().
func NewGuardedGenerator(inner Generator, cfg GuardConfig, logger *slog.Logger) *GuardedGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := NewCircuitBreaker(cfg.Breaker)
	breaker.OnStateChange = func(from, to CircuitState) {
		logger.Warn("LLM circuit breaker state change",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}

	return &GuardedGenerator{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for inspection.
func (g *GuardedGenerator) Breaker() *CircuitBreaker {
	return g.breaker
}

// Generate implements Generator.
//
// Outputs:
//   - error: ErrCircuitOpen when the breaker rejects, the limiter's
//     context error when waiting is cancelled, or the backend error.
func (g *GuardedGenerator) Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Generation{}, fmt.Errorf("rate limit wait: %w", err)
	}

	ok, done := g.breaker.Allow()
	if !ok {
		return Generation{}, ErrCircuitOpen
	}

	gen, err := g.inner.Generate(ctx, prompt, params)
	// A cancelled caller says nothing about backend health.
	if err != nil && ctx.Err() != nil {
		done(true)
		return Generation{}, err
	}
	done(err == nil)
	return gen, err
}
