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
	"context"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "aleutian.lats"

// Tracer provides OpenTelemetry spans for search phases.
//
// When disabled every method returns a no-op span, so callers never need
// to check.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	enabled bool
}

// NewTracer creates a tracer backed by the global OTel provider.
func NewTracer(enabled bool) *Tracer {
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		enabled: enabled,
	}
}

// StartRun starts the span covering a whole Run call.
func (t *Tracer) StartRun(ctx context.Context, cfg Config, initial SearchState) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "lats.run",
		trace.WithAttributes(
			attribute.Int("lats.max_visits", cfg.MaxVisits),
			attribute.Int("lats.max_depth", cfg.MaxDepth),
			attribute.Int("lats.token_budget", cfg.TokenBudget),
			attribute.Float64("lats.cost_budget", cfg.CostBudget),
			attribute.Int("lats.initial_depth", initial.Depth()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun records the outcome and ends the run span.
func (t *Tracer) EndRun(span trace.Span, best *SearchNode, stats Stats, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("lats.result.iterations", stats.Iterations),
		attribute.Int("lats.result.nodes", stats.NodesCreated),
		attribute.Int("lats.result.evaluations", stats.Evaluations),
		attribute.Int("lats.result.evaluation_failures", stats.EvaluationFailures),
	)
	if best != nil {
		span.SetAttributes(
			attribute.Float64("lats.result.best_reward", best.Reward),
			attribute.Int("lats.result.best_depth", best.Depth()),
		)
	}
	span.End()
}

// TraceIteration starts a span for one iteration.
func (t *Tracer) TraceIteration(ctx context.Context, iteration int) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "lats.iteration",
		trace.WithAttributes(attribute.Int("lats.iteration", iteration)),
	)
}

// TraceExpand starts a span for expanding node.
func (t *Tracer) TraceExpand(ctx context.Context, node *SearchNode) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "lats.expand",
		trace.WithAttributes(
			attribute.String("lats.node_id", node.ID),
			attribute.Int("lats.node_depth", node.Depth()),
		),
	)
}

// TraceEvaluate starts a span for evaluating node.
func (t *Tracer) TraceEvaluate(ctx context.Context, node *SearchNode) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "lats.evaluate",
		trace.WithAttributes(
			attribute.String("lats.node_id", node.ID),
			attribute.String("lats.action", node.Action),
		),
	)
}

// EndEvaluate records the evaluation outcome.
func (t *Tracer) EndEvaluate(span trace.Span, effective float64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
	}
	span.SetAttributes(attribute.Float64("lats.effective_reward", effective))
	span.End()
}

// truncateForObs shortens s to at most maxLen bytes without splitting a
// rune, marking the cut with "..." when there is room for it.
func truncateForObs(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut, suffix := maxLen-3, "..."
	if maxLen <= 3 {
		cut, suffix = max(maxLen, 0), ""
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

// LoggerWithTrace returns a logger with trace context.
//
// Inputs:
//   - ctx: Context that may contain trace information.
//   - logger: Base logger.
//
// Outputs:
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
