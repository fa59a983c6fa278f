// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textops applies planner actions to text and grades the result.
package textops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/llm"
)

// ErrUnknownAction is returned for actions the executor does not implement.
var ErrUnknownAction = errors.New("unknown action")

// Action names.
const (
	TrimWhitespace   = "trim_whitespace"
	CollapseSpaces   = "collapse_spaces"
	DedupeLines      = "dedupe_lines"
	StripHTML        = "strip_html"
	StripMarkdown    = "strip_markdown"
	NormalizeUnicode = "normalize_unicode"
	Truncate         = "truncate"
	Summarize        = "summarize"
)

// Quality grades.
const (
	qualityDestroyed = 0.0
	qualityGutted    = 0.2
	qualityNoop      = 0.3
	qualityChanged   = 0.7
	qualityFits      = 0.3
)

type transform func(e *Executor, ctx context.Context, req lats.ExecRequest) (string, error)

var transforms = map[string]transform{
	TrimWhitespace:   func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return trimWhitespace(r.Text), nil },
	CollapseSpaces:   func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return collapseSpaces(r.Text), nil },
	DedupeLines:      func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return dedupeLines(r.Text), nil },
	NormalizeUnicode: func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return normalizeUnicode(r.Text), nil },
	StripHTML:        func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return stripHTML(r.Text) },
	StripMarkdown:    func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return stripMarkdown(r.Text) },
	Truncate:         func(_ *Executor, _ context.Context, r lats.ExecRequest) (string, error) { return truncate(r.Text, r.MaxLength) },
	Summarize:        (*Executor).summarize,
}

// Actions returns the supported action names, sorted.
func Actions() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executor runs text clean-up actions.
//
// Every action is deterministic unless the request sets UseLLM and a
// generator is configured, in which case summarize asks the model.
//
// Thread Safety: Safe for concurrent use.
type Executor struct {
	generator     llm.Generator
	summaryTokens int
	chunkSize     int
	logger        *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithGenerator enables LLM summaries.
func WithGenerator(g llm.Generator) Option {
	return func(e *Executor) { e.generator = g }
}

// WithChunkSize sets the chunk size, in runes, used when splitting long
// text for summaries (default: 3000).
func WithChunkSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		summaryTokens: 256,
		chunkSize:     3000,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements lats.Executor.
//
// Outputs:
//   - lats.ExecResult: The transformed text and a quality in [0, 1].
//   - error: ErrUnknownAction (wrapped) for unsupported actions, the
//     context error, or a transform failure.
func (e *Executor) Execute(ctx context.Context, req lats.ExecRequest) (lats.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return lats.ExecResult{}, err
	}
	fn, ok := transforms[req.Action]
	if !ok {
		return lats.ExecResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	out, err := fn(e, ctx, req)
	if err != nil {
		return lats.ExecResult{}, fmt.Errorf("%s: %w", req.Action, err)
	}

	q := Quality(req.Text, out, req.MaxLength)
	e.logger.Debug("Executed text action",
		slog.String("action", req.Action),
		slog.Int("in_runes", utf8.RuneCountInString(req.Text)),
		slog.Int("out_runes", utf8.RuneCountInString(out)),
		slog.Float64("quality", q))
	return lats.ExecResult{Text: out, Quality: q}, nil
}

// Quality grades a transformation of in into out.
//
// Blanking non-empty text scores 0 and keeping under 5% of it scores 0.2.
// A no-op scores 0.3. Any other change scores 0.7, plus 0.3 when the
// result fits maxLength (maxLength <= 0 means no limit).
func Quality(in, out string, maxLength int) float64 {
	inLen := utf8.RuneCountInString(strings.TrimSpace(in))
	outLen := utf8.RuneCountInString(strings.TrimSpace(out))

	switch {
	case outLen == 0 && inLen > 0:
		return qualityDestroyed
	case out == in:
		return qualityNoop
	case inLen > 0 && outLen*20 < inLen:
		return qualityGutted
	}
	q := qualityChanged
	if maxLength <= 0 || utf8.RuneCountInString(out) <= maxLength {
		q += qualityFits
	}
	return q
}

var _ lats.Executor = (*Executor)(nil)
