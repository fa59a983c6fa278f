// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textops

import (
	"context"
	"fmt"
	"regexp"

	"github.com/AleutianAI/lats/services/lats"
)

// Scorer is a model-free lats.Evaluator. It replays a node's action path
// over the source text and rewards paths that bring the text within the
// length limit while each step stays useful and markup is cleared.
//
// The score is the mean of three parts in [0, 1]:
//
//	fit      1 when the result fits maxLength, else maxLength/len
//	quality  the Quality of the node's own action
//	clean    1 minus the share of runes that are markup
type Scorer struct {
	exec      *Executor
	source    string
	maxLength int
}

// NewScorer creates a Scorer over source.
func NewScorer(exec *Executor, source string, maxLength int) *Scorer {
	return &Scorer{exec: exec, source: source, maxLength: maxLength}
}

// Apply runs actions over text in order and returns the final text and
// the quality of the last step (1 for an empty plan).
func (s *Scorer) Apply(ctx context.Context, actions []string) (string, float64, error) {
	text := s.source
	quality := 1.0
	for i, action := range actions {
		res, err := s.exec.Execute(ctx, lats.ExecRequest{
			Action:    action,
			Text:      text,
			MaxLength: s.maxLength,
		})
		if err != nil {
			return "", 0, fmt.Errorf("step %d: %w", i+1, err)
		}
		text, quality = res.Text, res.Quality
	}
	return text, quality, nil
}

// Evaluate implements lats.Evaluator.
func (s *Scorer) Evaluate(ctx context.Context, node *lats.SearchNode) (float64, error) {
	text, quality, err := s.Apply(ctx, node.ActionPath())
	if err != nil {
		return 0, err
	}
	fit := 1.0
	if n := runeLen(text); s.maxLength > 0 && n > s.maxLength {
		fit = float64(s.maxLength) / float64(n)
	}
	return (fit + quality + Cleanliness(text)) / 3, nil
}

// markupPattern matches HTML tags, comments and entities plus the common
// markdown markers: headings, emphasis, fences and link targets.
var markupPattern = regexp.MustCompile(
	`(?m)<!--[\s\S]*?-->|</?[a-zA-Z][^>]*>|&(?:[a-zA-Z]+|#\d+);|^ {0,3}#{1,6} |\*\*|__|` + "```" + `|\]\([^)\s]*\)`)

// Cleanliness is 1 minus the fraction of runes in text matched as markup.
// Empty text is clean.
func Cleanliness(text string) float64 {
	total := runeLen(text)
	if total == 0 {
		return 1
	}
	markup := 0
	for _, m := range markupPattern.FindAllString(text, -1) {
		markup += runeLen(m)
	}
	return 1 - float64(markup)/float64(total)
}

var _ lats.Evaluator = (*Scorer)(nil)
