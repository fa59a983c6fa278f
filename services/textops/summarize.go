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
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/llm"
)

var firstSentence = regexp.MustCompile(`^(.+?[.!?])(?:\s|$)`)

// summarize condenses text to the request's MaxLength, or to half its
// length when no limit is set.
func (e *Executor) summarize(ctx context.Context, req lats.ExecRequest) (string, error) {
	budget := req.MaxLength
	if budget <= 0 {
		budget = runeLen(req.Text) / 2
	}
	if budget <= 0 {
		return req.Text, nil
	}
	if req.UseLLM && e.generator != nil {
		return e.abstractive(ctx, req.Text, budget)
	}
	return extractive(req.Text, budget)
}

// extractive keeps the lead sentence of each paragraph while they fit the
// budget, falling back to a plain cut.
func extractive(text string, budget int) (string, error) {
	var parts []string
	used := 0
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		lead := para
		if m := firstSentence.FindStringSubmatch(para); m != nil {
			lead = m[1]
		}
		n := runeLen(lead)
		if len(parts) > 0 {
			n++
		}
		if used+n > budget {
			break
		}
		parts = append(parts, lead)
		used += n
	}
	if len(parts) == 0 {
		return truncate(text, budget)
	}
	return strings.Join(parts, "\n"), nil
}

// abstractive asks the generator to summarize each chunk of text, then cuts
// the joined summaries to the budget.
func (e *Executor) abstractive(ctx context.Context, text string, budget int) (string, error) {
	chunks, err := newSplitter(e.chunkSize, e.chunkSize/10).SplitText(text)
	if err != nil {
		return "", fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}
	per := max(budget/len(chunks), 1)

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := fmt.Sprintf(
			"Summarize the following text in at most %d characters. Reply with the summary only.\n\n%s",
			per, chunk)
		gen, err := e.generator.Generate(ctx, prompt, llm.GenerationParams{
			Temperature: llm.Float32(0.2),
			MaxTokens:   llm.Int(e.summaryTokens),
		})
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d: %w", i, err)
		}
		summaries = append(summaries, strings.TrimSpace(gen.Content))
	}
	e.logger.Debug("Summarized with generator",
		slog.Int("chunks", len(chunks)),
		slog.Int("budget", budget))
	return truncate(strings.Join(summaries, "\n"), budget)
}
