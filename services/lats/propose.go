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
	"fmt"

	"github.com/AleutianAI/lats/services/llm"
)

// proposeWithGenerator asks the generator for next actions. The reply is
// filtered to the action catalog and capped at MaxCandidates. Usage is
// charged to node.State, so children inherit the cost of proposing them.
func (s *LATSSearcher) proposeWithGenerator(ctx context.Context, node *SearchNode) ([]string, error) {
	prompt, err := render(proposePrompt, promptData{
		Catalog:       s.cfg.ActionCatalog,
		History:       node.State.Actions(),
		LastFailure:   node.State.LastFailureReason,
		MaxCandidates: s.cfg.MaxCandidates,
		Source:        truncateForObs(s.currentText(node), sourcePreviewLen),
	})
	if err != nil {
		return nil, err
	}

	gen, err := s.generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0.7),
		MaxTokens:   llm.Int(s.cfg.ProposeMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("propose with generator: %w", err)
	}
	s.charge(node, gen.Usage)
	return parseActions(gen.Content, s.cfg.ActionCatalog, s.cfg.MaxCandidates), nil
}
