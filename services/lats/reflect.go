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
	"strings"

	"github.com/AleutianAI/lats/services/llm"
)

const fallbackErrorPrefixLen = 120

// Reflect returns a short explanation of an evaluation failure.
//
// Description:
//
//	Uses the reflector hook when set, else a low-token generator call.
//	When neither is available, or both fail or reply with nothing, a fixed
//	message echoing the start of errText is returned.
//
// Outputs:
//   - string: Never empty.
func (s *LATSSearcher) Reflect(ctx context.Context, errText, contextText string) string {
	logger := LoggerWithTrace(ctx, s.logger)

	if s.reflector != nil {
		text, err := s.callReflector(ctx, errText, contextText)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			logger.Debug("Reflector failed", slog.String("error", err.Error()))
		}
	} else if s.generator != nil {
		text, err := s.reflectWithGenerator(ctx, errText, contextText)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			logger.Debug("Generator reflection failed", slog.String("error", err.Error()))
		}
	}
	return fallbackReflection(errText)
}

func (s *LATSSearcher) callReflector(ctx context.Context, errText, contextText string) (text string, err error) {
	defer recoverHook("reflector", &err)
	return s.reflector.Reflect(ctx, errText, contextText)
}

func (s *LATSSearcher) reflectWithGenerator(ctx context.Context, errText, contextText string) (string, error) {
	prompt, err := render(reflectPrompt, promptData{
		Error:   truncateForObs(errText, 500),
		Context: contextText,
	})
	if err != nil {
		return "", err
	}
	gen, err := s.generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0.2),
		MaxTokens:   llm.Int(s.cfg.ReflectMaxTokens),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(gen.Content), nil
}

func fallbackReflection(errText string) string {
	errText = strings.TrimSpace(errText)
	if errText == "" {
		errText = "unknown error"
	}
	return "Evaluation failed: " + truncateForObs(errText, fallbackErrorPrefixLen)
}
