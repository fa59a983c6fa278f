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
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/AleutianAI/lats/services/llm"
)

const (
	// failureScore replaces the raw score when evaluation errors.
	failureScore = -1.0

	sourcePreviewLen = 400
)

// Evaluate scores node and folds the result into node.Reward.
//
// Description:
//
//	The raw score comes from the evaluator hook, else a generator scoring
//	call, else 0. If an executor is set and the node has an action, the
//	action is run in fast mode and a quality below QualityThreshold costs
//	ValidationPenalty; executor failures are ignored. A scoring error sets
//	node.Reflection and forces the score to -1.
//
//	effective = score + node.Reward when node.Reward < 0, else score.
//	A negative score overwrites node.Reward with effective; otherwise
//	node.Reward only moves up to effective.
//
// Inputs:
//   - ctx: Passed to hooks.
//   - node: Node to evaluate. Mutated: Reward, and possibly Reflection,
//     Result and State budget counters.
//
// Outputs:
//   - float64: The effective reward.
func (s *LATSSearcher) Evaluate(ctx context.Context, node *SearchNode) float64 {
	ctx, span := s.tracer.TraceEvaluate(ctx, node)

	score, err := s.rawScore(ctx, node)
	if err == nil {
		score = s.concretePass(ctx, node, score)
	}
	effective := s.settle(ctx, node, score, err)

	s.tracer.EndEvaluate(span, effective, err)
	return effective
}

// settle applies the reward update rule. A non-nil err replaces score
// with failureScore and attaches a reflection.
func (s *LATSSearcher) settle(ctx context.Context, node *SearchNode, score float64, err error) float64 {
	if err != nil {
		LoggerWithTrace(ctx, s.logger).Warn("Evaluation failed",
			slog.String("node_id", node.ID),
			slog.String("action", node.Action),
			slog.String("error", err.Error()),
		)
		node.Reflection = s.Reflect(ctx, err.Error(), reflectionContext(node))
		score = failureScore
		evaluationsTotal.WithLabelValues("failure").Inc()
		s.count(func(st *Stats) {
			st.Evaluations++
			st.EvaluationFailures++
		})
	} else {
		evaluationsTotal.WithLabelValues("success").Inc()
		s.count(func(st *Stats) { st.Evaluations++ })
	}

	effective := score
	if node.Reward < 0 {
		effective = score + node.Reward
	}
	if score < 0 {
		node.Reward = effective
	} else {
		node.Reward = max(node.Reward, effective)
	}
	return effective
}

// EvaluateAll evaluates nodes concurrently, each holding one slot of the
// shared semaphore, and returns their effective rewards in input order.
//
// A node that cannot acquire a slot because ctx is done is settled as a
// failed evaluation.
func (s *LATSSearcher) EvaluateAll(ctx context.Context, nodes []*SearchNode) []float64 {
	rewards := make([]float64, len(nodes))

	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for i, node := range nodes {
		go func() {
			defer wg.Done()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				rewards[i] = s.settle(ctx, node, 0, fmt.Errorf("acquire evaluation slot: %w", err))
				return
			}
			defer s.sem.Release(1)
			rewards[i] = s.Evaluate(ctx, node)
		}()
	}
	wg.Wait()
	return rewards
}

// rawScore computes the unadjusted score for node.
func (s *LATSSearcher) rawScore(ctx context.Context, node *SearchNode) (float64, error) {
	switch {
	case s.evaluator != nil:
		return s.callEvaluator(ctx, node)
	case s.generator != nil:
		return s.scoreWithGenerator(ctx, node)
	default:
		return 0, nil
	}
}

func (s *LATSSearcher) callEvaluator(ctx context.Context, node *SearchNode) (score float64, err error) {
	defer recoverHook("evaluator", &err)
	score, err = s.evaluator.Evaluate(ctx, node)
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("evaluator returned non-finite score %v", score)
	}
	return score, nil
}

// scoreWithGenerator asks the generator to rate node's action. Reported
// usage is charged to node.State.
func (s *LATSSearcher) scoreWithGenerator(ctx context.Context, node *SearchNode) (float64, error) {
	action := node.Action
	if !node.HasAction() {
		action = "(none)"
	}
	prompt, err := render(scorePrompt, promptData{
		Action: action,
		Path:   node.ActionPath(),
		Source: truncateForObs(s.inputText(node), sourcePreviewLen),
	})
	if err != nil {
		return 0, err
	}

	gen, err := s.generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(s.cfg.ScoreMaxTokens),
	})
	if err != nil {
		return 0, fmt.Errorf("score with generator: %w", err)
	}
	s.charge(node, gen.Usage)
	return parseScore(gen.Content), nil
}

// concretePass runs node's action through the executor in fast mode and
// penalizes a low quality result. It never fails.
func (s *LATSSearcher) concretePass(ctx context.Context, node *SearchNode, score float64) float64 {
	if s.executor == nil || !node.HasAction() {
		return score
	}

	res, err := s.callExecutor(ctx, ExecRequest{
		Action:    node.Action,
		Text:      s.inputText(node),
		MaxLength: s.cfg.MaxTextLength,
		UseLLM:    false,
	})
	if err != nil {
		LoggerWithTrace(ctx, s.logger).Debug("Concrete validation skipped",
			slog.String("action", node.Action),
			slog.String("error", err.Error()),
		)
		return score
	}

	if node.Result == nil {
		node.Result = res
	}
	if res.Quality < s.cfg.QualityThreshold {
		score -= s.cfg.ValidationPenalty
	}
	return score
}

func (s *LATSSearcher) callExecutor(ctx context.Context, req ExecRequest) (res ExecResult, err error) {
	defer recoverHook("executor", &err)
	return s.executor.Execute(ctx, req)
}

// inputText is the text node's action applies to: the nearest ancestor's
// result text, else the source text.
func (s *LATSSearcher) inputText(node *SearchNode) string {
	for p := node.parent; p != nil; p = p.parent {
		if text, ok := p.ResultText(); ok {
			return text
		}
	}
	return s.sourceText
}

// currentText is the text as it stands after node's action.
func (s *LATSSearcher) currentText(node *SearchNode) string {
	if text, ok := node.ResultText(); ok {
		return text
	}
	return s.inputText(node)
}

// generate calls the generator with panic recovery.
func (s *LATSSearcher) generate(ctx context.Context, prompt string, params llm.GenerationParams) (gen llm.Generation, err error) {
	if s.generator == nil {
		return llm.Generation{}, ErrNoGenerator
	}
	defer recoverHook("generator", &err)
	return s.generator.Generate(ctx, prompt, params)
}

// charge advances node's budget counters by usage.
func (s *LATSSearcher) charge(node *SearchNode, usage *llm.Usage) {
	if usage == nil {
		return
	}
	node.State = node.State.UpdateBudget(usage.TotalTokens, usage.CostUSD)
}

func reflectionContext(node *SearchNode) string {
	path := node.ActionPath()
	if len(path) == 0 {
		return "root state"
	}
	return "action path: " + strings.Join(path, " -> ")
}
