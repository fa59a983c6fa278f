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
	"sync"
)

// validationOutcome pairs a candidate with its decision. ok is false when
// the validator failed and the candidate must be dropped.
type validationOutcome struct {
	action string
	result ValidationResult
	ok     bool
}

// Expand turns node into validated children.
//
// Description:
//
//	Candidates come from the proposer hook, or from the generator when no
//	proposer is set. Each is validated against node.State; a validator
//	error drops only that candidate. The last rejection reason is recorded
//	on node.State before children are created so they inherit it. Every
//	allowed candidate becomes a child seeded with reward -penalty.
//
// Inputs:
//   - ctx: Passed to the proposer and validator hooks.
//   - node: The leaf to expand. Mutated: gains children.
//
// Outputs:
//   - []*SearchNode: The new children in candidate order. May be empty.
func (s *LATSSearcher) Expand(ctx context.Context, node *SearchNode) []*SearchNode {
	ctx, span := s.tracer.TraceExpand(ctx, node)
	defer span.End()
	logger := LoggerWithTrace(ctx, s.logger)

	candidates, err := s.propose(ctx, node)
	if err != nil {
		logger.Warn("Proposal failed, evaluating leaf directly",
			slog.String("node_id", node.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	outcomes := s.validateAll(ctx, node.State, candidates)

	lastReason := ""
	for _, o := range outcomes {
		if o.ok && !o.result.Allowed && o.result.Reason != "" {
			lastReason = o.result.Reason
		}
	}
	if lastReason != "" {
		node.State = node.State.WithFailureReason(lastReason)
	}

	var children []*SearchNode
	for _, o := range outcomes {
		if !o.ok || !o.result.Allowed {
			continue
		}
		child := NewSearchNode(node.State.AddTurn(o.action), o.action, node)
		child.Reward = -o.result.Penalty
		children = append(children, child)
	}

	s.count(func(st *Stats) { st.NodesCreated += len(children) })
	logger.Debug("Expanded node",
		slog.String("node_id", node.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("children", len(children)),
	)
	return children
}

// propose asks the proposer hook, falling back to the generator.
func (s *LATSSearcher) propose(ctx context.Context, node *SearchNode) (actions []string, err error) {
	switch {
	case s.proposer != nil:
		defer recoverHook("proposer", &err)
		return s.proposer.Propose(ctx, node)
	case s.generator != nil:
		return s.proposeWithGenerator(ctx, node)
	default:
		return nil, nil
	}
}

// validateAll validates candidates against state. A single candidate is
// validated inline; larger batches fan out under the shared semaphore.
// Outcomes are returned in candidate order.
func (s *LATSSearcher) validateAll(ctx context.Context, state SearchState, candidates []string) []validationOutcome {
	outcomes := make([]validationOutcome, len(candidates))

	if s.validator == nil {
		for i, a := range candidates {
			outcomes[i] = validationOutcome{action: a, result: Allow(0), ok: true}
		}
		return outcomes
	}

	if len(candidates) == 1 {
		outcomes[0] = s.validateOne(ctx, state, candidates[0])
		return outcomes
	}

	var wg sync.WaitGroup
	wg.Add(len(candidates))
	for i, a := range candidates {
		go func() {
			defer wg.Done()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.recordValidationError(ctx, a, err)
				outcomes[i] = validationOutcome{action: a}
				return
			}
			defer s.sem.Release(1)
			outcomes[i] = s.validateOne(ctx, state, a)
		}()
	}
	wg.Wait()
	return outcomes
}

// validateOne calls the validator for one candidate. Each call receives
// its own copy of state so a misbehaving validator cannot leak mutations.
func (s *LATSSearcher) validateOne(ctx context.Context, state SearchState, action string) validationOutcome {
	result, err := s.callValidator(ctx, state.Clone(), action)
	if err != nil {
		s.recordValidationError(ctx, action, err)
		return validationOutcome{action: action}
	}
	if result.Allowed {
		validationsTotal.WithLabelValues("allowed").Inc()
	} else {
		validationsTotal.WithLabelValues("denied").Inc()
		s.count(func(st *Stats) { st.ValidationRejections++ })
	}
	result.Penalty = max(0, result.Penalty)
	return validationOutcome{action: action, result: result, ok: true}
}

func (s *LATSSearcher) callValidator(ctx context.Context, state SearchState, action string) (result ValidationResult, err error) {
	defer recoverHook("validator", &err)
	result, err = s.validator.Validate(ctx, state, action)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate %q: %w", action, err)
	}
	return result, nil
}

func (s *LATSSearcher) recordValidationError(ctx context.Context, action string, err error) {
	validationsTotal.WithLabelValues("error").Inc()
	s.count(func(st *Stats) { st.ValidationErrors++ })
	LoggerWithTrace(ctx, s.logger).Warn("Validation failed, dropping candidate",
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
}
