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
)

// ValidationResult is a policy decision for one candidate action.
type ValidationResult struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Penalty float64 `json:"penalty"`
}

// Allow returns an allowing result carrying penalty.
func Allow(penalty float64) ValidationResult {
	return ValidationResult{Allowed: true, Penalty: max(0, penalty)}
}

// Deny returns a rejecting result with reason.
func Deny(reason string) ValidationResult {
	return ValidationResult{Allowed: false, Reason: reason}
}

// Proposer produces candidate actions for a node.
//
// Implementations may return an empty slice. Duplicates are kept as-is.
type Proposer interface {
	Propose(ctx context.Context, node *SearchNode) ([]string, error)
}

// Validator approves or rejects a candidate action against a state.
//
// Implementations must not mutate state. An error drops the candidate.
type Validator interface {
	Validate(ctx context.Context, state SearchState, action string) (ValidationResult, error)
}

// Evaluator scores a node.
//
// Implementations may set node.Result but must not touch node.Reward or
// node.Visits.
type Evaluator interface {
	Evaluate(ctx context.Context, node *SearchNode) (float64, error)
}

// ExecRequest asks an Executor to apply one action to a text.
type ExecRequest struct {
	Action    string
	Text      string
	MaxLength int
	UseLLM    bool
}

// ExecResult is the output of a concrete action execution.
type ExecResult struct {
	Text    string  `json:"text"`
	Quality float64 `json:"quality"`
}

// Executor applies an action concretely and reports a quality signal.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Reflector explains an evaluation failure in a short sentence.
type Reflector interface {
	Reflect(ctx context.Context, errText, contextText string) (string, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, node *SearchNode) ([]string, error)

// Propose implements Proposer.
func (f ProposerFunc) Propose(ctx context.Context, node *SearchNode) ([]string, error) {
	return f(ctx, node)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, state SearchState, action string) (ValidationResult, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
	return f(ctx, state, action)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, node *SearchNode) (float64, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, node *SearchNode) (float64, error) {
	return f(ctx, node)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (ExecResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return f(ctx, req)
}

// ReflectorFunc adapts a function to Reflector.
type ReflectorFunc func(ctx context.Context, errText, contextText string) (string, error)

// Reflect implements Reflector.
func (f ReflectorFunc) Reflect(ctx context.Context, errText, contextText string) (string, error) {
	return f(ctx, errText, contextText)
}
