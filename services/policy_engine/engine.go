// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine decides which planner actions are allowed, using
// rules and data classification patterns embedded in the binary.
package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/policy_engine/enforcement"
)

// PublicClassification is returned when no pattern matches.
const PublicClassification = "public"

// PolicyEngine validates candidate actions against the action rules.
//
// Thread Safety: Safe for concurrent use after construction.
type PolicyEngine struct {
	Rules       []Rule
	Classifiers []Classification

	classification string
	logger         *slog.Logger
}

// Option configures a PolicyEngine.
type Option func(*PolicyEngine)

// WithSourceText classifies text once so that deny_if_classified rules can
// refer to it.
func WithSourceText(text string) Option {
	return func(e *PolicyEngine) {
		e.classification = e.ClassifyData([]byte(text))
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *PolicyEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewPolicyEngine builds an engine from the embedded policy files.
func NewPolicyEngine(opts ...Option) (*PolicyEngine, error) {
	return NewPolicyEngineFromBytes(enforcement.ActionPolicy, enforcement.DataClassificationPatterns, opts...)
}

// NewPolicyEngineFromBytes builds an engine from raw YAML.
//
// Inputs:
//   - policy: Action rules YAML.
//   - patterns: Data classification YAML. May be empty.
//   - opts: Engine options, applied after the files are loaded.
//
// Outputs:
//   - *PolicyEngine: The compiled engine.
//   - error: Non-nil if either file fails to parse or compile.
func NewPolicyEngineFromBytes(policy, patterns []byte, opts ...Option) (*PolicyEngine, error) {
	var policyFile PolicyFile
	if err := yaml.Unmarshal(policy, &policyFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the action policy: %w", err)
	}
	if err := policyFile.Compile(); err != nil {
		return nil, fmt.Errorf("failed to compile the action policy: %w", err)
	}
	policyFile.SortByPriority()

	var classificationFile ClassificationFile
	if len(patterns) > 0 {
		if err := yaml.Unmarshal(patterns, &classificationFile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal the classification patterns: %w", err)
		}
		if err := classificationFile.CompileRegexes(); err != nil {
			return nil, fmt.Errorf("failed to compile a regex %w", err)
		}
		classificationFile.SortByPriority()
	}

	engine := &PolicyEngine{
		Rules:          policyFile.Rules,
		Classifiers:    classificationFile.ClassificationPatterns,
		classification: PublicClassification,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Classification returns the class assigned to the source text.
func (e *PolicyEngine) Classification() string {
	return e.classification
}

// Validate implements lats.Validator.
//
// Rules are checked in priority order. The first firing deny rule rejects
// the action with its reason; firing penalize rules add up.
func (e *PolicyEngine) Validate(ctx context.Context, state lats.SearchState, action string) (lats.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return lats.ValidationResult{}, err
	}
	d := e.Decide(state, action)
	if !d.Allowed {
		e.logger.Debug("Policy denied action",
			slog.String("action", action),
			slog.String("reason", d.Reason),
			slog.Any("rules", d.RuleIDs))
		return lats.Deny(d.Reason), nil
	}
	return lats.Allow(d.Penalty), nil
}

// Decide evaluates action against state and explains the outcome.
func (e *PolicyEngine) Decide(state lats.SearchState, action string) Decision {
	d := Decision{Action: action, Allowed: true}
	for i := range e.Rules {
		rule := &e.Rules[i]
		if !rule.matches(action) || !e.fires(rule, state, action) {
			continue
		}
		switch rule.Effect {
		case Deny:
			return Decision{
				Action:  action,
				Allowed: false,
				Reason:  rule.reason(),
				RuleIDs: []string{rule.ID},
			}
		case Penalize:
			d.Penalty += rule.Penalty
			d.RuleIDs = append(d.RuleIDs, rule.ID)
		}
	}
	return d
}

// CheckPlan replays actions from an empty state and reports each decision.
// A denied action is not applied, matching how the planner prunes it.
func (e *PolicyEngine) CheckPlan(actions []string) []Decision {
	state := lats.NewSearchState()
	decisions := make([]Decision, 0, len(actions))
	for _, a := range actions {
		d := e.Decide(state, a)
		decisions = append(decisions, d)
		if d.Allowed {
			state = state.AddTurn(a)
		} else {
			state = state.WithFailureReason(d.Reason)
		}
	}
	return decisions
}

func (r *Rule) matches(action string) bool {
	if len(r.Actions) == 0 && r.compiledPattern == nil {
		return true
	}
	if slices.Contains(r.Actions, action) {
		return true
	}
	return r.compiledPattern != nil && r.compiledPattern.MatchString(action)
}

// fires reports whether every condition set on rule holds.
func (e *PolicyEngine) fires(rule *Rule, state lats.SearchState, action string) bool {
	if rule.MaxRepeats > 0 && state.CountAction(action) < rule.MaxRepeats {
		return false
	}
	if len(rule.Requires) > 0 && !missingAny(state, rule.Requires) {
		return false
	}
	if len(rule.ForbidAfter) > 0 && !appliedAny(state, rule.ForbidAfter) {
		return false
	}
	if len(rule.DenyIfClassified) > 0 && !slices.Contains(rule.DenyIfClassified, e.classification) {
		return false
	}
	return true
}

func (r *Rule) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return fmt.Sprintf("denied by policy rule %s", r.ID)
}

func missingAny(state lats.SearchState, actions []string) bool {
	for _, a := range actions {
		if state.CountAction(a) == 0 {
			return true
		}
	}
	return false
}

func appliedAny(state lats.SearchState, actions []string) bool {
	for _, a := range actions {
		if state.CountAction(a) > 0 {
			return true
		}
	}
	return false
}

// ClassifyData returns the highest priority class matching data, or
// PublicClassification.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, pattern := range classifier.Patterns {
			if pattern.compiledPattern.Match(data) {
				return classifier.Name
			}
		}
	}
	return PublicClassification
}

// ScanText reports every sensitive match, line by line.
func (e *PolicyEngine) ScanText(content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classifier.Name,
					PatternID:          pattern.ID,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

var _ lats.Validator = (*PolicyEngine)(nil)
