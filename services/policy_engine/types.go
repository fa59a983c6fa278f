// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Effect is what a firing rule does to a candidate action.
type Effect string

const (
	Deny     Effect = "deny"
	Penalize Effect = "penalize"
)

// UnmarshalYAML rejects unknown effects at load time.
func (e *Effect) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch incoming := Effect(s); incoming {
	case Deny, Penalize:
		*e = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for effect: %q", incoming)
	}
}

// ConfidenceLevel grades a classification pattern.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// UnmarshalYAML rejects unknown confidence levels at load time.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch incoming := ConfidenceLevel(s); incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", incoming)
	}
}

// PolicyFile is the parsed form of an action policy.
type PolicyFile struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Rule matches candidate actions and, when all of its conditions hold,
// denies or penalizes them.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description,omitempty"`
	Priority    int    `yaml:"priority" json:"priority"`
	Effect      Effect `yaml:"effect" json:"effect"`

	// Actions and Pattern select the candidates a rule applies to. With
	// neither set the rule applies to every action.
	Actions []string `yaml:"actions" json:"actions,omitempty"`
	Pattern string   `yaml:"pattern" json:"pattern,omitempty"`

	// Conditions. Every one that is set must hold for the rule to fire.
	MaxRepeats       int      `yaml:"max_repeats" json:"max_repeats,omitempty"`
	Requires         []string `yaml:"requires" json:"requires,omitempty"`
	ForbidAfter      []string `yaml:"forbid_after" json:"forbid_after,omitempty"`
	DenyIfClassified []string `yaml:"deny_if_classified" json:"deny_if_classified,omitempty"`

	Penalty float64 `yaml:"penalty" json:"penalty,omitempty"`
	Reason  string  `yaml:"reason" json:"reason,omitempty"`

	compiledPattern *regexp.Regexp
}

// Compile validates every rule and compiles its pattern.
func (p *PolicyFile) Compile() error {
	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id %s", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Effect == "" {
			return fmt.Errorf("rule %s has no effect", rule.ID)
		}
		if rule.Penalty < 0 {
			return fmt.Errorf("rule %s has a negative penalty", rule.ID)
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile("^(?:" + rule.Pattern + ")$")
			if err != nil {
				return fmt.Errorf("failed to compile the pattern of rule %s: %w", rule.ID, err)
			}
			rule.compiledPattern = re
		}
	}
	return nil
}

// SortByPriority orders rules from highest to lowest priority. Rules with
// equal priority keep their file order.
func (p *PolicyFile) SortByPriority() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].Priority > p.Rules[j].Priority
	})
}

// ClassificationFile is the parsed form of the data classification patterns.
type ClassificationFile struct {
	ClassificationPatterns []Classification `yaml:"classifications"`
}

// Classification is a named class of sensitive data.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one regex that identifies a Classification.
type Pattern struct {
	ID              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp
}

// CompileRegexes compiles every pattern.
func (c *ClassificationFile) CompileRegexes() error {
	for i := range c.ClassificationPatterns {
		for j := range c.ClassificationPatterns[i].Patterns {
			pattern := &c.ClassificationPatterns[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiledPattern = re
		}
	}
	return nil
}

// SortByPriority orders classifications from highest to lowest priority.
func (c *ClassificationFile) SortByPriority() {
	sort.SliceStable(c.ClassificationPatterns, func(i, j int) bool {
		return c.ClassificationPatterns[i].Priority > c.ClassificationPatterns[j].Priority
	})
}

// ScanFinding is one sensitive match in scanned text.
type ScanFinding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternID          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}

// Decision explains how the engine judged one action.
type Decision struct {
	Action  string   `json:"action"`
	Allowed bool     `json:"allowed"`
	Penalty float64  `json:"penalty"`
	Reason  string   `json:"reason,omitempty"`
	RuleIDs []string `json:"rule_ids,omitempty"`
}
