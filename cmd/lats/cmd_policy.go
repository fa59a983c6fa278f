// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lats/pkg/ux"
	"github.com/AleutianAI/lats/services/policy_engine"
	"github.com/AleutianAI/lats/services/policy_engine/enforcement"
)

func newPolicyEngine(text string, logger *slog.Logger) (*policy_engine.PolicyEngine, error) {
	opts := []policy_engine.Option{policy_engine.WithLogger(logger)}
	if text != "" {
		opts = append(opts, policy_engine.WithSourceText(text))
	}
	engine, err := policy_engine.NewPolicyEngine(opts...)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return engine, nil
}

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the embedded action policy",
	}
	cmd.AddCommand(c.policyCheckCmd(), c.policyScanCmd(), c.policyVerifyCmd())
	return cmd
}

func (c *cli) policyCheckCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "check <action>...",
		Short: "Show how the policy judges a plan, step by step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if source != "" {
				var err error
				if text, err = readInput(cmd, []string{source}); err != nil {
					return err
				}
			}
			plan, err := splitActions(strings.Join(args, ","))
			if err != nil {
				return err
			}
			engine, err := newPolicyEngine(text, c.log())
			if err != nil {
				return err
			}
			decisions := engine.CheckPlan(plan)
			if c.jsonOut {
				return c.writeJSON(decisions)
			}

			p := ux.NewPrinter(c.stdout)
			p.Field("Classification", engine.Classification())
			for _, d := range decisions {
				switch {
				case !d.Allowed:
					p.Status(ux.IconError, fmt.Sprintf("%s denied: %s", d.Action, d.Reason))
				case d.Penalty > 0:
					p.Status(ux.IconWarning, fmt.Sprintf("%s allowed, penalty %.2f (%s)", d.Action, d.Penalty, strings.Join(d.RuleIDs, ", ")))
				default:
					p.Status(ux.IconSuccess, d.Action+" allowed")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "classify this file before checking")
	return cmd
}

func (c *cli) policyScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [file]",
		Short: "List sensitive data found in a text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			engine, err := newPolicyEngine("", c.log())
			if err != nil {
				return err
			}
			findings := engine.ScanText(text)
			if c.jsonOut {
				if findings == nil {
					findings = []policy_engine.ScanFinding{}
				}
				return c.writeJSON(findings)
			}

			p := ux.NewPrinter(c.stdout)
			if len(findings) == 0 {
				p.Status(ux.IconSuccess, "no sensitive data found")
				return nil
			}
			for _, f := range findings {
				p.Status(ux.IconWarning, fmt.Sprintf("line %d: %s (%s, %s confidence)",
					f.LineNumber, f.PatternDescription, f.ClassificationName, f.Confidence))
			}
			return nil
		},
	}
}

// PolicyDigest identifies the embedded policy files.
type PolicyDigest struct {
	ActionPolicy   string `json:"action_policy_sha256"`
	Classification string `json:"classification_patterns_sha256"`
	Rules          int    `json:"rules"`
	Classifiers    int    `json:"classifiers"`
}

func (c *cli) policyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Print digests of the embedded policy files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := newPolicyEngine("", c.log())
			if err != nil {
				return err
			}
			digest := PolicyDigest{
				ActionPolicy:   sha256Hex(enforcement.ActionPolicy),
				Classification: sha256Hex(enforcement.DataClassificationPatterns),
				Rules:          len(engine.Rules),
				Classifiers:    len(engine.Classifiers),
			}
			if c.jsonOut {
				return c.writeJSON(digest)
			}
			p := ux.NewPrinter(c.stdout)
			p.Field("action_policy.yaml", digest.ActionPolicy)
			p.Field("data_classification_patterns.yaml", digest.Classification)
			p.Muted(fmt.Sprintf("%d rules, %d classifiers", digest.Rules, digest.Classifiers))
			return nil
		},
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
