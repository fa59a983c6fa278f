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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lats/pkg/ux"
	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/textops"
)

// RunReport is the JSON form of a search result.
type RunReport struct {
	BestPath   []string   `json:"best_path"`
	Reward     float64    `json:"reward"`
	Reflection string     `json:"reflection,omitempty"`
	Tokens     int        `json:"tokens"`
	CostUSD    float64    `json:"cost_usd"`
	Stats      lats.Stats `json:"stats"`
	TreeDepth  int        `json:"tree_depth"`
	Text       string     `json:"text,omitempty"`
	Tree       string     `json:"tree,omitempty"`
	Cancelled  bool       `json:"cancelled,omitempty"`
}

func (c *cli) runCmd() *cobra.Command {
	var (
		maxVisits int
		showTree  bool
		showText  bool
	)
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Search for the best clean-up plan for a text",
		Long: `Search for the best sequence of clean-up actions for a text read from
a file or stdin. The best plan, its reward and search statistics are printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if maxVisits > 0 {
				c.cfg.Search.MaxVisits = maxVisits
			}
			report, err := c.search(cmd.Context(), text, showTree, showText)
			if report == nil {
				return err
			}
			if perr := c.printReport(report); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&maxVisits, "max-visits", 0, "override the iteration budget")
	cmd.Flags().BoolVar(&showTree, "tree", false, "include the explored tree")
	cmd.Flags().BoolVar(&showText, "text", false, "include the text produced by the best plan")
	return cmd
}

// search runs one planner over text. A cancelled search still returns the
// best report so far together with the context error.
func (c *cli) search(ctx context.Context, text string, withTree, withText bool) (*RunReport, error) {
	logger := c.log()
	p, err := buildPlanner(ctx, c.cfg, text, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("Closing memo store failed", slog.String("error", err.Error()))
		}
	}()

	spin := ux.NewSpinner(c.stderr, "Searching")
	if !c.jsonOut {
		spin.Start()
	}
	best, runErr := p.searcher.Run(ctx, lats.NewSearchState())
	spin.Stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return nil, runErr
	}

	report := &RunReport{
		BestPath:   best.ActionPath(),
		Reward:     best.Reward,
		Reflection: best.Reflection,
		Tokens:     best.State.CumulativeTokens,
		CostUSD:    best.State.CumulativeCost,
		Stats:      p.searcher.Stats(),
		TreeDepth:  lats.MaxDepth(p.searcher.Root()),
		Cancelled:  runErr != nil,
	}
	if report.BestPath == nil {
		report.BestPath = []string{}
	}
	if withTree {
		report.Tree = lats.FormatTree(p.searcher.Root(), best)
	}
	if withText {
		if out, ok := best.ResultText(); ok {
			report.Text = out
		} else if out, _, err := p.scorer.Apply(ctx, report.BestPath); err == nil {
			report.Text = out
		} else {
			logger.Warn("Could not apply the best plan", slog.String("error", err.Error()))
		}
	}
	return report, runErr
}

func (c *cli) printReport(r *RunReport) error {
	if c.jsonOut {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	p := ux.NewPrinter(c.stdout)
	p.Title("Best plan")
	if len(r.BestPath) == 0 {
		p.Status(ux.IconWarning, "no action improved on the input")
	} else {
		p.Field("Actions", strings.Join(r.BestPath, " "+string(ux.IconArrow)+" "))
	}
	p.Field("Reward", fmt.Sprintf("%.3f", r.Reward))
	if r.Reflection != "" {
		p.Status(ux.IconError, r.Reflection)
	}
	if r.Tokens > 0 {
		p.Field("Tokens", r.Tokens)
		p.Field("Cost", fmt.Sprintf("$%.4f", r.CostUSD))
	}
	p.Muted(fmt.Sprintf("%d iterations, %d nodes, %d evaluations (%d failed), %d rejected, depth %d, %s",
		r.Stats.Iterations, r.Stats.NodesCreated, r.Stats.Evaluations, r.Stats.EvaluationFailures,
		r.Stats.ValidationRejections, r.TreeDepth, r.Stats.Elapsed.Round(time.Millisecond)))
	if r.Cancelled {
		p.Status(ux.IconWarning, "search was cancelled, the plan is the best found so far")
	}
	if r.Tree != "" {
		p.Box(strings.TrimRight(r.Tree, "\n"))
	}
	if r.Text != "" {
		p.Title("Result")
		fmt.Fprintln(c.stdout, r.Text)
	}
	return nil
}

// ApplyReport is the JSON form of an apply run.
type ApplyReport struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
	Quality float64  `json:"quality"`
	Text    string   `json:"text"`
}

func (c *cli) applyCmd() *cobra.Command {
	var (
		actions string
		useLLM  bool
	)
	cmd := &cobra.Command{
		Use:   "apply [file]",
		Short: "Apply a fixed list of actions to a text",
		Long: `Apply comma separated actions, in order, to a text read from a file or
stdin. When the policy is enabled, actions it denies are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := splitActions(actions)
			if err != nil {
				return err
			}
			if len(plan) == 0 {
				return errors.New("--actions is required")
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			report, err := c.apply(cmd.Context(), text, plan, useLLM)
			if err != nil {
				return err
			}
			if c.jsonOut {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			p := ux.NewPrinter(c.stdout)
			for _, s := range report.Skipped {
				p.Status(ux.IconWarning, s)
			}
			fmt.Fprintln(c.stdout, report.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&actions, "actions", "a", "", "comma separated actions, e.g. strip_html,dedupe_lines")
	cmd.Flags().BoolVar(&useLLM, "llm", false, "let summarize use the configured LLM")
	return cmd
}

func (c *cli) apply(ctx context.Context, text string, plan []string, useLLM bool) (*ApplyReport, error) {
	gen, err := buildGenerator(c.cfg.LLM, c.log())
	if err != nil {
		return nil, err
	}
	if useLLM && gen == nil {
		return nil, errors.New("--llm needs an llm provider")
	}
	exec := textops.NewExecutor(textops.WithGenerator(gen), textops.WithLogger(c.log()))

	allowed := plan
	report := &ApplyReport{Applied: []string{}, Quality: 1}
	if c.cfg.Policy.Enabled {
		engine, err := newPolicyEngine(text, c.log())
		if err != nil {
			return nil, err
		}
		allowed = nil
		for _, d := range engine.CheckPlan(plan) {
			if d.Allowed {
				allowed = append(allowed, d.Action)
			} else {
				report.Skipped = append(report.Skipped, fmt.Sprintf("%s: %s", d.Action, d.Reason))
			}
		}
	}

	for _, action := range allowed {
		res, err := exec.Execute(ctx, lats.ExecRequest{
			Action:    action,
			Text:      text,
			MaxLength: c.cfg.Search.MaxTextLength,
			UseLLM:    useLLM,
		})
		if err != nil {
			return nil, err
		}
		text = res.Text
		report.Quality = res.Quality
		report.Applied = append(report.Applied, action)
	}
	report.Text = text
	return report, nil
}
