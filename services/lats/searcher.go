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
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/lats/services/llm"
)

// Stats summarizes one Run.
type Stats struct {
	Iterations           int           `json:"iterations"`
	NodesCreated         int           `json:"nodes_created"`
	Evaluations          int           `json:"evaluations"`
	EvaluationFailures   int           `json:"evaluation_failures"`
	ValidationRejections int           `json:"validation_rejections"`
	ValidationErrors     int           `json:"validation_errors"`
	Elapsed              time.Duration `json:"elapsed"`
}

// Option configures a LATSSearcher.
type Option func(*LATSSearcher)

// WithProposer sets the action proposer.
func WithProposer(p Proposer) Option {
	return func(s *LATSSearcher) { s.proposer = p }
}

// WithValidator sets the policy validator. Without one every candidate is
// allowed with zero penalty.
func WithValidator(v Validator) Option {
	return func(s *LATSSearcher) { s.validator = v }
}

// WithEvaluator sets the node evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(s *LATSSearcher) { s.evaluator = e }
}

// WithExecutor sets the concrete action executor.
func WithExecutor(e Executor) Option {
	return func(s *LATSSearcher) { s.executor = e }
}

// WithGenerator sets the content generator used as fallback proposer,
// scorer and reflector.
func WithGenerator(g llm.Generator) Option {
	return func(s *LATSSearcher) { s.generator = g }
}

// WithReflector sets the reflection hook.
func WithReflector(r Reflector) Option {
	return func(s *LATSSearcher) { s.reflector = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *LATSSearcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t *Tracer) Option {
	return func(s *LATSSearcher) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSourceText sets the text that root-level actions operate on.
func WithSourceText(text string) Option {
	return func(s *LATSSearcher) { s.sourceText = text }
}

// LATSSearcher plans a sequence of actions with Monte Carlo tree search.
//
// Each iteration selects a leaf by UCB1, expands it into validated children,
// evaluates them and propagates the best reward to the root. Only external
// hook calls run concurrently; the tree is mutated by the Run goroutine
// alone, with each concurrent evaluator touching only its own child.
//
// Thread Safety: Not safe for concurrent Run calls. Build one per task.
type LATSSearcher struct {
	cfg Config

	proposer  Proposer
	validator Validator
	evaluator Evaluator
	executor  Executor
	generator llm.Generator
	reflector Reflector

	logger     *slog.Logger
	tracer     *Tracer
	sourceText string

	// sem bounds concurrent validator and evaluator calls.
	sem *semaphore.Weighted

	root       *SearchNode
	iterations int

	statsMu sync.Mutex
	stats   Stats
}

// NewSearcher creates a searcher.
//
// Inputs:
//   - cfg: Search configuration. A ConcurrencyLimit below 1 is raised to 1.
//   - opts: Hooks and ambient dependencies.
//
// Outputs:
//   - *LATSSearcher: Ready to Run.
func NewSearcher(cfg Config, opts ...Option) *LATSSearcher {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 1
	}
	s := &LATSSearcher{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: NewTracer(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(int64(cfg.ConcurrencyLimit))
	return s
}

// Config returns the searcher's configuration.
func (s *LATSSearcher) Config() Config {
	return s.cfg
}

// Root returns the root of the most recent Run's tree, or nil.
func (s *LATSSearcher) Root() *SearchNode {
	return s.root
}

// Iterations returns the number of iterations performed by the current or
// most recent Run.
func (s *LATSSearcher) Iterations() int {
	return s.iterations
}

// Stats returns a snapshot of the most recent Run's counters.
func (s *LATSSearcher) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	out.Iterations = s.iterations
	return out
}

func (s *LATSSearcher) count(f func(*Stats)) {
	s.statsMu.Lock()
	f(&s.stats)
	s.statsMu.Unlock()
}

// Run searches from initial and returns the best node found.
//
// Description:
//
//	Performs at most MaxVisits iterations. The returned node is the first
//	one to reach the highest reward seen; the root is returned when nothing
//	was ever evaluated. Hook failures degrade rewards and never abort the run.
//
// Inputs:
//   - ctx: Cancellation is checked between iterations and passed to hooks.
//   - initial: Starting state. It is cloned, the caller's copy is untouched.
//
// Outputs:
//   - *SearchNode: The best node. Never nil.
//   - error: ctx.Err() if the context was cancelled before MaxVisits
//     iterations completed, nil otherwise.
func (s *LATSSearcher) Run(ctx context.Context, initial SearchState) (*SearchNode, error) {
	start := time.Now()
	s.iterations = 0
	s.statsMu.Lock()
	s.stats = Stats{NodesCreated: 1}
	s.statsMu.Unlock()

	root := NewRootNode(initial.Clone())
	s.root = root

	ctx, span := s.tracer.StartRun(ctx, s.cfg, initial)
	logger := LoggerWithTrace(ctx, s.logger)
	logger.Info("LATS search started",
		slog.Int("max_visits", s.cfg.MaxVisits),
		slog.Int("max_depth", s.cfg.MaxDepth),
		slog.Int("concurrency_limit", s.cfg.ConcurrencyLimit),
	)

	best := root
	bestReward := math.Inf(-1)
	var runErr error

	for s.iterations < s.cfg.MaxVisits {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		leaf := s.iterate(ctx, root)
		if leaf.Reward > bestReward {
			best = leaf
			bestReward = leaf.Reward
		}
	}

	s.count(func(st *Stats) { st.Elapsed = time.Since(start) })
	stats := s.Stats()
	s.tracer.EndRun(span, best, stats, runErr)

	outcome := "ok"
	if runErr != nil {
		outcome = "cancelled"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	bestRewardHistogram.Observe(best.Reward)
	treeSizeGauge.Set(float64(stats.NodesCreated))

	logger.Info("LATS search completed",
		slog.Int("iterations", stats.Iterations),
		slog.Int("nodes", stats.NodesCreated),
		slog.Float64("best_reward", best.Reward),
		slog.Any("best_path", best.ActionPath()),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return best, runErr
}

// iterate runs one select/expand/evaluate/backpropagate cycle and returns
// the node that was backpropagated.
func (s *LATSSearcher) iterate(ctx context.Context, root *SearchNode) *SearchNode {
	ctx, span := s.tracer.TraceIteration(ctx, s.iterations)
	defer span.End()

	leaf := s.selectLeaf(root)
	target := leaf
	var reward float64

	if s.ShouldTerminate(leaf) {
		reward = leaf.Reward
	} else {
		children := s.Expand(ctx, leaf)
		switch len(children) {
		case 0:
			reward = s.Evaluate(ctx, leaf)
		case 1:
			target = children[0]
			reward = s.Evaluate(ctx, target)
		default:
			rewards := s.EvaluateAll(ctx, children)
			bestIdx := 0
			for i := 1; i < len(rewards); i++ {
				if rewards[i] > rewards[bestIdx] {
					bestIdx = i
				}
			}
			target = children[bestIdx]
			reward = rewards[bestIdx]
		}
	}

	s.Backpropagate(target, reward)
	s.iterations++
	iterationsTotal.Inc()

	s.logger.Debug("LATS iteration",
		slog.Int("iteration", s.iterations),
		slog.String("node", target.String()),
		slog.Float64("reward", reward),
	)
	return target
}

// selectLeaf descends from node by UCB1 until it reaches a leaf.
func (s *LATSSearcher) selectLeaf(node *SearchNode) *SearchNode {
	for !node.IsLeaf() {
		node = s.selectChild(node)
	}
	return node
}

// selectChild returns the child with the highest UCB1 score. The first
// maximal child wins ties, so an unvisited child is always taken before any
// visited sibling.
func (s *LATSSearcher) selectChild(parent *SearchNode) *SearchNode {
	var best *SearchNode
	bestScore := math.Inf(-1)
	for _, child := range parent.children {
		score := ucbScore(child, parent.Visits, s.cfg.ExplorationConstant)
		if best == nil || score > bestScore {
			best = child
			bestScore = score
		}
	}
	return best
}

// ucbScore computes reward/visits + c*sqrt(ln(parentVisits+1)/visits).
// Unvisited nodes score +Inf.
func ucbScore(node *SearchNode, parentVisits int, c float64) float64 {
	if node.Visits == 0 {
		return math.Inf(1)
	}
	visits := float64(node.Visits)
	exploit := node.Reward / visits
	explore := c * math.Sqrt(math.Log(float64(parentVisits)+1)/visits)
	return exploit + explore
}

// ShouldTerminate reports whether node must not be expanded: it is at
// MaxDepth, the iteration cap is reached, or its state has exhausted the
// token or cost budget.
func (s *LATSSearcher) ShouldTerminate(node *SearchNode) bool {
	return node.Depth() >= s.cfg.MaxDepth ||
		s.iterations >= s.cfg.MaxVisits ||
		node.State.CumulativeTokens >= s.cfg.TokenBudget ||
		node.State.CumulativeCost >= s.cfg.CostBudget
}

// Backpropagate walks from leaf to the root, incrementing visits and
// raising each reward to at least reward.
func (s *LATSSearcher) Backpropagate(leaf *SearchNode, reward float64) {
	for n := leaf; n != nil; n = n.parent {
		n.Visits++
		n.Reward = max(n.Reward, reward)
	}
}
