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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxVisits = 4
	return cfg
}

func newTestSearcher(cfg Config, opts ...Option) *LATSSearcher {
	return NewSearcher(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
}

func fixedProposer(actions ...string) Proposer {
	return ProposerFunc(func(ctx context.Context, node *SearchNode) ([]string, error) {
		return append([]string(nil), actions...), nil
	})
}

func rewardByAction(rewards map[string]float64) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		return rewards[node.Action], nil
	})
}

// walk visits every node below root, parents before children.
func walk(root *SearchNode, fn func(*SearchNode)) {
	fn(root)
	for _, c := range root.children {
		walk(c, fn)
	}
}

// inflightTracker records the peak number of concurrent hook calls.
type inflightTracker struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (t *inflightTracker) enter() {
	n := t.current.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (t *inflightTracker) leave() {
	t.current.Add(-1)
}

// =============================================================================
// Selection
// =============================================================================

func TestUCBScore(t *testing.T) {
	root := NewRootNode(NewSearchState())
	child := NewSearchNode(root.State.AddTurn("a"), "a", root)

	assert.True(t, math.IsInf(ucbScore(child, 0, 1.41), 1), "unvisited child must score +Inf")

	child.Visits = 2
	child.Reward = 1.0
	want := 1.0/2 + 1.41*math.Sqrt(math.Log(3+1)/2)
	assert.InDelta(t, want, ucbScore(child, 3, 1.41), 1e-12)
}

func TestSelectChild_UnvisitedBeforeVisited(t *testing.T) {
	s := newTestSearcher(testConfig())
	root := NewRootNode(NewSearchState())
	root.Visits = 10
	strong := NewSearchNode(root.State.AddTurn("strong"), "strong", root)
	strong.Visits = 9
	strong.Reward = 100
	fresh := NewSearchNode(root.State.AddTurn("fresh"), "fresh", root)

	assert.Same(t, fresh, s.selectChild(root))
}

func TestSelectChild_FirstMaximalWins(t *testing.T) {
	s := newTestSearcher(testConfig())
	root := NewRootNode(NewSearchState())
	root.Visits = 4
	first := NewSearchNode(root.State.AddTurn("x"), "x", root)
	second := NewSearchNode(root.State.AddTurn("y"), "y", root)
	for _, n := range []*SearchNode{first, second} {
		n.Visits = 2
		n.Reward = 0.5
	}
	assert.Same(t, first, s.selectChild(root))

	t.Run("two unvisited", func(t *testing.T) {
		r := NewRootNode(NewSearchState())
		a := NewSearchNode(r.State.AddTurn("a"), "a", r)
		NewSearchNode(r.State.AddTurn("b"), "b", r)
		assert.Same(t, a, s.selectChild(r))
	})
}

func TestSelectLeaf_DescendsToLeaf(t *testing.T) {
	s := newTestSearcher(testConfig())
	root := NewRootNode(NewSearchState())
	root.Visits = 2
	a := NewSearchNode(root.State.AddTurn("a"), "a", root)
	a.Visits = 1
	aa := NewSearchNode(a.State.AddTurn("a"), "a", a)
	b := NewSearchNode(root.State.AddTurn("b"), "b", root)
	b.Visits = 1
	b.Reward = -1

	assert.Same(t, aa, s.selectLeaf(root))
}

// =============================================================================
// Termination
// =============================================================================

func TestShouldTerminate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDepth = 2
	cfg.TokenBudget = 50000
	cfg.CostBudget = 1.0

	deep := NewRootNode(NewSearchState())
	for i := 0; i < 2; i++ {
		deep = NewSearchNode(deep.State.AddTurn("a"), "a", deep)
	}

	tests := []struct {
		name       string
		node       *SearchNode
		iterations int
		want       bool
	}{
		{"fresh root", NewRootNode(NewSearchState()), 0, false},
		{"at max depth", deep, 0, true},
		{"visits exhausted", NewRootNode(NewSearchState()), cfg.MaxVisits, true},
		{"token budget exceeded", NewRootNode(NewSearchState().UpdateBudget(60000, 0)), 0, true},
		{"token budget reached exactly", NewRootNode(NewSearchState().UpdateBudget(50000, 0)), 0, true},
		{"cost budget exceeded", NewRootNode(NewSearchState().UpdateBudget(0, 1.5)), 0, true},
		{"under all limits", NewRootNode(NewSearchState().UpdateBudget(49999, 0.99)), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSearcher(cfg)
			s.iterations = tt.iterations
			assert.Equal(t, tt.want, s.ShouldTerminate(tt.node))
		})
	}
}

// =============================================================================
// Backpropagation
// =============================================================================

func TestBackpropagate(t *testing.T) {
	s := newTestSearcher(testConfig())
	root := NewRootNode(NewSearchState())
	a := NewSearchNode(root.State.AddTurn("a"), "a", root)
	leaf := NewSearchNode(a.State.AddTurn("b"), "b", a)
	a.Reward = 0.9

	s.Backpropagate(leaf, 0.4)

	assert.Equal(t, 1, leaf.Visits)
	assert.Equal(t, 1, a.Visits)
	assert.Equal(t, 1, root.Visits)
	assert.Equal(t, 0.4, leaf.Reward)
	assert.Equal(t, 0.9, a.Reward, "backpropagation never lowers a reward")
	assert.Equal(t, 0.4, root.Reward)
}

// =============================================================================
// Expansion
// =============================================================================

func TestExpand_ValidationPruning(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		if action == "bad" {
			return Deny("bad is forbidden"), nil
		}
		return Allow(0), nil
	})
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("bad", "good")), WithValidator(validator))
	root := NewRootNode(NewSearchState())

	children := s.Expand(context.Background(), root)

	require.Len(t, children, 1)
	assert.Equal(t, "good", children[0].Action)
	assert.Equal(t, 1, root.ChildCount())
	assert.Equal(t, "bad is forbidden", root.State.LastFailureReason)
	assert.Equal(t, "bad is forbidden", children[0].State.LastFailureReason)
	assert.Equal(t, []string{"good"}, children[0].State.Actions())
	assert.Equal(t, 1, s.Stats().ValidationRejections)
}

func TestExpand_PenaltySeedsReward(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		return Allow(0.3), nil
	})
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("a", "b")), WithValidator(validator))

	children := s.Expand(context.Background(), NewRootNode(NewSearchState()))

	require.Len(t, children, 2)
	for _, c := range children {
		assert.InDelta(t, -0.3, c.Reward, 1e-12)
	}
}

func TestExpand_NoValidatorAllowsAllAndKeepsDuplicates(t *testing.T) {
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("a", "a", "b")))

	children := s.Expand(context.Background(), NewRootNode(NewSearchState()))

	require.Len(t, children, 3)
	assert.Equal(t, "a", children[0].Action)
	assert.Equal(t, "a", children[1].Action)
	assert.Equal(t, "b", children[2].Action)
	for _, c := range children {
		assert.Equal(t, 0.0, c.Reward)
	}
}

func TestExpand_ValidatorErrorDropsOnlyThatCandidate(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		switch action {
		case "broken":
			return ValidationResult{}, errors.New("policy store unavailable")
		case "panics":
			panic("validator bug")
		}
		return Allow(0.1), nil
	})
	s := newTestSearcher(testConfig(),
		WithProposer(fixedProposer("a", "broken", "panics", "b")),
		WithValidator(validator))

	children := s.Expand(context.Background(), NewRootNode(NewSearchState()))

	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Action)
	assert.Equal(t, "b", children[1].Action)
	assert.Equal(t, 2, s.Stats().ValidationErrors)
}

func TestExpand_SingleCandidateValidatorError(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		return ValidationResult{}, errors.New("timeout")
	})
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("only")), WithValidator(validator))

	assert.Empty(t, s.Expand(context.Background(), NewRootNode(NewSearchState())))
}

func TestExpand_ValidatorCannotMutateNodeState(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		if len(state.FocusHistory) > 0 {
			state.FocusHistory[0] = "mutated"
		}
		return Allow(0), nil
	})
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("next")), WithValidator(validator))
	node := NewRootNode(NewSearchState().AddTurn("first"))

	s.Expand(context.Background(), node)

	assert.Equal(t, []string{"first"}, node.State.FocusHistory)
}

func TestExpand_ProposerFailure(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		proposer := ProposerFunc(func(ctx context.Context, node *SearchNode) ([]string, error) {
			return nil, errors.New("no ideas")
		})
		s := newTestSearcher(testConfig(), WithProposer(proposer))
		assert.Empty(t, s.Expand(context.Background(), NewRootNode(NewSearchState())))
	})
	t.Run("panic", func(t *testing.T) {
		proposer := ProposerFunc(func(ctx context.Context, node *SearchNode) ([]string, error) {
			panic("proposer bug")
		})
		s := newTestSearcher(testConfig(), WithProposer(proposer))
		assert.Empty(t, s.Expand(context.Background(), NewRootNode(NewSearchState())))
	})
	t.Run("no proposer and no generator", func(t *testing.T) {
		s := newTestSearcher(testConfig())
		assert.Empty(t, s.Expand(context.Background(), NewRootNode(NewSearchState())))
	})
}

func TestExpand_ConcurrencyLimitShared(t *testing.T) {
	var tracker inflightTracker
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		tracker.enter()
		defer tracker.leave()
		time.Sleep(5 * time.Millisecond)
		return Allow(0), nil
	})
	evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		tracker.enter()
		defer tracker.leave()
		time.Sleep(5 * time.Millisecond)
		return 0.5, nil
	})

	cfg := testConfig()
	cfg.ConcurrencyLimit = 2
	cfg.MaxVisits = 1
	s := newTestSearcher(cfg,
		WithProposer(fixedProposer("a", "b", "c", "d", "e", "f")),
		WithValidator(validator),
		WithEvaluator(evaluator))

	_, err := s.Run(context.Background(), NewSearchState())
	require.NoError(t, err)

	assert.LessOrEqual(t, tracker.peak.Load(), int32(2))
	assert.Equal(t, 6, s.Root().ChildCount())
	assert.Equal(t, 6, s.Stats().Evaluations)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_ScenarioA_PicksHigherReward(t *testing.T) {
	cfg := testConfig()
	cfg.MaxVisits = 4
	s := newTestSearcher(cfg,
		WithProposer(fixedProposer("a1", "a2")),
		WithEvaluator(rewardByAction(map[string]float64{"a1": 0.2, "a2": 0.8})))

	best, err := s.Run(context.Background(), NewSearchState())

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "a2", best.Action)
	assert.InDelta(t, 0.8, best.Reward, 1e-9)
	assert.Equal(t, 1, best.Depth(), "first discovery wins ties")
	assert.Equal(t, 4, s.Iterations())
}

func TestRun_ScenarioB_PenaltyFoldsIntoReward(t *testing.T) {
	cfg := testConfig()
	cfg.MaxVisits = 1
	validator := ValidatorFunc(func(ctx context.Context, state SearchState, action string) (ValidationResult, error) {
		return ValidationResult{Allowed: true, Penalty: 0.3}, nil
	})
	evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		return 1.0, nil
	})
	s := newTestSearcher(cfg,
		WithProposer(fixedProposer("penalty")),
		WithValidator(validator),
		WithEvaluator(evaluator))

	best, err := s.Run(context.Background(), NewSearchState())

	require.NoError(t, err)
	assert.Equal(t, "penalty", best.Action)
	assert.InDelta(t, 0.7, best.Reward, 1e-9)
}

func TestRun_ScenarioC_EvaluatorAlwaysFails(t *testing.T) {
	evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		return 0, errors.New("scorer exploded")
	})

	t.Run("with children", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxVisits = 3
		s := newTestSearcher(cfg, WithProposer(fixedProposer("a1", "a2")), WithEvaluator(evaluator))

		best, err := s.Run(context.Background(), NewSearchState())

		require.NoError(t, err)
		assert.Equal(t, -1.0, best.Reward)
		assert.NotEmpty(t, best.Reflection)
		assert.Contains(t, best.Reflection, "scorer exploded")
		assert.Equal(t, s.Stats().Evaluations, s.Stats().EvaluationFailures)
	})

	t.Run("without proposer", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxVisits = 1
		s := newTestSearcher(cfg, WithEvaluator(evaluator))

		best, err := s.Run(context.Background(), NewSearchState())

		require.NoError(t, err)
		assert.True(t, best.IsRoot())
		assert.Equal(t, -1.0, best.Reward)
		assert.NotEmpty(t, best.Reflection)
	})

	t.Run("panicking evaluator", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxVisits = 1
		panicky := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
			panic("nil map")
		})
		s := newTestSearcher(cfg, WithProposer(fixedProposer("a")), WithEvaluator(panicky))

		best, err := s.Run(context.Background(), NewSearchState())

		require.NoError(t, err)
		assert.Equal(t, -1.0, best.Reward)
		assert.Contains(t, best.Reflection, "hook panicked")
	})
}

func TestRun_ScenarioD_TokenBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 50000
	s := newTestSearcher(cfg)

	node := NewRootNode(NewSearchState().UpdateBudget(60000, 0))
	assert.True(t, s.ShouldTerminate(node))

	deep := NewSearchNode(node.State.AddTurn("x"), "x", node)
	assert.True(t, s.ShouldTerminate(deep))

	t.Run("run never expands an exhausted root", func(t *testing.T) {
		var proposals atomic.Int32
		proposer := ProposerFunc(func(ctx context.Context, node *SearchNode) ([]string, error) {
			proposals.Add(1)
			return []string{"a"}, nil
		})
		s := newTestSearcher(cfg, WithProposer(proposer))

		best, err := s.Run(context.Background(), NewSearchState().UpdateBudget(60000, 0))

		require.NoError(t, err)
		assert.True(t, best.IsRoot())
		assert.Equal(t, int32(0), proposals.Load())
		assert.Equal(t, cfg.MaxVisits, best.Visits)
	})
}

// =============================================================================
// Run behaviour
// =============================================================================

func TestRun_ZeroVisitsReturnsRoot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxVisits = 0
	s := newTestSearcher(cfg, WithProposer(fixedProposer("a")))

	best, err := s.Run(context.Background(), NewSearchState())

	require.NoError(t, err)
	assert.True(t, best.IsRoot())
	assert.Equal(t, 0, s.Iterations())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("a")))

	best, err := s.Run(ctx, NewSearchState())

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, best)
	assert.True(t, best.IsRoot())
	assert.Equal(t, 0, s.Iterations())
}

func TestRun_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return 0.5, nil
	})
	cfg := testConfig()
	cfg.MaxVisits = 10
	s := newTestSearcher(cfg, WithProposer(fixedProposer("a")), WithEvaluator(evaluator))

	best, err := s.Run(ctx, NewSearchState())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, s.Iterations())
	assert.InDelta(t, 0.5, best.Reward, 1e-9)
}

func TestRun_DoesNotMutateInitialState(t *testing.T) {
	initial := NewSearchState().AddTurn("given")
	s := newTestSearcher(testConfig(), WithProposer(fixedProposer("a")))

	_, err := s.Run(context.Background(), initial)

	require.NoError(t, err)
	assert.Equal(t, []string{"given"}, initial.FocusHistory)
	assert.Equal(t, 0, initial.CumulativeTokens)
}

func TestRun_RespectsMaxDepth(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDepth = 2
	cfg.MaxVisits = 10
	s := newTestSearcher(cfg,
		WithProposer(fixedProposer("a")),
		WithEvaluator(rewardByAction(map[string]float64{"a": 0.5})))

	_, err := s.Run(context.Background(), NewSearchState())

	require.NoError(t, err)
	assert.Equal(t, 2, MaxDepth(s.Root()))
}

func TestRun_StatsCountNodes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxVisits = 3
	s := newTestSearcher(cfg, WithProposer(fixedProposer("a", "b")))

	_, err := s.Run(context.Background(), NewSearchState())
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, CountNodes(s.Root()), stats.NodesCreated)
	assert.Equal(t, 7, stats.NodesCreated)
}

// =============================================================================
// Properties
// =============================================================================

func randomHooks(seed int64) (Proposer, Evaluator) {
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	proposer := ProposerFunc(func(ctx context.Context, node *SearchNode) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		n := rng.Intn(4)
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("act%d", rng.Intn(5))
		}
		return out, nil
	})
	evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		if rng.Intn(10) == 0 {
			return 0, errors.New("random failure")
		}
		return rng.Float64(), nil
	})
	return proposer, evaluator
}

func TestRun_TerminationProperty(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		maxVisits := int(seed % 12)
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			proposer, evaluator := randomHooks(seed)
			cfg := testConfig()
			cfg.MaxVisits = maxVisits
			cfg.MaxDepth = 3
			s := newTestSearcher(cfg, WithProposer(proposer), WithEvaluator(evaluator))

			best, err := s.Run(context.Background(), NewSearchState())

			require.NoError(t, err)
			require.NotNil(t, best)
			assert.Equal(t, maxVisits, s.Iterations())
			assert.Equal(t, maxVisits, s.Root().Visits, "every iteration reaches the root")

			walk(s.Root(), func(n *SearchNode) {
				sum := 0
				for _, c := range n.children {
					sum += c.Visits
				}
				assert.GreaterOrEqual(t, n.Visits, sum, "parent visits cover children")
			})

			// No node's reward exceeds the returned best.
			walk(s.Root(), func(n *SearchNode) {
				if n.Visits > 0 && !n.IsRoot() {
					assert.LessOrEqual(t, n.Reward, best.Reward+1e-12)
				}
			})
		})
	}
}

func TestIterate_RewardNeverDecreases(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			var mu sync.Mutex
			evaluator := EvaluatorFunc(func(ctx context.Context, node *SearchNode) (float64, error) {
				mu.Lock()
				defer mu.Unlock()
				return rng.Float64(), nil
			})
			proposer, _ := randomHooks(seed)
			cfg := testConfig()
			cfg.MaxVisits = 15
			s := newTestSearcher(cfg, WithProposer(proposer), WithEvaluator(evaluator))
			root := NewRootNode(NewSearchState())

			seen := map[*SearchNode]float64{}
			for i := 0; i < cfg.MaxVisits; i++ {
				s.iterate(context.Background(), root)
				walk(root, func(n *SearchNode) {
					if prev, ok := seen[n]; ok {
						assert.GreaterOrEqual(t, n.Reward, prev)
					}
					seen[n] = n.Reward
				})
			}
		})
	}
}
