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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchState_AddTurn(t *testing.T) {
	s0 := NewSearchState()
	s1 := s0.AddTurn("trim_whitespace")
	s2 := s1.AddTurn("dedupe_lines")

	assert.Empty(t, s0.Turns, "original must be untouched")
	assert.Equal(t, []string{"trim_whitespace"}, s1.Actions())
	assert.Equal(t, []string{"trim_whitespace", "dedupe_lines"}, s2.Actions())
	assert.Equal(t, []string{"trim_whitespace", "dedupe_lines"}, s2.FocusHistory)
	assert.Equal(t, len(s2.Turns), len(s2.FocusHistory))
	assert.Equal(t, 2, s2.Depth())
}

func TestSearchState_AddTurnDoesNotAlias(t *testing.T) {
	base := NewSearchState().AddTurn("a").AddTurn("b")
	left := base.AddTurn("left")
	right := base.AddTurn("right")

	assert.Equal(t, []string{"a", "b", "left"}, left.Actions())
	assert.Equal(t, []string{"a", "b", "right"}, right.Actions())
}

func TestSearchState_UpdateBudget(t *testing.T) {
	s := NewSearchState().UpdateBudget(100, 0.5)
	assert.Equal(t, 100, s.CumulativeTokens)
	assert.InDelta(t, 0.5, s.CumulativeCost, 1e-12)

	s = s.UpdateBudget(50, 0.25)
	assert.Equal(t, 150, s.CumulativeTokens)
	assert.InDelta(t, 0.75, s.CumulativeCost, 1e-12)
}

func TestSearchState_UpdateBudgetClampsNegative(t *testing.T) {
	before := NewSearchState().UpdateBudget(10, 0.1)
	after := before.UpdateBudget(-5, -1.0)

	assert.Equal(t, before.CumulativeTokens, after.CumulativeTokens)
	assert.Equal(t, before.CumulativeCost, after.CumulativeCost)
}

func TestSearchState_WithFailureReasonInherited(t *testing.T) {
	s := NewSearchState().WithFailureReason("too long").AddTurn("truncate")
	assert.Equal(t, "too long", s.LastFailureReason)
}

func TestSearchState_CountAction(t *testing.T) {
	s := NewSearchState().AddTurn("a").AddTurn("b").AddTurn("a")
	assert.Equal(t, 2, s.CountAction("a"))
	assert.Equal(t, 1, s.CountAction("b"))
	assert.Equal(t, 0, s.CountAction("c"))
}

func TestSearchState_HashKey(t *testing.T) {
	a := NewSearchState().AddTurn("x").AddTurn("y")
	b := NewSearchState().AddTurn("x").AddTurn("y")
	require.Equal(t, a.HashKey(), b.HashKey())
	assert.Len(t, a.HashKey(), 64)

	t.Run("order matters", func(t *testing.T) {
		c := NewSearchState().AddTurn("y").AddTurn("x")
		assert.NotEqual(t, a.HashKey(), c.HashKey())
	})
	t.Run("tokens matter", func(t *testing.T) {
		assert.NotEqual(t, a.HashKey(), a.UpdateBudget(1, 0).HashKey())
	})
	t.Run("cost does not matter", func(t *testing.T) {
		assert.Equal(t, a.HashKey(), a.UpdateBudget(0, 0.3).HashKey())
	})
	t.Run("boundaries are unambiguous", func(t *testing.T) {
		ab := NewSearchState().AddTurn("ab").AddTurn("c")
		bc := NewSearchState().AddTurn("a").AddTurn("bc")
		assert.NotEqual(t, ab.HashKey(), bc.HashKey())
	})
}

func TestSearchState_String(t *testing.T) {
	s := NewSearchState().AddTurn("a").UpdateBudget(12, 0.5)
	assert.Equal(t, "SearchState{turns=[a], tokens=12, cost=$0.5000}", s.String())
}
