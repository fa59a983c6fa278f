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
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Turn records one executed action.
type Turn struct {
	Action string `json:"action"`
}

// SearchState is the per-step snapshot carried by a SearchNode.
//
// SearchState is a value type. Every transition returns a deep copy, so a
// state held by one node is never observed changing through another node.
//
// Invariants:
//   - len(Turns) == len(FocusHistory)
//   - CumulativeTokens and CumulativeCost never decrease
type SearchState struct {
	Turns             []Turn   `json:"turns"`
	CumulativeTokens  int      `json:"cumulative_tokens"`
	CumulativeCost    float64  `json:"cumulative_cost"`
	LastFailureReason string   `json:"last_failure_reason,omitempty"`
	FocusHistory      []string `json:"focus_history"`
}

// NewSearchState returns an empty state.
func NewSearchState() SearchState {
	return SearchState{
		Turns:        []Turn{},
		FocusHistory: []string{},
	}
}

// Clone returns a deep copy of the state.
func (s SearchState) Clone() SearchState {
	out := s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	out.FocusHistory = make([]string, len(s.FocusHistory))
	copy(out.FocusHistory, s.FocusHistory)
	return out
}

// AddTurn returns a copy with action appended to both Turns and FocusHistory.
func (s SearchState) AddTurn(action string) SearchState {
	out := s.Clone()
	out.Turns = append(out.Turns, Turn{Action: action})
	out.FocusHistory = append(out.FocusHistory, action)
	return out
}

// UpdateBudget returns a copy with the resource counters advanced.
//
// Negative deltas are clamped to zero so the counters are monotonic.
//
// Inputs:
//   - tokens: Tokens consumed by the call being accounted.
//   - cost: Cost in USD of the call being accounted.
//
// Outputs:
//   - SearchState: The advanced copy.
func (s SearchState) UpdateBudget(tokens int, cost float64) SearchState {
	out := s.Clone()
	out.CumulativeTokens += max(0, tokens)
	out.CumulativeCost += max(0.0, cost)
	return out
}

// WithFailureReason returns a copy whose LastFailureReason is reason.
func (s SearchState) WithFailureReason(reason string) SearchState {
	out := s.Clone()
	out.LastFailureReason = reason
	return out
}

// Depth returns the number of executed turns.
func (s SearchState) Depth() int {
	return len(s.Turns)
}

// Actions returns the executed action names in order.
func (s SearchState) Actions() []string {
	actions := make([]string, len(s.Turns))
	for i, t := range s.Turns {
		actions[i] = t.Action
	}
	return actions
}

// CountAction returns how many times action appears in FocusHistory.
func (s SearchState) CountAction(action string) int {
	n := 0
	for _, a := range s.FocusHistory {
		if a == action {
			n++
		}
	}
	return n
}

// HashKey returns a deterministic digest of the focus history, the turn
// count and the token counter. It is meant as a memoization key for an
// external cache; the planner does not cache on its own.
func (s SearchState) HashKey() string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(s.FocusHistory)))
	h.Write(buf[:])
	for _, a := range s.FocusHistory {
		// Length prefix keeps ["ab","c"] and ["a","bc"] apart.
		binary.BigEndian.PutUint64(buf[:], uint64(len(a)))
		h.Write(buf[:])
		h.Write([]byte(a))
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(s.Turns)))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(s.CumulativeTokens))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// String returns a human-readable representation of the state.
func (s SearchState) String() string {
	return fmt.Sprintf("SearchState{turns=[%s], tokens=%d, cost=$%.4f}",
		strings.Join(s.Actions(), ","), s.CumulativeTokens, s.CumulativeCost)
}
