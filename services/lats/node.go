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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SearchNode is a node in the search tree.
//
// A node exclusively owns its State and its children. The parent link is a
// lookup pointer only; the tree is owned from the root down.
//
// Thread Safety: Not safe for concurrent mutation. The searcher runs one
// iteration at a time and, during a concurrent evaluation batch, each
// goroutine mutates only its own child.
type SearchNode struct {
	ID    string      `json:"id"`
	State SearchState `json:"state"`

	// Action that produced this node from its parent. Empty for the root.
	Action string `json:"action,omitempty"`

	Reward float64 `json:"reward"`
	Visits int     `json:"visits"`

	// Reflection is set when evaluation failed.
	Reflection string `json:"reflection,omitempty"`

	// Result is the payload attached by concrete evaluation, if any.
	Result any `json:"result,omitempty"`

	hasAction bool
	parent    *SearchNode
	children  []*SearchNode
}

// NewSearchNode creates a node and, when parent is non-nil, links it as the
// parent's last child.
//
// Inputs:
//   - state: The state owned by the new node.
//   - action: The action that produced this node ("" for the root).
//   - parent: The parent node, or nil for the root.
//
// Outputs:
//   - *SearchNode: The created node, never nil.
func NewSearchNode(state SearchState, action string, parent *SearchNode) *SearchNode {
	n := &SearchNode{
		ID:        uuid.NewString(),
		State:     state,
		Action:    action,
		hasAction: parent != nil,
		parent:    parent,
	}
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return n
}

// NewRootNode creates a parentless node for state.
func NewRootNode(state SearchState) *SearchNode {
	return NewSearchNode(state, "", nil)
}

// HasAction reports whether the node was produced by an action.
func (n *SearchNode) HasAction() bool {
	return n.hasAction
}

// Parent returns the parent node (nil for the root).
func (n *SearchNode) Parent() *SearchNode {
	return n.parent
}

// Children returns a copy of the children slice.
func (n *SearchNode) Children() []*SearchNode {
	out := make([]*SearchNode, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of children.
func (n *SearchNode) ChildCount() int {
	return len(n.children)
}

// IsLeaf returns true if the node has no children.
func (n *SearchNode) IsLeaf() bool {
	return len(n.children) == 0
}

// IsRoot returns true if the node has no parent.
func (n *SearchNode) IsRoot() bool {
	return n.parent == nil
}

// Depth returns the number of parent hops to the root.
func (n *SearchNode) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Root walks parent links up to the root.
func (n *SearchNode) Root() *SearchNode {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// PathFromRoot returns the nodes from the root to n, inclusive.
func (n *SearchNode) PathFromRoot() []*SearchNode {
	var path []*SearchNode
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ActionPath returns the actions taken from the root to reach n.
func (n *SearchNode) ActionPath() []string {
	var actions []string
	for _, p := range n.PathFromRoot() {
		if p.hasAction {
			actions = append(actions, p.Action)
		}
	}
	return actions
}

// ResultText returns the textual result attached to the node, if any.
func (n *SearchNode) ResultText() (string, bool) {
	switch r := n.Result.(type) {
	case string:
		return r, true
	case ExecResult:
		return r.Text, true
	case *ExecResult:
		if r != nil {
			return r.Text, true
		}
	}
	return "", false
}

// String returns a human-readable representation of the node.
func (n *SearchNode) String() string {
	action := n.Action
	if !n.hasAction {
		action = "<root>"
	}
	return fmt.Sprintf("SearchNode{action=%s, depth=%d, reward=%.3f, visits=%d, children=%d}",
		action, n.Depth(), n.Reward, n.Visits, len(n.children))
}

// MarshalJSON implements json.Marshaler. Children are included, the parent
// link is not.
func (n *SearchNode) MarshalJSON() ([]byte, error) {
	type nodeJSON struct {
		ID         string        `json:"id"`
		Action     string        `json:"action,omitempty"`
		Depth      int           `json:"depth"`
		Reward     float64       `json:"reward"`
		Visits     int           `json:"visits"`
		Reflection string        `json:"reflection,omitempty"`
		Result     any           `json:"result,omitempty"`
		State      SearchState   `json:"state"`
		Children   []*SearchNode `json:"children,omitempty"`
	}
	return json.Marshal(&nodeJSON{
		ID:         n.ID,
		Action:     n.Action,
		Depth:      n.Depth(),
		Reward:     n.Reward,
		Visits:     n.Visits,
		Reflection: n.Reflection,
		Result:     n.Result,
		State:      n.State,
		Children:   n.children,
	})
}
