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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchNode_Links(t *testing.T) {
	root := NewRootNode(NewSearchState())
	a := NewSearchNode(root.State.AddTurn("a"), "a", root)
	b := NewSearchNode(root.State.AddTurn("b"), "b", root)
	aa := NewSearchNode(a.State.AddTurn("a2"), "a2", a)

	assert.True(t, root.IsRoot())
	assert.False(t, root.HasAction())
	assert.True(t, a.HasAction())
	assert.Equal(t, 2, root.ChildCount())
	assert.Equal(t, []*SearchNode{a, b}, root.Children())
	assert.Same(t, root, aa.Root())
	assert.Same(t, a, aa.Parent())
	assert.Nil(t, root.Parent())

	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 1, b.Depth())
	assert.Equal(t, 2, aa.Depth())
	assert.True(t, b.IsLeaf())
	assert.False(t, a.IsLeaf())

	assert.Equal(t, []*SearchNode{root, a, aa}, aa.PathFromRoot())
	assert.Equal(t, []string{"a", "a2"}, aa.ActionPath())
	assert.Empty(t, root.ActionPath())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSearchNode_ChildrenIsCopy(t *testing.T) {
	root := NewRootNode(NewSearchState())
	NewSearchNode(root.State.AddTurn("a"), "a", root)

	kids := root.Children()
	kids[0] = nil
	assert.NotNil(t, root.Children()[0])
}

func TestSearchNode_EmptyActionStillHasAction(t *testing.T) {
	root := NewRootNode(NewSearchState())
	child := NewSearchNode(root.State.AddTurn(""), "", root)
	assert.True(t, child.HasAction())
}

func TestSearchNode_ResultText(t *testing.T) {
	n := NewRootNode(NewSearchState())
	_, ok := n.ResultText()
	assert.False(t, ok)

	n.Result = "plain"
	text, ok := n.ResultText()
	require.True(t, ok)
	assert.Equal(t, "plain", text)

	n.Result = ExecResult{Text: "exec", Quality: 1}
	text, _ = n.ResultText()
	assert.Equal(t, "exec", text)

	n.Result = &ExecResult{Text: "ptr"}
	text, _ = n.ResultText()
	assert.Equal(t, "ptr", text)

	n.Result = 42
	_, ok = n.ResultText()
	assert.False(t, ok)
}

func TestSearchNode_MarshalJSON(t *testing.T) {
	root := NewRootNode(NewSearchState())
	child := NewSearchNode(root.State.AddTurn("a"), "a", root)
	child.Reward = 0.5
	child.Reflection = "boom"

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	children, ok := decoded["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 1)

	c := children[0].(map[string]any)
	assert.Equal(t, "a", c["action"])
	assert.Equal(t, 0.5, c["reward"])
	assert.Equal(t, "boom", c["reflection"])
	assert.Equal(t, float64(1), c["depth"])
}

func TestSearchNode_String(t *testing.T) {
	root := NewRootNode(NewSearchState())
	assert.True(t, strings.Contains(root.String(), "action=<root>"))
}
