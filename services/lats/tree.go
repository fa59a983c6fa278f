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
	"fmt"
	"strings"
)

// CountNodes returns the number of nodes in the subtree rooted at n.
func CountNodes(n *SearchNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.children {
		total += CountNodes(c)
	}
	return total
}

// MaxDepth returns the depth of the deepest node below n, relative to n.
func MaxDepth(n *SearchNode) int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, c := range n.children {
		deepest = max(deepest, 1+MaxDepth(c))
	}
	return deepest
}

// FormatTree renders the tree below root. Nodes on the path to best are
// starred; failed evaluations are marked with ✗. best may be nil.
func FormatTree(root, best *SearchNode) string {
	if root == nil {
		return "Empty tree"
	}

	onPath := make(map[string]bool)
	if best != nil {
		for _, n := range best.PathFromRoot() {
			onPath[n.ID] = true
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Nodes: %d, Max Depth: %d\n", CountNodes(root), MaxDepth(root)))
	if best != nil {
		sb.WriteString(fmt.Sprintf("Best Reward: %.2f\n", best.Reward))
	}
	sb.WriteString("\n")
	formatNode(&sb, root, "", true, onPath)
	return sb.String()
}

func formatNode(sb *strings.Builder, node *SearchNode, prefix string, isLast bool, onPath map[string]bool) {
	branch := "├── "
	if isLast {
		branch = "└── "
	}

	label := node.Action
	if !node.HasAction() {
		label = "<root>"
	}
	marker := ""
	if node.Reflection != "" {
		marker += " ✗"
	}
	if onPath[node.ID] {
		marker += " ★"
	}

	sb.WriteString(fmt.Sprintf("%s%s%s (reward: %.2f, visits: %d)%s\n",
		prefix, branch, truncateForObs(label, 40), node.Reward, node.Visits, marker))

	childPrefix := prefix
	if isLast {
		childPrefix += "    "
	} else {
		childPrefix += "│   "
	}
	for i, c := range node.children {
		formatNode(sb, c, childPrefix, i == len(node.children)-1, onPath)
	}
}
