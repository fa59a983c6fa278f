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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts completed runs.
	//
	// Labels:
	//   - outcome: "ok" or "cancelled"
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "runs_total",
			Help:      "Total search runs by outcome",
		},
		[]string{"outcome"},
	)

	iterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "iterations_total",
			Help:      "Total search iterations",
		},
	)

	// evaluationsTotal counts node evaluations.
	//
	// Labels:
	//   - status: "success" or "failure"
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "evaluations_total",
			Help:      "Total node evaluations by status",
		},
		[]string{"status"},
	)

	// validationsTotal counts candidate validations.
	//
	// Labels:
	//   - decision: "allowed", "denied" or "error"
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "validations_total",
			Help:      "Total candidate validations by decision",
		},
		[]string{"decision"},
	)

	bestRewardHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "best_reward",
			Help:      "Best reward returned per run",
			Buckets:   []float64{-1, -0.5, 0, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	treeSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aleutian",
			Subsystem: "lats",
			Name:      "last_tree_nodes",
			Help:      "Node count of the most recently finished search tree",
		},
	)
)
