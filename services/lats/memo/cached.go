// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/lats/services/lats"
)

// lookupsTotal counts cache lookups.
//
// Labels:
//   - result: "hit", "miss" or "error"
var lookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "lats_memo",
		Name:      "lookups_total",
		Help:      "Evaluation cache lookups by result",
	},
	[]string{"result"},
)

// CachedEvaluator wraps an Evaluator with a Store.
//
// Only successful scores are cached. Store failures are logged and the
// inner evaluator is used as if the cache were empty. Concurrent calls for
// the same key share one inner evaluation.
//
// Thread Safety: Safe for concurrent use.
type CachedEvaluator struct {
	inner     lats.Evaluator
	store     Store
	namespace string
	group     singleflight.Group
	logger    *slog.Logger
}

// CacheOption configures a CachedEvaluator.
type CacheOption func(*CachedEvaluator)

// WithNamespace scopes keys, typically to one source text, so that runs
// over different inputs never share scores.
func WithNamespace(ns string) CacheOption {
	return func(c *CachedEvaluator) { c.namespace = ns }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *CachedEvaluator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCachedEvaluator creates a caching evaluator.
func NewCachedEvaluator(inner lats.Evaluator, store Store, opts ...CacheOption) *CachedEvaluator {
	c := &CachedEvaluator{inner: inner, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Namespace returns a short digest of text suitable for WithNamespace.
func Namespace(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Key returns the cache key for node.
func (c *CachedEvaluator) Key(node *lats.SearchNode) string {
	return c.namespace + ":" + node.State.HashKey()
}

// Evaluate implements lats.Evaluator.
func (c *CachedEvaluator) Evaluate(ctx context.Context, node *lats.SearchNode) (float64, error) {
	key := c.Key(node)

	entry, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		lookupsTotal.WithLabelValues("hit").Inc()
		return entry.Score, nil
	case errors.Is(err, ErrMiss):
		lookupsTotal.WithLabelValues("miss").Inc()
	default:
		lookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Evaluation cache lookup failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		score, err := c.inner.Evaluate(ctx, node)
		if err != nil {
			return 0.0, err
		}
		if perr := c.store.Put(ctx, key, Entry{Score: score, StoredAt: time.Now()}); perr != nil {
			c.logger.Warn("Evaluation cache store failed",
				slog.String("key", key),
				slog.String("error", perr.Error()))
		}
		return score, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

var _ lats.Evaluator = (*CachedEvaluator)(nil)
