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
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lats/services/lats"
)

func openInMemory(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nodeFor(actions ...string) *lats.SearchNode {
	state := lats.NewSearchState()
	for _, a := range actions {
		state = state.AddTurn(a)
	}
	action := ""
	if len(actions) > 0 {
		action = actions[len(actions)-1]
	}
	return lats.NewSearchNode(state, action, nil)
}

// failingStore errors on every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (Entry, error) { return Entry{}, errors.New("down") }
func (failingStore) Put(context.Context, string, Entry) error   { return errors.New("down") }
func (failingStore) Close() error                               { return nil }

func TestBadgerStore_GetPut(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Put(ctx, "k", Entry{Score: 0.75, StoredAt: now}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.Score, 1e-9)
	assert.True(t, now.Equal(got.StoredAt))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig()
	cfg.Path = dir

	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", Entry{Score: 0.5}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
}

func TestOpenBadger_InvalidConfig(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)

	_, err = OpenBadger(BadgerConfig{InMemory: true, GCDiscardRatio: 2})
	assert.Error(t, err)
}

func TestCachedEvaluator_CachesScores(t *testing.T) {
	var calls atomic.Int32
	inner := lats.EvaluatorFunc(func(context.Context, *lats.SearchNode) (float64, error) {
		calls.Add(1)
		return 0.6, nil
	})
	c := NewCachedEvaluator(inner, openInMemory(t), WithNamespace(Namespace("source")))
	ctx := context.Background()

	for range 3 {
		score, err := c.Evaluate(ctx, nodeFor("strip_html", "truncate"))
		require.NoError(t, err)
		assert.InDelta(t, 0.6, score, 1e-9)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.Evaluate(ctx, nodeFor("truncate", "strip_html"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "different history is a different key")
}

func TestCachedEvaluator_NamespacesAreIsolated(t *testing.T) {
	store := openInMemory(t)
	var calls atomic.Int32
	inner := lats.EvaluatorFunc(func(context.Context, *lats.SearchNode) (float64, error) {
		calls.Add(1)
		return 0.1, nil
	})
	a := NewCachedEvaluator(inner, store, WithNamespace(Namespace("one")))
	b := NewCachedEvaluator(inner, store, WithNamespace(Namespace("two")))

	_, err := a.Evaluate(context.Background(), nodeFor("x"))
	require.NoError(t, err)
	_, err = b.Evaluate(context.Background(), nodeFor("x"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, a.Key(nodeFor("x")), b.Key(nodeFor("x")))
}

func TestCachedEvaluator_ErrorsAreNotCached(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	inner := lats.EvaluatorFunc(func(context.Context, *lats.SearchNode) (float64, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return 0.9, nil
	})
	c := NewCachedEvaluator(inner, openInMemory(t))

	_, err := c.Evaluate(context.Background(), nodeFor("a"))
	assert.ErrorIs(t, err, boom)

	score, err := c.Evaluate(context.Background(), nodeFor("a"))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, score, 1e-9)
}

func TestCachedEvaluator_StoreFailureFailsOpen(t *testing.T) {
	inner := lats.EvaluatorFunc(func(context.Context, *lats.SearchNode) (float64, error) {
		return 0.4, nil
	})
	c := NewCachedEvaluator(inner, failingStore{})

	score, err := c.Evaluate(context.Background(), nodeFor("a"))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, score, 1e-9)
}

func TestCachedEvaluator_InSearch(t *testing.T) {
	store := openInMemory(t)
	var calls atomic.Int32
	eval := lats.EvaluatorFunc(func(_ context.Context, n *lats.SearchNode) (float64, error) {
		calls.Add(1)
		if n.Action == "b" {
			return 0.8, nil
		}
		return 0.3, nil
	})
	proposer := lats.ProposerFunc(func(_ context.Context, n *lats.SearchNode) ([]string, error) {
		if n.Depth() >= 1 {
			return nil, nil
		}
		return []string{"a", "b"}, nil
	})
	cfg := lats.DefaultConfig()
	cfg.MaxVisits = 3
	cfg.MaxDepth = 1

	run := func() *lats.SearchNode {
		s := lats.NewSearcher(cfg,
			lats.WithProposer(proposer),
			lats.WithEvaluator(NewCachedEvaluator(eval, store)))
		best, err := s.Run(context.Background(), lats.NewSearchState())
		require.NoError(t, err)
		return best
	}

	first := run()
	firstCalls := calls.Load()
	second := run()

	assert.Equal(t, "b", first.Action)
	assert.Equal(t, "b", second.Action)
	assert.Equal(t, firstCalls, calls.Load(), "second run is served from the cache")
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("LATS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LATS_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := OpenRedis(ctx, RedisConfig{URL: url, Prefix: "lats:test:" + uuid.NewString() + ":", TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Put(ctx, "k", Entry{Score: 0.25}))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got.Score, 1e-9)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}
