// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memo caches evaluation scores across runs, keyed by the
// search state digest.
//
// Two stores are provided:
//
//	BadgerStore  local embedded storage (or in memory for tests)
//	RedisStore   shared storage for several planner processes
package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("memo: cache miss")

// Entry is one cached evaluation.
type Entry struct {
	Score    float64   `json:"score"`
	StoredAt time.Time `json:"stored_at"`
}

// Store persists entries by key.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Get returns ErrMiss when nothing is stored under key.
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, e Entry) error
	Close() error
}

func encode(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}
