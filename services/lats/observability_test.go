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
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateForObs(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short is kept", "abc", 10, "abc"},
		{"ascii cut", "abcdefghij", 8, "abcde..."},
		{"tiny limit has no marker", "abcdef", 2, "ab"},
		{"cut backs off a split rune", "aéééé", 7, "aé..."},
		{"tiny limit backs off a split rune", "éé", 3, "é"},
		{"limit inside first rune", "日本", 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateForObs(tt.in, tt.maxLen)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.maxLen)
		})
	}
}

func TestTruncateForObs_MultibyteNeverSplits(t *testing.T) {
	in := strings.Repeat("日本語", 40)
	for n := 0; n < len(in); n++ {
		got := truncateForObs(in, n)
		assert.True(t, utf8.ValidString(got), "maxLen %d", n)
		assert.LessOrEqual(t, len(got), n, "maxLen %d", n)
	}
}
