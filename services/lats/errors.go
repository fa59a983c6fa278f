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
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid search config")

	// ErrNoGenerator is returned by LLM fallbacks when no generator is set.
	ErrNoGenerator = errors.New("no content generator configured")

	// ErrHookPanic wraps a panic raised inside an external hook.
	ErrHookPanic = errors.New("hook panicked")
)

// recoverHook converts a panic in a hook into an error wrapping ErrHookPanic.
// Use as: defer recoverHook("evaluator", &err)
func recoverHook(hook string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: %w: %v", hook, ErrHookPanic, r)
	}
}
