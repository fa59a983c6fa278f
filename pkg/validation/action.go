// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided action names.
//
// Action names end up in LLM prompts, cache keys and policy rules, so they
// are restricted to a small, predictable alphabet.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// actionPattern matches valid action names.
// Allows: lowercase letters, digits, underscores. Must start with a letter.
// Max length: 64 characters.
var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateAction validates one action name.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9 and underscores
//   - Start with a letter
//
// Example:
//
//	if err := validation.ValidateAction(name); err != nil {
//	    return fmt.Errorf("bad catalog: %w", err)
//	}
func ValidateAction(action string) error {
	if action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if !actionPattern.MatchString(action) {
		return fmt.Errorf("invalid action name: %q (must be 1-64 lowercase alphanumeric chars or underscores)", action)
	}
	return nil
}

// ValidateActions validates multiple action names.
// Returns an error listing all invalid names if any fail validation.
func ValidateActions(actions []string) error {
	var invalid []string
	for _, a := range actions {
		if err := ValidateAction(a); err != nil {
			invalid = append(invalid, a)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid actions: %q", invalid)
	}
	return nil
}

// SanitizeAction normalizes and validates an action name, so that
// "Strip-HTML " becomes "strip_html".
func SanitizeAction(action string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(action))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if err := ValidateAction(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
