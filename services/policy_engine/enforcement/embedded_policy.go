// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Bakes the planner's policy files into the binary so the rules travel with the
executable and cannot be edited on the host without a rebuild.
*/

package enforcement

import (
	_ "embed"
)

// ActionPolicy holds the raw bytes of 'action_policy.yaml', the rules that
// allow, deny or penalize candidate actions.
//
//go:embed action_policy.yaml
var ActionPolicy []byte

// DataClassificationPatterns holds the raw bytes of
// 'data_classification_patterns.yaml', used to detect sensitive source text.
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte
