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
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

// =============================================================================
// Prompt Templates
// =============================================================================

// promptData feeds the fallback prompt templates.
type promptData struct {
	Catalog       []string
	History       []string
	LastFailure   string
	MaxCandidates int
	Action        string
	Path          []string
	Source        string
	Error         string
	Context       string
}

const proposeTemplate = `You plan clean-up steps for a piece of text.
Choose up to {{.MaxCandidates}} next actions, one per line, names only.
{{- if .Catalog}}

Allowed actions:
{{- range .Catalog}}
- {{.}}
{{- end}}
{{- end}}
{{- if .History}}

Already applied, in order: {{join .History ", "}}
{{- end}}
{{- if .LastFailure}}

The last rejected action failed because: {{.LastFailure}}
Avoid repeating that mistake.
{{- end}}
{{- if .Source}}

Text preview:
{{.Source}}
{{- end}}
`

const scoreTemplate = `Rate how much the action "{{.Action}}" improves the text when applied after [{{join .Path " -> "}}].
{{- if .Source}}

Text preview:
{{.Source}}
{{- end}}

Reply with a single number between 0 and 1.
`

const reflectTemplate = `An automated text clean-up step failed.
Error: {{.Error}}
{{- if .Context}}
Context: {{.Context}}
{{- end}}

In at most 20 words, explain the likely cause.
`

var promptFuncs = template.FuncMap{"join": strings.Join}

var (
	proposePrompt = template.Must(template.New("propose").Funcs(promptFuncs).Parse(proposeTemplate))
	scorePrompt   = template.Must(template.New("score").Funcs(promptFuncs).Parse(scoreTemplate))
	reflectPrompt = template.Must(template.New("reflect").Funcs(promptFuncs).Parse(reflectTemplate))
)

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// =============================================================================
// Reply Parsing
// =============================================================================

var scorePattern = regexp.MustCompile(`(-?\d*\.?\d+)(?:\s*/\s*(\d*\.?\d+))?`)

// parseScore extracts the first number in reply, clamped to [0, 1]. A
// fraction such as "7/10" is divided out. Replies with no number, or with
// a zero denominator, score 0.
func parseScore(reply string) float64 {
	m := scorePattern.FindStringSubmatch(reply)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if m[2] != "" {
		d, err := strconv.ParseFloat(m[2], 64)
		if err != nil || d == 0 {
			return 0
		}
		v /= d
	}
	return min(1, max(0, v))
}

var actionLinePrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// parseActions reads one action per line, dropping list markers, quotes and
// blank lines. When catalog is non-empty only names in it are kept. At most
// limit actions are returned.
func parseActions(reply string, catalog []string, limit int) []string {
	allowed := make(map[string]bool, len(catalog))
	for _, a := range catalog {
		allowed[a] = true
	}

	var out []string
	for _, line := range strings.Split(reply, "\n") {
		name := actionLinePrefix.ReplaceAllString(line, "")
		name = strings.ToLower(strings.Trim(name, " \t\r`\"'.,;:"))
		if name == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		out = append(out, name)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
