// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textops

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/yuin/goldmark"
	"golang.org/x/text/unicode/norm"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// Separators tried, in order, when cutting text to a length.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// blockElements get a line break after them so paragraphs survive
// flattening to text.
const blockElements = "p, div, li, tr, br, h1, h2, h3, h4, h5, h6, pre, blockquote, section, article"

func trimWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func collapseSpaces(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

// dedupeLines drops repeated non-blank lines, keeping the first copy.
func dedupeLines(text string) string {
	lines := strings.Split(text, "\n")
	seen := make(map[string]bool, len(lines))
	kept := lines[:0]
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func normalizeUnicode(text string) string {
	return norm.NFKC.String(text)
}

func stripHTML(text string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, head").Remove()
	doc.Find(blockElements).AppendHtml("\n")

	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

func stripMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return stripHTML(buf.String())
}

func newSplitter(chunkSize, overlap int) textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(defaultSeparators),
	)
}

// truncate shortens text to at most maxLength runes, preferring to cut at
// a paragraph, line, sentence or word boundary. maxLength <= 0 leaves the
// text unchanged.
func truncate(text string, maxLength int) (string, error) {
	if maxLength <= 0 || runeLen(text) <= maxLength {
		return text, nil
	}
	chunks, err := newSplitter(maxLength, 0).SplitText(text)
	if err != nil {
		return "", fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}
	return cutRunes(strings.TrimSpace(chunks[0]), maxLength), nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func cutRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
