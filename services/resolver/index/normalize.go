// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strings"
	"unicode"
)

// =============================================================================
// Text Normalization and Tokenization
// =============================================================================

// Token is one whitespace-delimited unit of the normalized utterance with its
// byte span preserved for arbitration between resolvers.
type Token struct {
	// Text is the token as it appears in the normalized utterance,
	// original case preserved (ticker detection is case-sensitive).
	Text string

	// Lower is the lowercase form used for alias and cue lookups.
	Lower string

	// Start and End are byte offsets into the normalized utterance.
	Start int
	End   int
}

// Normalize prepares raw input for resolution: trims, collapses internal
// whitespace, and strips possessive suffixes ("Apple's" -> "Apple"). Case is
// preserved; lookups lowercase as needed.
func Normalize(raw string) string {
	fields := strings.Fields(raw)
	for i, f := range fields {
		fields[i] = stripPossessive(f)
	}
	return strings.Join(fields, " ")
}

// stripPossessive removes a trailing 's or ' (both ASCII and typographic
// apostrophes) from a single token.
func stripPossessive(tok string) string {
	for _, suffix := range []string{"'s", "’s"} {
		if len(tok) > len(suffix) && strings.HasSuffix(strings.ToLower(tok), suffix) {
			return tok[:len(tok)-len(suffix)]
		}
	}
	for _, suffix := range []string{"'", "’"} {
		// Bare trailing apostrophe ("companies'").
		if len(tok) > len(suffix) && strings.HasSuffix(tok, suffix) {
			return tok[:len(tok)-len(suffix)]
		}
	}
	return tok
}

// Tokenize splits a normalized utterance into span-tracked tokens.
// Surrounding punctuation is trimmed from each token; interior punctuation
// ("&", ".", "/", "-") survives so "AT&T", "BRK.B" and "P/E" stay whole.
func Tokenize(normalized string) []Token {
	var tokens []Token
	i := 0
	for i < len(normalized) {
		if normalized[i] == ' ' {
			i++
			continue
		}
		start := i
		for i < len(normalized) && normalized[i] != ' ' {
			i++
		}
		raw := normalized[start:i]

		// Trim leading/trailing punctuation while keeping interior marks.
		lead := 0
		for lead < len(raw) && isEdgePunct(rune(raw[lead])) {
			lead++
		}
		trail := len(raw)
		for trail > lead && isEdgePunct(rune(raw[trail-1])) {
			trail--
		}
		if trail <= lead {
			continue
		}
		text := raw[lead:trail]
		tokens = append(tokens, Token{
			Text:  text,
			Lower: strings.ToLower(text),
			Start: start + lead,
			End:   start + trail,
		})
	}
	return tokens
}

// isEdgePunct reports punctuation that should be trimmed from token edges.
// Dots are edge punctuation only at the very end of a token ("Inc.", "2023.")
// but Tokenize trims symmetrically; class tickers like "BRK.B" keep the dot
// because it is interior.
func isEdgePunct(r rune) bool {
	switch r {
	case ',', '?', '!', ';', ':', '(', ')', '"', '\'', '’', '.', '%':
		return true
	}
	return unicode.IsSpace(r)
}

// NormalizeKey canonicalizes an alias or lookup phrase: lowercase,
// possessives stripped, internal whitespace collapsed. Both index build and
// lookup go through this so the two sides cannot drift.
func NormalizeKey(phrase string) string {
	fields := strings.Fields(strings.ToLower(phrase))
	for i, f := range fields {
		f = stripPossessive(f)
		f = strings.Trim(f, ",?!;:()\"'.")
		fields[i] = f
	}
	return strings.Join(fields, " ")
}

// IsAllUpper reports whether the token is entirely uppercase letters (with
// optional interior dot), the shape of a typed ticker symbol.
func IsAllUpper(tok string) bool {
	if tok == "" {
		return false
	}
	seenLetter := false
	for _, r := range tok {
		if r == '.' {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		seenLetter = true
	}
	return seenLetter
}
