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
	"testing"
)

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize_CollapsesWhitespaceAndPossessives(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Apple's   revenue  ", "Apple revenue"},
		{"Microsoft’s net income", "Microsoft net income"},
		{"companies' debt", "companies debt"},
		{"compare AAPL vs MSFT", "compare AAPL vs MSFT"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// Tokenize Tests
// =============================================================================

func TestTokenize_SpansIndexIntoInput(t *testing.T) {
	text := "Apple, Microsoft revenue?"
	tokens := Tokenize(text)
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %+v", len(tokens), tokens)
	}
	for _, tok := range tokens {
		if text[tok.Start:tok.End] != tok.Text {
			t.Errorf("span mismatch: text[%d:%d]=%q, token %q",
				tok.Start, tok.End, text[tok.Start:tok.End], tok.Text)
		}
	}
	if tokens[0].Text != "Apple" || tokens[1].Text != "Microsoft" || tokens[2].Text != "revenue" {
		t.Errorf("unexpected tokens: %+v", tokens)
	}
}

func TestTokenize_KeepsInteriorPunctuation(t *testing.T) {
	tokens := Tokenize("AT&T BRK.B P/E debt-to-equity")
	want := []string{"AT&T", "BRK.B", "P/E", "debt-to-equity"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(want), len(tokens), tokens)
	}
	for i, w := range want {
		if tokens[i].Text != w {
			t.Errorf("token %d = %q, want %q", i, tokens[i].Text, w)
		}
	}
}

func TestTokenize_PurePunctuationYieldsNothing(t *testing.T) {
	if toks := Tokenize("??? !!!"); len(toks) != 0 {
		t.Errorf("expected no tokens, got %+v", toks)
	}
}

// =============================================================================
// NormalizeKey Tests
// =============================================================================

func TestNormalizeKey_BuildAndLookupAgree(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"Johnson & Johnson", "johnson  &  johnson"},
		{"Apple's", "apple"},
		{"Berkshire Hathaway,", "berkshire hathaway"},
		{"P/E ratio", "p/e Ratio"},
	}
	for _, tc := range cases {
		if NormalizeKey(tc.a) != NormalizeKey(tc.b) {
			t.Errorf("NormalizeKey(%q)=%q != NormalizeKey(%q)=%q",
				tc.a, NormalizeKey(tc.a), tc.b, NormalizeKey(tc.b))
		}
	}
}

// =============================================================================
// IsAllUpper Tests
// =============================================================================

func TestIsAllUpper(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"AAPL", true},
		{"BRK.B", true},
		{"V", true},
		{"Apple", false},
		{"cat", false},
		{"Q1", false}, // contains a digit; not a ticker shape
		{".", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsAllUpper(tc.in); got != tc.want {
			t.Errorf("IsAllUpper(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
