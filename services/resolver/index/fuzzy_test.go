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
	"math"
	"testing"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

func testFuzzyConfig() config.FuzzyConfig {
	return config.FuzzyConfig{
		Tiers:            []float64{0.85, 0.80, 0.75, 0.70},
		ShortTokenLength: 3,
		ShortTokenFloor:  0.90,
		MaxCandidates:    5,
	}
}

func buildFuzzyTestIndex(t *testing.T) *AliasIndex {
	t.Helper()
	entries := []catalog.Entry{
		{ID: "MSFT", Name: "Microsoft Corporation", Priority: 50, Aliases: []string{"microsoft"}},
		{ID: "AAPL", Name: "Apple Inc.", Priority: 50, Aliases: []string{"apple"}},
		{ID: "AMD", Name: "Advanced Micro Devices Inc.", Priority: 50, Aliases: []string{"amd"}},
	}
	return Build(datatypes.EntityCompany, entries, nil)
}

// =============================================================================
// Similarity Tests
// =============================================================================

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"apple", "apple", 1.0},
		{"microsft", "microsoft", 1.0 - 1.0/9.0},
		{"aple", "apple", 0.8},
		{"", "", 0.0},
		{"a", "z", 0.0},
	}
	for _, tc := range cases {
		got := Similarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

// =============================================================================
// LookupFuzzy Tests
// =============================================================================

func TestLookupFuzzy_SingleTypoClearsStrictTier(t *testing.T) {
	idx := buildFuzzyTestIndex(t)

	hits := idx.LookupFuzzy("microsft", testFuzzyConfig())
	if len(hits) == 0 {
		t.Fatal("expected a fuzzy hit for 'microsft'")
	}
	if hits[0].ID != "MSFT" {
		t.Errorf("best hit = %q, want MSFT", hits[0].ID)
	}
	if hits[0].Similarity < 0.85 {
		t.Errorf("similarity %f should clear the strict tier", hits[0].Similarity)
	}
}

func TestLookupFuzzy_FallsThroughToLooserTier(t *testing.T) {
	idx := buildFuzzyTestIndex(t)

	// "aple" vs "apple" scores exactly 0.80: below strict, caught by the
	// first loose tier.
	hits := idx.LookupFuzzy("aple", testFuzzyConfig())
	if len(hits) == 0 {
		t.Fatal("expected a fuzzy hit for 'aple'")
	}
	if hits[0].ID != "AAPL" {
		t.Errorf("best hit = %q, want AAPL", hits[0].ID)
	}
}

func TestLookupFuzzy_ShortTokenUsesStricterFloor(t *testing.T) {
	idx := buildFuzzyTestIndex(t)

	// "amd" resolves exactly; a one-edit variant of a 3-character token
	// scores at most 2/3 and must fail the 0.90 short-token floor.
	if hits := idx.LookupFuzzy("amd", testFuzzyConfig()); len(hits) == 0 || hits[0].ID != "AMD" {
		t.Fatalf("exact short token should still hit: %+v", hits)
	}
	if hits := idx.LookupFuzzy("amx", testFuzzyConfig()); len(hits) != 0 {
		t.Errorf("one-edit 3-char token must miss under the short floor, got %+v", hits)
	}
}

func TestLookupFuzzy_MissIsEmptyNotError(t *testing.T) {
	idx := buildFuzzyTestIndex(t)
	if hits := idx.LookupFuzzy("zzzzzzzz", testFuzzyConfig()); len(hits) != 0 {
		t.Errorf("expected no hits, got %+v", hits)
	}
}

func TestLookupFuzzy_DeterministicRanking(t *testing.T) {
	idx := buildFuzzyTestIndex(t)
	cfg := testFuzzyConfig()

	first := idx.LookupFuzzy("microsft", cfg)
	for i := 0; i < 10; i++ {
		again := idx.LookupFuzzy("microsft", cfg)
		if len(again) != len(first) {
			t.Fatalf("non-deterministic hit count: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].ID != first[j].ID {
				t.Fatalf("non-deterministic ranking at %d: %q vs %q", j, again[j].ID, first[j].ID)
			}
		}
	}
}
