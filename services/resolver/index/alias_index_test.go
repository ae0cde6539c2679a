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

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

// =============================================================================
// Helpers
// =============================================================================

func buildTestCompanyIndex(t *testing.T) *AliasIndex {
	t.Helper()
	entries := []catalog.Entry{
		{ID: "GOOGL", Name: "Alphabet Inc. Class A", Priority: 60, Aliases: []string{"alphabet", "google"}},
		{ID: "GOOG", Name: "Alphabet Inc. Class C", Priority: 40, Aliases: []string{"alphabet", "google"}},
		{ID: "AAPL", Name: "Apple Inc.", Priority: 50, Aliases: []string{"apple", "apple inc"}},
		{ID: "CAT", Name: "Caterpillar Inc.", Priority: 50, Aliases: []string{"caterpillar"}},
		{ID: "JNJ", Name: "Johnson & Johnson", Priority: 50, Aliases: []string{"johnson & johnson", "johnson and johnson", "j&j"}},
	}
	overrides := map[string]string{"google": "GOOGL", "big blue": "IBM"}
	return Build(datatypes.EntityCompany, entries, overrides)
}

// =============================================================================
// LookupExact Tests
// =============================================================================

func TestLookupExact_SharedAliasOrderedByPriority(t *testing.T) {
	idx := buildTestCompanyIndex(t)

	cands := idx.LookupExact("alphabet")
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates for shared alias, got %d", len(cands))
	}
	if cands[0].ID != "GOOGL" || cands[1].ID != "GOOG" {
		t.Errorf("priority ordering broken: %q then %q", cands[0].ID, cands[1].ID)
	}
}

func TestLookupExact_IsCaseAndWhitespaceInsensitive(t *testing.T) {
	idx := buildTestCompanyIndex(t)

	for _, phrase := range []string{"Apple", "APPLE", "  apple  ", "Apple's"} {
		cands := idx.LookupExact(phrase)
		if len(cands) == 0 || cands[0].ID != "AAPL" {
			t.Errorf("LookupExact(%q): want AAPL, got %+v", phrase, cands)
		}
	}
}

func TestLookupExact_CanonicalIDResolves(t *testing.T) {
	idx := buildTestCompanyIndex(t)
	cands := idx.LookupExact("aapl")
	if len(cands) == 0 || cands[0].ID != "AAPL" {
		t.Errorf("canonical ID lookup failed: %+v", cands)
	}
}

func TestLookupExact_ShortTickerNotResolvableCaseInsensitively(t *testing.T) {
	idx := buildTestCompanyIndex(t)
	// "cat" is an ordinary word; only the all-caps symbol path may claim it.
	if cands := idx.LookupExact("cat"); len(cands) != 0 {
		t.Errorf("short ticker leaked into the exact map: %+v", cands)
	}
}

func TestLookupExact_MissIsEmptyNotError(t *testing.T) {
	idx := buildTestCompanyIndex(t)
	if cands := idx.LookupExact("zzyzx"); cands != nil {
		t.Errorf("expected nil on miss, got %+v", cands)
	}
}

// =============================================================================
// LookupOverride Tests
// =============================================================================

func TestLookupOverride_WinsWithMaxPriority(t *testing.T) {
	idx := buildTestCompanyIndex(t)

	cand, ok := idx.LookupOverride("Google")
	if !ok {
		t.Fatal("expected override hit for 'google'")
	}
	if cand.ID != "GOOGL" {
		t.Errorf("override resolved to %q, want GOOGL", cand.ID)
	}
	if cand.Priority != 100 {
		t.Errorf("override priority = %d, want 100", cand.Priority)
	}
}

func TestLookupOverride_MissForNonOverriddenAlias(t *testing.T) {
	idx := buildTestCompanyIndex(t)
	if _, ok := idx.LookupOverride("apple"); ok {
		t.Error("'apple' must not be an override")
	}
}

// =============================================================================
// LookupSymbol Tests
// =============================================================================

func TestLookupSymbol_RequiresExactCase(t *testing.T) {
	idx := buildTestCompanyIndex(t)

	if _, ok := idx.LookupSymbol("CAT"); !ok {
		t.Error("all-caps CAT should resolve as a ticker")
	}
	// "cat" the word must never resolve to CAT the ticker this way.
	if _, ok := idx.LookupSymbol("cat"); ok {
		t.Error("lowercase 'cat' must not resolve as a ticker")
	}
	if _, ok := idx.LookupSymbol("Cat"); ok {
		t.Error("mixed-case 'Cat' must not resolve as a ticker")
	}
}
