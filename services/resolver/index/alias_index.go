// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides the precomputed alias index and the graduated fuzzy
// matcher shared by the company and metric resolvers. The index is built once
// from the entity catalog at startup and is read-only afterwards; building it
// is the single-threaded initialization barrier of the engine.
package index

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	indexLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "alias_index",
		Name:      "lookup_total",
		Help:      "Alias index lookups by kind, stage, and outcome",
	}, []string{"kind", "stage", "outcome"})
)

// =============================================================================
// Alias Index
// =============================================================================

// shortSymbolLen bounds the ticker length below which the canonical ID is
// only resolvable case-sensitively.
const shortSymbolLen = 3

// Candidate is one exact-lookup result: a canonical entity that claims the
// looked-up alias. Multiple entities may share an alias; the caller picks by
// priority and context.
type Candidate struct {
	// ID is the canonical identifier.
	ID string

	// DisplayName is the catalog display name.
	DisplayName string

	// Priority breaks ties deterministically; higher wins.
	Priority int

	// order is the catalog registration index, the final tie-break.
	order int
}

// AliasIndex is the static mapping from normalized alias phrases to
// canonical entity candidates for one entity kind.
//
// # Thread Safety
//
// Read-only after Build; safe for unsynchronized concurrent use.
type AliasIndex struct {
	kind datatypes.EntityKind

	// exact maps NormalizeKey(alias) to all claiming candidates, sorted by
	// priority descending then registration order.
	exact map[string][]Candidate

	// overrides maps NormalizeKey(phrase) to a canonical ID. Overrides win
	// regardless of fuzzy score.
	overrides map[string]string

	// symbols holds canonical IDs verbatim for case-sensitive ticker
	// detection (companies only; empty for metrics).
	symbols map[string]Candidate

	// vocabulary lists every normalized alias once, for fuzzy scanning.
	vocabulary []vocabEntry

	// names maps canonical ID to display name.
	names map[string]string
}

type vocabEntry struct {
	alias string
	cands []Candidate
}

// Build constructs the read-only alias index for one entity kind.
//
// # Description
//
// Every catalog alias and every canonical ID is registered under its
// normalized key. Candidates sharing a key are kept sorted by priority
// descending, registration order ascending, so LookupExact's first element
// is always the deterministic winner.
//
// # Inputs
//
//   - kind: Entity kind the entries belong to.
//   - entries: Catalog entries in registration order.
//   - overrides: Manual override table (normalized phrase -> canonical ID).
//
// # Outputs
//
//   - *AliasIndex: The built index. Never nil.
func Build(kind datatypes.EntityKind, entries []catalog.Entry, overrides map[string]string) *AliasIndex {
	idx := &AliasIndex{
		kind:      kind,
		exact:     make(map[string][]Candidate),
		overrides: make(map[string]string, len(overrides)),
		symbols:   make(map[string]Candidate),
		names:     make(map[string]string, len(entries)),
	}

	for order, e := range entries {
		cand := Candidate{ID: e.ID, DisplayName: e.Name, Priority: e.Priority, order: order}
		idx.names[e.ID] = e.Name

		// The canonical ID itself is resolvable case-insensitively, except
		// short tickers: "cat", "f" and "ge" are ordinary words, so those
		// resolve only through case-sensitive symbol detection.
		idKey := NormalizeKey(e.ID)
		if kind != datatypes.EntityCompany || len(idKey) > shortSymbolLen {
			idx.add(idKey, cand)
		}
		if kind == datatypes.EntityCompany {
			idx.symbols[e.ID] = cand
		}
		for _, alias := range e.Aliases {
			idx.add(NormalizeKey(alias), cand)
		}
	}

	for phrase, id := range overrides {
		idx.overrides[NormalizeKey(phrase)] = id
	}

	// Freeze candidate ordering and build the fuzzy vocabulary.
	idx.vocabulary = make([]vocabEntry, 0, len(idx.exact))
	for alias, cands := range idx.exact {
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].Priority != cands[j].Priority {
				return cands[i].Priority > cands[j].Priority
			}
			return cands[i].order < cands[j].order
		})
		idx.exact[alias] = cands
		idx.vocabulary = append(idx.vocabulary, vocabEntry{alias: alias, cands: cands})
	}
	// Deterministic scan order for fuzzy matching.
	sort.Slice(idx.vocabulary, func(i, j int) bool {
		return idx.vocabulary[i].alias < idx.vocabulary[j].alias
	})

	return idx
}

func (idx *AliasIndex) add(key string, cand Candidate) {
	if key == "" {
		return
	}
	for _, existing := range idx.exact[key] {
		if existing.ID == cand.ID {
			return
		}
	}
	idx.exact[key] = append(idx.exact[key], cand)
}

// Kind returns the entity kind this index covers.
func (idx *AliasIndex) Kind() datatypes.EntityKind { return idx.kind }

// DisplayName returns the catalog display name for a canonical ID.
func (idx *AliasIndex) DisplayName(id string) string { return idx.names[id] }

// LookupExact returns all candidates claiming the normalized phrase, best
// first. An empty result means "unresolved", which is a valid outcome, not
// an error.
func (idx *AliasIndex) LookupExact(phrase string) []Candidate {
	cands := idx.exact[NormalizeKey(phrase)]
	if len(cands) == 0 {
		indexLookupTotal.WithLabelValues(string(idx.kind), "exact", "miss").Inc()
		return nil
	}
	indexLookupTotal.WithLabelValues(string(idx.kind), "exact", "hit").Inc()
	return cands
}

// LookupOverride consults the manual override table. Overrides always win
// regardless of fuzzy score.
func (idx *AliasIndex) LookupOverride(phrase string) (Candidate, bool) {
	id, ok := idx.overrides[NormalizeKey(phrase)]
	if !ok {
		return Candidate{}, false
	}
	indexLookupTotal.WithLabelValues(string(idx.kind), "override", "hit").Inc()
	return Candidate{ID: id, DisplayName: idx.names[id], Priority: 100}, true
}

// LookupSymbol performs case-sensitive ticker detection on a bare token.
// Only all-caps tokens qualify; "cat" never resolves to CAT this way.
func (idx *AliasIndex) LookupSymbol(token string) (Candidate, bool) {
	if !IsAllUpper(token) {
		return Candidate{}, false
	}
	cand, ok := idx.symbols[token]
	if ok {
		indexLookupTotal.WithLabelValues(string(idx.kind), "symbol", "hit").Inc()
	}
	return cand, ok
}
