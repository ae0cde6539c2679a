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
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/finquery/services/resolver/config"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	fuzzyTierUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "fuzzy",
		Name:      "tier_used_total",
		Help:      "Which graduated similarity tier produced the accepted candidates",
	}, []string{"kind", "tier"})

	fuzzyMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "fuzzy",
		Name:      "miss_total",
		Help:      "Fuzzy lookups where no candidate cleared any tier",
	}, []string{"kind"})
)

// =============================================================================
// Graduated Fuzzy Matching
// =============================================================================

// FuzzyCandidate is one ranked approximate match.
type FuzzyCandidate struct {
	// ID is the canonical identifier of the matched entity.
	ID string

	// DisplayName is the catalog display name.
	DisplayName string

	// Alias is the vocabulary entry that matched.
	Alias string

	// Similarity is 1 - editDistance/maxLen, in [0,1].
	Similarity float64

	// Priority is the catalog tie-break priority of the entity.
	Priority int
}

// Similarity computes normalized edit-distance similarity between two
// already-normalized strings: 1.0 is identical, 0.0 is completely unrelated.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0.0
	}
	return sim
}

// LookupFuzzy returns ranked approximate matches for a token or short phrase.
//
// # Description
//
// The matcher attempts the strictest similarity tier first and only falls
// through to progressively looser tiers when no candidate cleared the
// stricter one. This ordering prevents a loose fuzzy match from winning when
// a near-exact one exists and bounds false positives on short, common words.
//
// Tokens at or below the configured short-token length use the stricter
// short-token floor instead of the graduated tiers: a single-character edit
// on a 3-character token is as likely noise as signal.
//
// Manual overrides are NOT consulted here; callers check LookupOverride
// before falling back to fuzzy, so an override can never lose to a score.
//
// # Inputs
//
//   - phrase: Normalized token or short phrase to match.
//   - cfg: Fuzzy tuning (tiers, short-token floor, candidate cap).
//
// # Outputs
//
//   - []FuzzyCandidate: Ranked by similarity descending, then priority
//     descending, then alias. Empty means "unresolved" — a valid outcome.
//
// # Thread Safety
//
// Read-only; safe for concurrent use.
func (idx *AliasIndex) LookupFuzzy(phrase string, cfg config.FuzzyConfig) []FuzzyCandidate {
	key := NormalizeKey(phrase)
	if key == "" {
		return nil
	}

	tiers := cfg.Tiers
	if len(key) <= cfg.ShortTokenLength {
		tiers = []float64{cfg.ShortTokenFloor}
	}

	// Score the whole vocabulary once; tier selection filters the scores.
	type scored struct {
		entry vocabEntry
		sim   float64
	}
	var all []scored
	for _, ve := range idx.vocabulary {
		// Cheap length pre-filter: similarity cannot clear the loosest tier
		// when lengths differ by more than the allowed edit budget.
		loosest := tiers[len(tiers)-1]
		if !lengthCompatible(key, ve.alias, loosest) {
			continue
		}
		if sim := Similarity(key, ve.alias); sim > 0 {
			all = append(all, scored{entry: ve, sim: sim})
		}
	}

	for tierIdx, cutoff := range tiers {
		var hits []FuzzyCandidate
		for _, s := range all {
			if s.sim < cutoff {
				continue
			}
			for _, cand := range s.entry.cands {
				hits = append(hits, FuzzyCandidate{
					ID:          cand.ID,
					DisplayName: cand.DisplayName,
					Alias:       s.entry.alias,
					Similarity:  s.sim,
					Priority:    cand.Priority,
				})
			}
		}
		if len(hits) == 0 {
			continue
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Similarity != hits[j].Similarity {
				return hits[i].Similarity > hits[j].Similarity
			}
			if hits[i].Priority != hits[j].Priority {
				return hits[i].Priority > hits[j].Priority
			}
			return hits[i].Alias < hits[j].Alias
		})
		hits = dedupeByID(hits)
		if len(hits) > cfg.MaxCandidates {
			hits = hits[:cfg.MaxCandidates]
		}
		fuzzyTierUsed.WithLabelValues(string(idx.kind), tierLabel(tierIdx)).Inc()
		return hits
	}

	fuzzyMissTotal.WithLabelValues(string(idx.kind)).Inc()
	return nil
}

// lengthCompatible is a pre-filter: when the length difference alone already
// exceeds the edit budget implied by the loosest cutoff, skip the distance
// computation.
func lengthCompatible(a, b string, loosestCutoff float64) bool {
	la, lb := len(a), len(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	budget := float64(maxLen) * (1.0 - loosestCutoff)
	return float64(diff) <= budget
}

// dedupeByID keeps the best-ranked candidate per canonical ID.
func dedupeByID(hits []FuzzyCandidate) []FuzzyCandidate {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out
}

// tierLabel renders a tier index for the metric label.
func tierLabel(i int) string {
	switch i {
	case 0:
		return "strict"
	case 1:
		return "loose_1"
	case 2:
		return "loose_2"
	default:
		return "loose_3"
	}
}
