// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package company detects company references in a normalized utterance:
// ticker symbols, full and partial names, and multi-company lists joined by
// commas, "and", or "vs"/"versus".
package company

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/index"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	companyResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "company_resolver",
		Name:      "resolved_total",
		Help:      "Company matches produced, by method",
	}, []string{"method"})

	companySegmentsHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "finquery",
		Subsystem: "company_resolver",
		Name:      "segments",
		Help:      "Delimited segments detected per utterance",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	})
)

var tracer = otel.Tracer("finquery.resolver.company")

// =============================================================================
// Delimiter Detection
// =============================================================================

// segmentDelimiter splits multi-company lists. The comma alternative matches
// the character literally with optional surrounding whitespace — a comma has
// no surrounding word characters, so a \b-anchored pattern would never fire.
// An optional "and" after the comma absorbs the Oxford-comma form
// ("Apple, Microsoft, and Google").
var segmentDelimiter = regexp.MustCompile(`\s*,\s*(?:and\s+)?|\s+(?:vs\.?|versus)\s+|\s+and\s+`)

// =============================================================================
// Resolver
// =============================================================================

// Resolver detects company references using the alias index and the
// graduated fuzzy matcher.
//
// # Thread Safety
//
// Safe for concurrent use (all state is read-only after construction).
type Resolver struct {
	idx    *index.AliasIndex
	cfg    *config.ResolverConfig
	logger *slog.Logger
}

// New creates a company resolver over the given alias index.
func New(idx *index.AliasIndex, cfg *config.ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{idx: idx, cfg: cfg, logger: logger}
}

// fuzzyStopwords are query-structure words that must never be fuzzy-matched
// against company names ("for" is one edit from "ford").
var fuzzyStopwords = map[string]bool{
	"the": true, "of": true, "and": true, "for": true, "what": true,
	"show": true, "me": true, "was": true, "were": true, "is": true,
	"are": true, "how": true, "did": true, "in": true, "on": true,
	"to": true, "a": true, "an": true, "with": true, "about": true,
	"their": true, "its": true, "vs": true, "versus": true, "by": true,
	"over": true, "between": true, "per": true, "from": true, "compare": true,
	"compared": true, "against": true, "why": true, "will": true,
	"last": true, "past": true, "next": true, "this": true, "year": true,
	"years": true, "quarter": true, "quarters": true,
}

// Resolve detects all company references in the normalized utterance.
//
// # Description
//
// The utterance is split into delimited segments (comma lists, "vs",
// "and"). Adjacent segments that re-join into a catalog phrase are merged
// first, so a legal name that is itself a conjunction ("Johnson & Johnson",
// "johnson and johnson") never splits into two companies. Within each
// segment resolution runs ticker-first: case-sensitive symbol detection,
// then manual overrides and exact alias phrases (longest window first),
// then the graduated fuzzy fallback.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//   - normalized: The normalized utterance (index.Normalize output).
//
// # Outputs
//
//   - []datatypes.Match: Matches ordered by appearance, unique by canonical
//     ID. Empty means no company reference was found — a valid outcome.
//   - []datatypes.WarningCode: Ambiguity diagnostics; never nil on ambiguity.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, normalized string) ([]datatypes.Match, []datatypes.WarningCode) {
	_, span := tracer.Start(ctx, "company.Resolve")
	defer span.End()

	segments := r.splitSegments(normalized)
	companySegmentsHist.Observe(float64(len(segments)))

	var matches []datatypes.Match
	var warnings []datatypes.WarningCode
	for _, seg := range segments {
		segMatches, segWarnings := r.resolveSegment(normalized, seg)
		matches = append(matches, segMatches...)
		warnings = append(warnings, segWarnings...)
	}

	matches = dedupe(matches)
	for _, m := range matches {
		companyResolvedTotal.WithLabelValues(string(m.Method)).Inc()
	}
	return matches, warnings
}

// segment is a half-open byte range of the normalized utterance.
type segment struct {
	start, end int
}

// splitSegments splits on list delimiters, then merges back any adjacent
// pair whose conjunction-joined text is itself a catalog phrase.
func (r *Resolver) splitSegments(normalized string) []segment {
	var segs []segment
	prev := 0
	for _, loc := range segmentDelimiter.FindAllStringIndex(normalized, -1) {
		if loc[0] > prev {
			segs = append(segs, segment{start: prev, end: loc[0]})
		}
		prev = loc[1]
	}
	if prev < len(normalized) {
		segs = append(segs, segment{start: prev, end: len(normalized)})
	}

	// Conjunction non-split: if some suffix of the previous segment joined
	// over the delimiter with some prefix of the next reproduces a known
	// alias or override ("johnson and johnson"), the delimiter is part of a
	// legal name, not a list separator. Merge and let phrase matching find
	// the whole name.
	merged := segs[:0]
	for _, s := range segs {
		if n := len(merged); n > 0 && r.joinsAcross(normalized, merged[n-1], s) {
			merged[n-1].end = s.end
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// joinsAcross reports whether any catalog phrase spans the delimiter between
// two adjacent segments.
func (r *Resolver) joinsAcross(normalized string, a, b segment) bool {
	at := index.Tokenize(normalized[a.start:a.end])
	bt := index.Tokenize(normalized[b.start:b.end])
	if len(at) == 0 || len(bt) == 0 {
		return false
	}
	window := r.cfg.Phrase.MaxWindow
	for i := len(at) - 1; i >= 0 && len(at)-i <= window; i-- {
		for j := 0; j < len(bt) && j < window; j++ {
			phrase := normalized[a.start+at[i].Start : b.start+bt[j].End]
			if len(r.idx.LookupExact(phrase)) > 0 {
				return true
			}
			if _, ok := r.idx.LookupOverride(phrase); ok {
				return true
			}
		}
	}
	return false
}

// resolveSegment runs the staged lookup inside one delimited segment.
func (r *Resolver) resolveSegment(normalized string, seg segment) ([]datatypes.Match, []datatypes.WarningCode) {
	tokens := index.Tokenize(normalized[seg.start:seg.end])
	for i := range tokens {
		tokens[i].Start += seg.start
		tokens[i].End += seg.start
	}

	var matches []datatypes.Match
	var warnings []datatypes.WarningCode
	consumed := make([]bool, len(tokens))

	// Stage 1: ticker symbols, case-sensitive, single tokens.
	for i, tok := range tokens {
		if cand, ok := r.idx.LookupSymbol(tok.Text); ok {
			matches = append(matches, r.match(tok.Start, tok.End, normalized, cand, datatypes.MethodDirect, 0))
			consumed[i] = true
		}
	}

	// Stage 2: overrides and exact alias phrases, longest window first.
	window := r.cfg.Phrase.MaxWindow
	for i := 0; i < len(tokens); {
		if consumed[i] {
			i++
			continue
		}
		n := window
		if rem := len(tokens) - i; n > rem {
			n = rem
		}
		matchedLen := 0
		for ; n >= 1 && matchedLen == 0; n-- {
			if anyConsumed(consumed[i : i+n]) {
				continue
			}
			phrase := joinTokens(tokens[i : i+n])
			if cand, ok := r.idx.LookupOverride(phrase); ok {
				matches = append(matches, r.match(tokens[i].Start, tokens[i+n-1].End, normalized, cand, datatypes.MethodManualOverride, 0))
				matchedLen = n
				break
			}
			cands := r.idx.LookupExact(phrase)
			if len(cands) == 0 {
				continue
			}
			if len(cands) > 1 && cands[0].Priority == cands[1].Priority {
				// Equal-priority tie: first-registered entity wins, audibly.
				warnings = append(warnings, datatypes.WarnAmbiguousEntity)
			}
			matches = append(matches, r.match(tokens[i].Start, tokens[i+n-1].End, normalized, cands[0], datatypes.MethodAliasExact, 0))
			matchedLen = n
		}
		if matchedLen > 0 {
			for k := i; k < i+matchedLen; k++ {
				consumed[k] = true
			}
			i += matchedLen
		} else {
			i++
		}
	}

	// Stage 3: fuzzy fallback over unconsumed tokens, two-token phrases
	// before single tokens so "berkshire hathway" recovers whole.
	for i := 0; i < len(tokens); {
		if consumed[i] || skipFuzzy(tokens[i]) {
			i++
			continue
		}
		matchedLen := 0
		for n := 2; n >= 1; n-- {
			if i+n > len(tokens) || anyConsumed(consumed[i:i+n]) {
				continue
			}
			if n == 2 && skipFuzzy(tokens[i+1]) {
				continue
			}
			hits := r.idx.LookupFuzzy(joinTokens(tokens[i:i+n]), r.cfg.Fuzzy)
			if len(hits) == 0 {
				continue
			}
			best := hits[0]
			if len(hits) > 1 && hits[1].Similarity == best.Similarity && hits[1].Priority == best.Priority {
				warnings = append(warnings, datatypes.WarnAmbiguousEntity)
			}
			cand := index.Candidate{ID: best.ID, DisplayName: best.DisplayName, Priority: best.Priority}
			matches = append(matches, r.match(tokens[i].Start, tokens[i+n-1].End, normalized, cand, datatypes.MethodAliasFuzzy, best.Similarity))
			matchedLen = n
			break
		}
		if matchedLen > 0 {
			for k := i; k < i+matchedLen; k++ {
				consumed[k] = true
			}
			i += matchedLen
		} else {
			i++
		}
	}

	return matches, warnings
}

// skipFuzzy filters tokens that must not enter the fuzzy stage: structural
// stopwords and anything containing a digit (years and quarters belong to
// the time grammar).
func skipFuzzy(tok index.Token) bool {
	if fuzzyStopwords[tok.Lower] {
		return true
	}
	return strings.ContainsAny(tok.Text, "0123456789")
}

func anyConsumed(window []bool) bool {
	for _, c := range window {
		if c {
			return true
		}
	}
	return false
}

func joinTokens(tokens []index.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// match builds a Match; fuzzy matches carry their similarity, capped below
// the alias_exact base so the method confidence ordering holds.
func (r *Resolver) match(start, end int, normalized string, cand index.Candidate, method datatypes.MatchMethod, similarity float64) datatypes.Match {
	conf := method.BaseConfidence()
	if method == datatypes.MethodAliasFuzzy {
		conf = similarity
		if ceiling := datatypes.MethodAliasExact.BaseConfidence() - 0.01; conf > ceiling {
			conf = ceiling
		}
	}
	return datatypes.Match{
		Kind:        datatypes.EntityCompany,
		Span:        datatypes.Span{Text: normalized[start:end], Start: start, End: end},
		CanonicalID: cand.ID,
		DisplayName: cand.DisplayName,
		Method:      method,
		Confidence:  conf,
	}
}

// dedupe keeps one Match per canonical ID: the highest-priority method, and
// among equals the earliest span. Output preserves order of appearance.
func dedupe(matches []datatypes.Match) []datatypes.Match {
	if len(matches) <= 1 {
		return matches
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Span.Start < matches[j].Span.Start
	})
	best := make(map[string]int, len(matches))
	for i, m := range matches {
		prev, seen := best[m.CanonicalID]
		// First occurrence is the earliest span; a later occurrence only
		// replaces it when its method outranks the kept one.
		if !seen || methodRank(m.Method) > methodRank(matches[prev].Method) {
			best[m.CanonicalID] = i
		}
	}
	var out []datatypes.Match
	seen := make(map[string]bool, len(best))
	for _, m := range matches {
		if seen[m.CanonicalID] {
			continue
		}
		seen[m.CanonicalID] = true
		out = append(out, matches[best[m.CanonicalID]])
	}
	return out
}

func methodRank(m datatypes.MatchMethod) int {
	switch m {
	case datatypes.MethodDirect:
		return 5
	case datatypes.MethodManualOverride:
		return 4
	case datatypes.MethodAliasExact:
		return 3
	case datatypes.MethodAliasFuzzy:
		return 2
	case datatypes.MethodContextInferred:
		return 1
	}
	return 0
}
