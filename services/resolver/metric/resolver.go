// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metric detects financial-metric references against the synonym
// ontology: spaced, hyphenated, slash-separated, and abbreviated forms.
package metric

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/index"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	metricResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "metric_resolver",
		Name:      "resolved_total",
		Help:      "Metric matches produced, by method",
	}, []string{"method"})
)

var tracer = otel.Tracer("finquery.resolver.metric")

// fuzzyMaxWindow bounds the phrase length entering the fuzzy stage. Metric
// phrases run long ("return on invested capital") but a typo in one word
// still leaves the whole phrase within the strict tier.
const fuzzyMaxWindow = 4

// stopwords are query-structure words excluded from the fuzzy stage.
var stopwords = map[string]bool{
	"the": true, "of": true, "and": true, "for": true, "what": true,
	"show": true, "me": true, "was": true, "were": true, "is": true,
	"are": true, "how": true, "did": true, "in": true, "on": true,
	"to": true, "a": true, "an": true, "with": true, "about": true,
	"their": true, "its": true, "vs": true, "versus": true, "by": true,
	"over": true, "between": true, "per": true, "from": true, "compare": true,
	"compared": true, "against": true, "why": true, "will": true,
	"last": true, "past": true, "next": true, "this": true, "year": true,
	"years": true, "quarter": true, "quarters": true, "time": true,
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver detects metric references. Same phrase-then-token-then-fuzzy
// strategy as the company resolver, applied against the metric ontology;
// no ticker or delimiter stages.
//
// # Thread Safety
//
// Safe for concurrent use (all state is read-only after construction).
type Resolver struct {
	idx    *index.AliasIndex
	cfg    *config.ResolverConfig
	logger *slog.Logger
}

// New creates a metric resolver over the given alias index.
func New(idx *index.AliasIndex, cfg *config.ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{idx: idx, cfg: cfg, logger: logger}
}

// Resolve detects all metric references in the normalized utterance.
//
// # Description
//
// Longer phrases are tried before shorter ones so "return on equity" is not
// mis-split into "return" + "equity". The output is an ordered list
// (insertion order = order of appearance), not a set: "show me revenue and
// margin" must answer in that order.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//   - normalized: The normalized utterance (index.Normalize output).
//
// # Outputs
//
//   - []datatypes.Match: Appearance-ordered matches, unique by canonical ID.
//     Empty means no metric was found — a valid outcome.
//   - []datatypes.WarningCode: Ambiguity diagnostics.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, normalized string) ([]datatypes.Match, []datatypes.WarningCode) {
	_, span := tracer.Start(ctx, "metric.Resolve")
	defer span.End()

	tokens := index.Tokenize(normalized)
	consumed := make([]bool, len(tokens))

	var matches []datatypes.Match
	var warnings []datatypes.WarningCode

	// Stage 1: overrides and exact synonym phrases, longest window first.
	for i := 0; i < len(tokens); {
		if consumed[i] {
			i++
			continue
		}
		matchedLen := 0
		n := r.cfg.Phrase.MaxWindow
		if rem := len(tokens) - i; n > rem {
			n = rem
		}
		for ; n >= 1; n-- {
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
				warnings = append(warnings, datatypes.WarnAmbiguousEntity)
			}
			matches = append(matches, r.match(tokens[i].Start, tokens[i+n-1].End, normalized, cands[0], datatypes.MethodAliasExact, 0))
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

	// Stage 2: graduated fuzzy fallback. A single-character typo inside a
	// multi-word phrase still clears the strict tier on the whole phrase.
	for i := 0; i < len(tokens); {
		if consumed[i] || skipFuzzy(tokens[i]) {
			i++
			continue
		}
		matchedLen := 0
		for n := fuzzyMaxWindow; n >= 1; n-- {
			if i+n > len(tokens) || anyConsumed(consumed[i:i+n]) {
				continue
			}
			if skipFuzzy(tokens[i+n-1]) {
				// A phrase must not end in a stopword or a number; interior
				// stopwords are fine ("return on equty").
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

	matches = dedupe(matches)
	for _, m := range matches {
		metricResolvedTotal.WithLabelValues(string(m.Method)).Inc()
	}
	span.SetAttributes(attribute.Int("metric_matches", len(matches)))
	return matches, warnings
}

func skipFuzzy(tok index.Token) bool {
	if stopwords[tok.Lower] {
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

func (r *Resolver) match(start, end int, normalized string, cand index.Candidate, method datatypes.MatchMethod, similarity float64) datatypes.Match {
	conf := method.BaseConfidence()
	if method == datatypes.MethodAliasFuzzy {
		conf = similarity
		if ceiling := datatypes.MethodAliasExact.BaseConfidence() - 0.01; conf > ceiling {
			conf = ceiling
		}
	}
	return datatypes.Match{
		Kind:        datatypes.EntityMetric,
		Span:        datatypes.Span{Text: normalized[start:end], Start: start, End: end},
		CanonicalID: cand.ID,
		DisplayName: cand.DisplayName,
		Method:      method,
		Confidence:  conf,
	}
}

// dedupe keeps the first occurrence per canonical ID, upgrading its method
// if a later span matched the same metric more specifically.
func dedupe(matches []datatypes.Match) []datatypes.Match {
	if len(matches) <= 1 {
		return matches
	}
	best := make(map[string]int, len(matches))
	for i, m := range matches {
		prev, seen := best[m.CanonicalID]
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
