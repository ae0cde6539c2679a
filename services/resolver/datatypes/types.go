// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared wire and domain types of the query
// resolution engine: entity matches, time period specifications, intents,
// warning codes, and the terminal QueryPlan artifact consumed by the
// analytics engine.
package datatypes

import (
	"fmt"
	"strings"
)

// =============================================================================
// Entity Kinds and Match Methods
// =============================================================================

// EntityKind distinguishes the two resolvable vocabularies.
type EntityKind string

const (
	// EntityCompany identifies a company (resolved to a ticker symbol).
	EntityCompany EntityKind = "company"

	// EntityMetric identifies a financial metric (resolved to a metric key).
	EntityMetric EntityKind = "metric"
)

// MatchMethod records how a Match was produced. Confidence is monotonic in
// method specificity: direct and manual_override sit at or above alias_exact,
// which sits above alias_fuzzy, which sits above context_inferred.
type MatchMethod string

const (
	// MethodDirect is an exact hit on the canonical identifier itself
	// (e.g. the ticker "AAPL" typed verbatim).
	MethodDirect MatchMethod = "direct"

	// MethodManualOverride is a hit on the curated override table. Overrides
	// win regardless of any fuzzy score.
	MethodManualOverride MatchMethod = "manual_override"

	// MethodAliasExact is an exact hit on a catalog alias after normalization.
	MethodAliasExact MatchMethod = "alias_exact"

	// MethodAliasFuzzy is an approximate hit produced by the fuzzy matcher.
	MethodAliasFuzzy MatchMethod = "alias_fuzzy"

	// MethodContextInferred means the entity was inherited from the prior
	// query plan of the conversation, not found in the utterance.
	MethodContextInferred MatchMethod = "context_inferred"
)

// BaseConfidence returns the fixed confidence assigned to non-fuzzy methods.
// Fuzzy matches carry their similarity score instead, capped below the
// alias_exact floor so the method ordering invariant holds.
func (m MatchMethod) BaseConfidence() float64 {
	switch m {
	case MethodDirect, MethodManualOverride:
		return 1.0
	case MethodAliasExact:
		return 0.95
	case MethodContextInferred:
		return 0.60
	default:
		return 0.0
	}
}

// =============================================================================
// Match
// =============================================================================

// Span locates a matched substring in the original utterance.
type Span struct {
	// Text is the original substring as typed by the user.
	Text string `json:"text"`

	// Start is the byte offset of the substring in the normalized utterance.
	Start int `json:"start"`

	// End is the byte offset one past the last byte of the substring.
	End int `json:"end"`
}

// Overlaps reports whether two spans share any byte range.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Match is the unit of resolver output: one detected entity reference.
//
// # Description
//
// A Match binds an input span to a canonical identifier together with the
// method that produced it and a confidence in [0,1]. Matches are immutable
// once emitted by a resolver.
type Match struct {
	// Kind is the vocabulary the canonical ID belongs to.
	Kind EntityKind `json:"kind"`

	// Span is the original substring and its position.
	Span Span `json:"span"`

	// CanonicalID is the stable identifier (ticker or metric key).
	CanonicalID string `json:"canonical_id"`

	// DisplayName is the catalog display name for the entity.
	DisplayName string `json:"display_name,omitempty"`

	// Method records how the match was produced.
	Method MatchMethod `json:"method"`

	// Confidence is in [0,1] and monotonic in method specificity.
	Confidence float64 `json:"confidence"`
}

// =============================================================================
// Time Period Specification
// =============================================================================

// Granularity is the time resolution unit combined with calendar/fiscal
// framing. A TimePeriodSpec carries exactly one granularity; a Range never
// mixes quarters with years.
type Granularity string

const (
	GranCalendarYear    Granularity = "calendar_year"
	GranFiscalYear      Granularity = "fiscal_year"
	GranCalendarQuarter Granularity = "calendar_quarter"
	GranFiscalQuarter   Granularity = "fiscal_quarter"
	GranMonth           Granularity = "month"
	GranHalfYear        Granularity = "half_year"
)

// IsQuarter reports whether the granularity is quarter-resolution.
func (g Granularity) IsQuarter() bool {
	return g == GranCalendarQuarter || g == GranFiscalQuarter
}

// PeriodKind tags the TimePeriodSpec variant.
type PeriodKind string

const (
	// PeriodSingle is one concrete period (one year, one quarter, one month).
	PeriodSingle PeriodKind = "single"

	// PeriodRange is one interval spanning two endpoints. Downstream this
	// means "the interval" (e.g. a CAGR over the span), not a list.
	PeriodRange PeriodKind = "range"

	// PeriodMulti is several discrete periods evaluated independently.
	PeriodMulti PeriodKind = "multi"

	// PeriodRelative is a window relative to now ("last 3 years").
	PeriodRelative PeriodKind = "relative"

	// PeriodLatest defers to the most recent available period. This is a
	// valid first-class outcome, not a parse failure.
	PeriodLatest PeriodKind = "latest"
)

// PeriodPoint is one concrete period boundary value. Quarter, Month and Half
// are zero unless the granularity requires them.
type PeriodPoint struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter,omitempty"` // 1..4 for quarter granularities
	Month   int `json:"month,omitempty"`   // 1..12 for month granularity
	Half    int `json:"half,omitempty"`    // 1..2 for half_year granularity
}

// String renders a point for logs and cache keys, e.g. "2023", "Q1 2023".
func (p PeriodPoint) String() string {
	switch {
	case p.Quarter > 0:
		return fmt.Sprintf("Q%d %d", p.Quarter, p.Year)
	case p.Month > 0:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	case p.Half > 0:
		return fmt.Sprintf("H%d %d", p.Half, p.Year)
	default:
		return fmt.Sprintf("%d", p.Year)
	}
}

// TimePeriodSpec is the tagged time value produced by the time grammar.
//
// Exactly one variant shape is populated per Kind:
//
//	Single   - Points[0]
//	Range    - Points[0] (start) and Points[1] (end)
//	Multi    - Points[0..n], in order of appearance
//	Relative - Count (N periods back from now; 1 for current/this/next/previous)
//	Latest   - no boundary values
type TimePeriodSpec struct {
	Kind        PeriodKind    `json:"kind"`
	Granularity Granularity   `json:"granularity,omitempty"`
	Points      []PeriodPoint `json:"points,omitempty"`

	// Count is the window size for Relative specs.
	Count int `json:"count,omitempty"`

	// Direction is "past", "current" or "future" for Relative specs
	// ("last N years" is past, "this quarter" is current, "next year" is
	// future).
	Direction string `json:"direction,omitempty"`
}

// Latest returns the deferred-to-most-recent spec.
func Latest() TimePeriodSpec {
	return TimePeriodSpec{Kind: PeriodLatest}
}

// String renders the spec compactly for logs and cache fingerprints.
func (t TimePeriodSpec) String() string {
	switch t.Kind {
	case PeriodLatest:
		return "latest"
	case PeriodSingle:
		if len(t.Points) == 0 {
			return "single/?"
		}
		return fmt.Sprintf("single/%s/%s", t.Granularity, t.Points[0])
	case PeriodRange:
		if len(t.Points) < 2 {
			return "range/?"
		}
		return fmt.Sprintf("range/%s/%s..%s", t.Granularity, t.Points[0], t.Points[1])
	case PeriodMulti:
		parts := make([]string, len(t.Points))
		for i, p := range t.Points {
			parts[i] = p.String()
		}
		return fmt.Sprintf("multi/%s/%s", t.Granularity, strings.Join(parts, ","))
	case PeriodRelative:
		return fmt.Sprintf("relative/%s/%s%d", t.Granularity, t.Direction, t.Count)
	default:
		return string(t.Kind)
	}
}

// =============================================================================
// Intent
// =============================================================================

// Intent is the classified purpose of the query. Exactly one is chosen per
// query; conflicting cues resolve by fixed precedence (see Precedence).
type Intent string

const (
	IntentLookup   Intent = "lookup"
	IntentCompare  Intent = "compare"
	IntentTrend    Intent = "trend"
	IntentCausal   Intent = "causal"
	IntentForecast Intent = "forecast"
	IntentScenario Intent = "scenario"
	IntentRank     Intent = "rank"
)

// IntentPrecedence is the fixed resolution order when multiple cue sets fire
// in one utterance. Causal and comparative language is rarer and more
// specific than a bare metric mention, so it wins over trend/lookup.
var IntentPrecedence = []Intent{
	IntentCausal,
	IntentCompare,
	IntentForecast,
	IntentTrend,
	IntentRank,
	IntentScenario,
	IntentLookup,
}

// =============================================================================
// Warnings
// =============================================================================

// WarningCode is a non-fatal diagnostic attached to a QueryPlan. Warnings are
// data forwarded to the response-composition layer, never exceptions.
type WarningCode string

const (
	WarnAmbiguousEntity       WarningCode = "AMBIGUOUS_ENTITY"
	WarnLowConfidenceMatch    WarningCode = "LOW_CONFIDENCE_MATCH"
	WarnUnresolvedCompany     WarningCode = "UNRESOLVED_COMPANY"
	WarnUnresolvedMetric      WarningCode = "UNRESOLVED_METRIC"
	WarnDefaultedToLatest     WarningCode = "DEFAULTED_TO_LATEST"
	WarnInvalidTimeExpression WarningCode = "INVALID_TIME_EXPRESSION"
	WarnConflictingSpanClaim  WarningCode = "CONFLICTING_SPAN_CLAIM"
	WarnContextInherited      WarningCode = "CONTEXT_INHERITED"
	WarnMalformedInput        WarningCode = "MALFORMED_INPUT"
)

// =============================================================================
// Query Plan
// =============================================================================

// QueryPlan is the terminal, immutable artifact of the resolution pipeline.
//
// # Description
//
// Constructed fresh per request by the assembler, never mutated after
// construction, consumed exactly once by the downstream analytics engine.
// The analytics engine must not re-parse text: companies, metrics, time and
// intent are already-validated inputs to its own planning.
type QueryPlan struct {
	// RawText is the original utterance, retained for audit and disclosure.
	RawText string `json:"raw_text"`

	// NormalizedText is the text the resolvers actually ran over.
	NormalizedText string `json:"normalized_text"`

	// Companies are the resolved company matches, ordered by appearance,
	// unique by canonical ID.
	Companies []Match `json:"companies"`

	// Metrics are the resolved metric matches, ordered by appearance,
	// unique by canonical ID. Order matters for multi-metric responses.
	Metrics []Match `json:"metrics"`

	// Time is the resolved period specification. Never empty: when no time
	// expression is found the spec is Latest.
	Time TimePeriodSpec `json:"time"`

	// Intent is the single classified purpose of the query.
	Intent Intent `json:"intent"`

	// Warnings are ordered diagnostics accumulated across the pipeline.
	Warnings []WarningCode `json:"warnings,omitempty"`

	// OverallConfidence is the minimum of all non-empty component
	// confidences: a chain is as weak as its weakest resolved part.
	OverallConfidence float64 `json:"overall_confidence"`
}

// HasWarning reports whether the plan carries the given code.
func (p *QueryPlan) HasWarning(code WarningCode) bool {
	for _, w := range p.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// CompanyIDs returns the canonical company IDs in plan order.
func (p *QueryPlan) CompanyIDs() []string {
	ids := make([]string, len(p.Companies))
	for i, m := range p.Companies {
		ids[i] = m.CanonicalID
	}
	return ids
}

// MetricIDs returns the canonical metric IDs in plan order.
func (p *QueryPlan) MetricIDs() []string {
	ids := make([]string, len(p.Metrics))
	for i, m := range p.Metrics {
		ids[i] = m.CanonicalID
	}
	return ids
}
