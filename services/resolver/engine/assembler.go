// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/timegrammar"
)

// assembly carries the four resolver outputs into plan construction.
type assembly struct {
	rawText      string
	normalized   string
	companies    []datatypes.Match
	metrics      []datatypes.Match
	timeResult   timegrammar.Result
	companyWarns []datatypes.WarningCode
	metricWarns  []datatypes.WarningCode
	prior        *datatypes.QueryPlan
}

// assemble arbitrates between resolver outputs and constructs the immutable
// QueryPlan.
//
// # Description
//
// Arbitration steps, in order:
//
//  1. Span conflicts: the time grammar claims fully-formed period tokens
//     before the entity resolvers may read them as name fragments. Entity
//     matches overlapping a grammar-consumed span are retracted with a
//     CONFLICTING_SPAN_CLAIM warning.
//  2. Context inheritance: a follow-up utterance that omits companies,
//     metrics, or time inherits them from the prior plan as
//     context_inferred matches, flagged CONTEXT_INHERITED.
//  3. Defaults and disclosure: empty components get UNRESOLVED_* warnings;
//     a time default gets DEFAULTED_TO_LATEST; any match below the low
//     watermark gets LOW_CONFIDENCE_MATCH.
//
// Overall confidence is the minimum over non-empty components: a chain is as
// weak as its weakest resolved part.
func (e *Engine) assemble(a assembly) datatypes.QueryPlan {
	var warnings []datatypes.WarningCode
	warnings = append(warnings, a.timeResult.Warnings...)

	companies, conflicted := retractConflicts(a.companies, a.timeResult.ConsumedSpans)
	metrics, conflicted2 := retractConflicts(a.metrics, a.timeResult.ConsumedSpans)
	if conflicted || conflicted2 {
		warnings = append(warnings, datatypes.WarnConflictingSpanClaim)
	}
	warnings = append(warnings, a.companyWarns...)
	warnings = append(warnings, a.metricWarns...)

	timeSpec := a.timeResult.Spec
	timeSource := timeExplicit
	if !a.timeResult.Explicit {
		timeSource = timeDefaulted
	}

	// Context inheritance fills whole components only; a partially resolved
	// component is taken as the user's full answer for that slot.
	if a.prior != nil {
		if len(companies) == 0 && len(a.prior.Companies) > 0 {
			companies = inherit(a.prior.Companies)
			warnings = append(warnings, datatypes.WarnContextInherited)
		}
		if len(metrics) == 0 && len(a.prior.Metrics) > 0 {
			metrics = inherit(a.prior.Metrics)
			warnings = append(warnings, datatypes.WarnContextInherited)
		}
		if timeSource == timeDefaulted && a.prior.Time.Kind != datatypes.PeriodLatest && a.prior.Time.Kind != "" {
			timeSpec = a.prior.Time
			timeSource = timeInherited
			warnings = append(warnings, datatypes.WarnContextInherited)
		}
	}

	if len(companies) == 0 {
		warnings = append(warnings, datatypes.WarnUnresolvedCompany)
	}
	if len(metrics) == 0 {
		warnings = append(warnings, datatypes.WarnUnresolvedMetric)
	}
	if timeSource == timeDefaulted {
		warnings = append(warnings, datatypes.WarnDefaultedToLatest)
	}

	low := e.cfg.Confidence.LowWatermark
	for _, m := range append(append([]datatypes.Match{}, companies...), metrics...) {
		if m.Confidence < low {
			warnings = append(warnings, datatypes.WarnLowConfidenceMatch)
			break
		}
	}

	queryIntent := e.classifier.Classify(a.normalized, companies, metrics, timeSpec)

	return datatypes.QueryPlan{
		RawText:           a.rawText,
		NormalizedText:    a.normalized,
		Companies:         companies,
		Metrics:           metrics,
		Time:              timeSpec,
		Intent:            queryIntent,
		Warnings:          dedupeWarnings(warnings),
		OverallConfidence: overallConfidence(companies, metrics, timeSource),
	}
}

type timeSourceKind int

const (
	timeDefaulted timeSourceKind = iota
	timeExplicit
	timeInherited
)

// retractConflicts drops entity matches whose span overlaps a
// grammar-consumed span ("Q1" must not double as a ticker fragment).
func retractConflicts(matches []datatypes.Match, claimed []datatypes.Span) ([]datatypes.Match, bool) {
	if len(matches) == 0 || len(claimed) == 0 {
		return matches, false
	}
	kept := matches[:0]
	dropped := false
	for _, m := range matches {
		conflict := false
		for _, c := range claimed {
			if m.Span.Overlaps(c) {
				conflict = true
				break
			}
		}
		if conflict {
			dropped = true
			continue
		}
		kept = append(kept, m)
	}
	return kept, dropped
}

// inherit copies matches from the prior plan, downgraded to the
// context_inferred method. The span is cleared: the entity does not appear in
// the current utterance.
func inherit(prior []datatypes.Match) []datatypes.Match {
	out := make([]datatypes.Match, len(prior))
	for i, m := range prior {
		out[i] = datatypes.Match{
			Kind:        m.Kind,
			CanonicalID: m.CanonicalID,
			DisplayName: m.DisplayName,
			Method:      datatypes.MethodContextInferred,
			Confidence:  datatypes.MethodContextInferred.BaseConfidence(),
		}
	}
	return out
}

// overallConfidence is the minimum over non-empty components. A defaulted
// Latest time is not a resolved component and does not participate.
func overallConfidence(companies, metrics []datatypes.Match, timeSource timeSourceKind) float64 {
	min := -1.0
	consider := func(v float64) {
		if min < 0 || v < min {
			min = v
		}
	}
	for _, m := range companies {
		consider(m.Confidence)
	}
	for _, m := range metrics {
		consider(m.Confidence)
	}
	switch timeSource {
	case timeExplicit:
		consider(1.0)
	case timeInherited:
		consider(datatypes.MethodContextInferred.BaseConfidence())
	}
	if min < 0 {
		return 0.0
	}
	return min
}

// dedupeWarnings keeps the first occurrence of each code, preserving order.
func dedupeWarnings(warnings []datatypes.WarningCode) []datatypes.WarningCode {
	if len(warnings) <= 1 {
		return warnings
	}
	seen := make(map[datatypes.WarningCode]bool, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
