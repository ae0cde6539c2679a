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
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := catalog.GetDefault()
	require.NoError(t, err)
	cfg, err := config.GetResolverConfig()
	require.NoError(t, err)
	eng, err := New(cat, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return eng
}

// =============================================================================
// Full Pipeline
// =============================================================================

func TestResolveQuery_SimpleLookup(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "Show me Apple's revenue for 2023", nil)

	assert.Equal(t, []string{"AAPL"}, plan.CompanyIDs())
	assert.Equal(t, []string{"revenue"}, plan.MetricIDs())
	assert.Equal(t, datatypes.PeriodSingle, plan.Time.Kind)
	require.Len(t, plan.Time.Points, 1)
	assert.Equal(t, 2023, plan.Time.Points[0].Year)
	assert.Equal(t, datatypes.IntentLookup, plan.Intent)
	assert.Empty(t, plan.Warnings)
	// min(apple 0.95, revenue 0.95, explicit time 1.0)
	assert.InDelta(t, 0.95, plan.OverallConfidence, 1e-9)
}

func TestResolveQuery_TickerIsFullConfidence(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "AAPL revenue 2023", nil)

	require.Len(t, plan.Companies, 1)
	assert.Equal(t, datatypes.MethodDirect, plan.Companies[0].Method)
	assert.Equal(t, 1.0, plan.Companies[0].Confidence)
	assert.InDelta(t, 0.95, plan.OverallConfidence, 1e-9)
}

func TestResolveQuery_MultiCompanyCompare(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "compare Apple and Microsoft margins for 2023", nil)

	assert.Equal(t, []string{"AAPL", "MSFT"}, plan.CompanyIDs())
	assert.Equal(t, []string{"net_margin"}, plan.MetricIDs())
	assert.Equal(t, datatypes.IntentCompare, plan.Intent)
}

func TestResolveQuery_NormalizationPreservesRawText(t *testing.T) {
	eng := newTestEngine(t)

	raw := "  Show   me  Apple's revenue "
	plan := eng.ResolveQuery(context.Background(), raw, nil)

	assert.Equal(t, raw, plan.RawText)
	assert.Equal(t, "Show me Apple revenue", plan.NormalizedText)
}

// =============================================================================
// Determinism
// =============================================================================

func TestResolveQuery_Deterministic(t *testing.T) {
	eng := newTestEngine(t)

	const q = "compare Apple and Microsoft margins for 2023"
	first := eng.ResolveQuery(context.Background(), q, nil)
	for i := 0; i < 5; i++ {
		again := eng.ResolveQuery(context.Background(), q, nil)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("non-deterministic plan:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestResolveQuery_CanonicalFormsYieldSamePlan(t *testing.T) {
	eng := newTestEngine(t)

	// Re-resolving a plan's canonical forms must land on the same plan the
	// misspelled original produced; only the match spans and confidences
	// may differ.
	fuzzy := eng.ResolveQuery(context.Background(), "Microsfot revenue 2023", nil)
	canonical := eng.ResolveQuery(context.Background(), "MSFT revenue 2023", nil)

	require.Equal(t, []string{"MSFT"}, fuzzy.CompanyIDs())
	assert.Equal(t, canonical.CompanyIDs(), fuzzy.CompanyIDs())
	assert.Equal(t, canonical.MetricIDs(), fuzzy.MetricIDs())
	assert.Equal(t, canonical.Time, fuzzy.Time)
	assert.Equal(t, canonical.Intent, fuzzy.Intent)
}

// =============================================================================
// Degradation Paths
// =============================================================================

func TestResolveQuery_MalformedInput(t *testing.T) {
	eng := newTestEngine(t)

	for _, raw := range []string{"", "   ", "???", "?!,."} {
		plan := eng.ResolveQuery(context.Background(), raw, nil)
		assert.Empty(t, plan.Companies, "input %q", raw)
		assert.Empty(t, plan.Metrics, "input %q", raw)
		assert.Equal(t, datatypes.PeriodLatest, plan.Time.Kind, "input %q", raw)
		assert.Equal(t, datatypes.IntentLookup, plan.Intent, "input %q", raw)
		assert.Equal(t, []datatypes.WarningCode{datatypes.WarnMalformedInput}, plan.Warnings, "input %q", raw)
		assert.Zero(t, plan.OverallConfidence, "input %q", raw)
	}
}

func TestResolveQuery_UnresolvedCompanyIsWarningNotError(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "what is the p/e of zorbatron in 2023", nil)

	assert.Empty(t, plan.Companies)
	assert.Equal(t, []string{"pe_ratio"}, plan.MetricIDs())
	assert.True(t, plan.HasWarning(datatypes.WarnUnresolvedCompany))
	// The rest of the plan stays useful.
	assert.Equal(t, datatypes.PeriodSingle, plan.Time.Kind)
	assert.InDelta(t, 0.95, plan.OverallConfidence, 1e-9)
}

func TestResolveQuery_InvalidTimeDegradesToLatest(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "Apple revenue Q5 2023", nil)

	assert.Equal(t, []string{"AAPL"}, plan.CompanyIDs())
	assert.Equal(t, datatypes.PeriodLatest, plan.Time.Kind)
	assert.True(t, plan.HasWarning(datatypes.WarnInvalidTimeExpression))
	assert.True(t, plan.HasWarning(datatypes.WarnDefaultedToLatest))
}

func TestResolveQuery_NoTimeDefaultsToLatestWithWarning(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "Apple revenue", nil)

	assert.Equal(t, datatypes.PeriodLatest, plan.Time.Kind)
	assert.True(t, plan.HasWarning(datatypes.WarnDefaultedToLatest))
	// A defaulted time is not a resolved component and must not drag the
	// overall confidence to zero.
	assert.InDelta(t, 0.95, plan.OverallConfidence, 1e-9)
}

func TestResolveQuery_WeakFuzzyMatchFlagsLowConfidence(t *testing.T) {
	eng := newTestEngine(t)

	// Two edits on a seven-letter name land in the loosest tier, below the
	// low watermark.
	plan := eng.ResolveQuery(context.Background(), "chevorn revenue 2023", nil)

	assert.Equal(t, []string{"CVX"}, plan.CompanyIDs())
	assert.True(t, plan.HasWarning(datatypes.WarnLowConfidenceMatch))
	assert.Less(t, plan.OverallConfidence, 0.75)
}

// =============================================================================
// Context Inheritance
// =============================================================================

func TestResolveQuery_FollowUpInheritsCompanyAndTime(t *testing.T) {
	eng := newTestEngine(t)

	prior := eng.ResolveQuery(context.Background(), "Apple revenue 2023", nil)
	plan := eng.ResolveQuery(context.Background(), "what about margins", &prior)

	require.Len(t, plan.Companies, 1)
	assert.Equal(t, "AAPL", plan.Companies[0].CanonicalID)
	assert.Equal(t, datatypes.MethodContextInferred, plan.Companies[0].Method)
	assert.InDelta(t, 0.60, plan.Companies[0].Confidence, 1e-9)

	assert.Equal(t, []string{"net_margin"}, plan.MetricIDs())
	assert.Equal(t, prior.Time, plan.Time)
	assert.True(t, plan.HasWarning(datatypes.WarnContextInherited))
	assert.False(t, plan.HasWarning(datatypes.WarnDefaultedToLatest))
	// min(inherited company 0.60, override metric 1.0, inherited time 0.60)
	assert.InDelta(t, 0.60, plan.OverallConfidence, 1e-9)
}

func TestResolveQuery_ExplicitComponentBlocksInheritance(t *testing.T) {
	eng := newTestEngine(t)

	prior := eng.ResolveQuery(context.Background(), "Apple revenue 2023", nil)
	plan := eng.ResolveQuery(context.Background(), "Microsoft margins 2024", &prior)

	// A fully specified follow-up takes nothing from the prior plan.
	assert.Equal(t, []string{"MSFT"}, plan.CompanyIDs())
	assert.Equal(t, []string{"net_margin"}, plan.MetricIDs())
	require.Len(t, plan.Time.Points, 1)
	assert.Equal(t, 2024, plan.Time.Points[0].Year)
	assert.False(t, plan.HasWarning(datatypes.WarnContextInherited))
}

func TestResolveQuery_NoPriorMeansNoInheritance(t *testing.T) {
	eng := newTestEngine(t)

	plan := eng.ResolveQuery(context.Background(), "what about margins", nil)

	assert.Empty(t, plan.Companies)
	assert.True(t, plan.HasWarning(datatypes.WarnUnresolvedCompany))
	assert.False(t, plan.HasWarning(datatypes.WarnContextInherited))
}

// =============================================================================
// Assembler Internals
// =============================================================================

func TestRetractConflicts_DropsOverlappingEntitySpans(t *testing.T) {
	matches := []datatypes.Match{
		{CanonicalID: "AAPL", Span: datatypes.Span{Start: 0, End: 5}},
		{CanonicalID: "MSFT", Span: datatypes.Span{Start: 10, End: 19}},
	}
	claimed := []datatypes.Span{{Start: 8, End: 15}}

	kept, dropped := retractConflicts(matches, claimed)
	assert.True(t, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "AAPL", kept[0].CanonicalID)
}

func TestRetractConflicts_NoClaimsIsNoOp(t *testing.T) {
	matches := []datatypes.Match{{CanonicalID: "AAPL", Span: datatypes.Span{Start: 0, End: 5}}}
	kept, dropped := retractConflicts(matches, nil)
	assert.False(t, dropped)
	assert.Equal(t, matches, kept)
}

func TestDedupeWarnings_KeepsFirstOccurrenceOrder(t *testing.T) {
	in := []datatypes.WarningCode{
		datatypes.WarnAmbiguousEntity,
		datatypes.WarnDefaultedToLatest,
		datatypes.WarnAmbiguousEntity,
		datatypes.WarnUnresolvedMetric,
		datatypes.WarnDefaultedToLatest,
	}
	want := []datatypes.WarningCode{
		datatypes.WarnAmbiguousEntity,
		datatypes.WarnDefaultedToLatest,
		datatypes.WarnUnresolvedMetric,
	}
	assert.Equal(t, want, dedupeWarnings(in))
}

func TestOverallConfidence_EmptyPlanIsZero(t *testing.T) {
	assert.Zero(t, overallConfidence(nil, nil, timeDefaulted))
}
