// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timegrammar

import (
	"context"
	"testing"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/index"
)

func parse(t *testing.T, raw string) Result {
	t.Helper()
	return NewParser(nil).Parse(context.Background(), index.Normalize(raw))
}

func point(y, q int) datatypes.PeriodPoint {
	return datatypes.PeriodPoint{Year: y, Quarter: q}
}

func assertPoints(t *testing.T, got []datatypes.PeriodPoint, want ...datatypes.PeriodPoint) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("points = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// =============================================================================
// Single Periods
// =============================================================================

func TestParse_BareYearDefaultsToCalendar(t *testing.T) {
	res := parse(t, "Apple revenue 2023")
	if res.Spec.Kind != datatypes.PeriodSingle {
		t.Fatalf("kind = %q, want single", res.Spec.Kind)
	}
	if res.Spec.Granularity != datatypes.GranCalendarYear {
		t.Errorf("granularity = %q, want calendar_year", res.Spec.Granularity)
	}
	assertPoints(t, res.Spec.Points, point(2023, 0))
	if !res.Explicit {
		t.Error("a typed year must count as explicit")
	}
	if len(res.ConsumedSpans) != 1 || res.ConsumedSpans[0].Text != "2023" {
		t.Errorf("consumed spans = %v, want the year token", res.ConsumedSpans)
	}
}

func TestParse_FiscalYearForms(t *testing.T) {
	for _, raw := range []string{"FY2023", "fy 2023", "fiscal 2023", "fiscal year 2023"} {
		res := parse(t, raw)
		if res.Spec.Kind != datatypes.PeriodSingle || res.Spec.Granularity != datatypes.GranFiscalYear {
			t.Errorf("Parse(%q) = %s, want single fiscal_year", raw, res.Spec)
			continue
		}
		assertPoints(t, res.Spec.Points, point(2023, 0))
	}
}

func TestParse_QuarterForms(t *testing.T) {
	cases := []struct {
		raw  string
		gran datatypes.Granularity
		want datatypes.PeriodPoint
	}{
		{"Q1 2023", datatypes.GranCalendarQuarter, point(2023, 1)},
		{"Q1 '23", datatypes.GranCalendarQuarter, point(2023, 1)},
		{"2023 Q1", datatypes.GranCalendarQuarter, point(2023, 1)},
		{"Q1 of FY2023", datatypes.GranFiscalQuarter, point(2023, 1)},
		{"FY Q3 2024", datatypes.GranFiscalQuarter, point(2024, 3)},
	}
	for _, tc := range cases {
		res := parse(t, tc.raw)
		if res.Spec.Kind != datatypes.PeriodSingle {
			t.Errorf("Parse(%q).Kind = %q, want single", tc.raw, res.Spec.Kind)
			continue
		}
		if res.Spec.Granularity != tc.gran {
			t.Errorf("Parse(%q).Granularity = %q, want %q", tc.raw, res.Spec.Granularity, tc.gran)
		}
		assertPoints(t, res.Spec.Points, tc.want)
	}
}

func TestParse_HalfYearAndMonth(t *testing.T) {
	res := parse(t, "H1 2023 revenue")
	if res.Spec.Granularity != datatypes.GranHalfYear {
		t.Errorf("granularity = %q, want half_year", res.Spec.Granularity)
	}
	if len(res.Spec.Points) != 1 || res.Spec.Points[0].Half != 1 || res.Spec.Points[0].Year != 2023 {
		t.Errorf("points = %v, want H1 2023", res.Spec.Points)
	}

	res = parse(t, "sales in January 2023")
	if res.Spec.Granularity != datatypes.GranMonth {
		t.Errorf("granularity = %q, want month", res.Spec.Granularity)
	}
	if len(res.Spec.Points) != 1 || res.Spec.Points[0].Month != 1 || res.Spec.Points[0].Year != 2023 {
		t.Errorf("points = %v, want 2023-01", res.Spec.Points)
	}
}

// =============================================================================
// Ranges
// =============================================================================

func TestParse_YearRanges(t *testing.T) {
	for _, raw := range []string{"2020-2023", "2020 to 2023", "from 2020 to 2023"} {
		res := parse(t, raw)
		if res.Spec.Kind != datatypes.PeriodRange {
			t.Errorf("Parse(%q).Kind = %q, want range", raw, res.Spec.Kind)
			continue
		}
		if res.Spec.Granularity != datatypes.GranCalendarYear {
			t.Errorf("Parse(%q).Granularity = %q, want calendar_year", raw, res.Spec.Granularity)
		}
		assertPoints(t, res.Spec.Points, point(2020, 0), point(2023, 0))
	}
}

func TestParse_FiscalYearRange(t *testing.T) {
	res := parse(t, "FY2020-FY2023")
	if res.Spec.Kind != datatypes.PeriodRange || res.Spec.Granularity != datatypes.GranFiscalYear {
		t.Fatalf("got %s, want range fiscal_year", res.Spec)
	}
	assertPoints(t, res.Spec.Points, point(2020, 0), point(2023, 0))
}

func TestParse_QuarterRangeSameYear(t *testing.T) {
	res := parse(t, "Q1-Q3 2023")
	if res.Spec.Kind != datatypes.PeriodRange || res.Spec.Granularity != datatypes.GranCalendarQuarter {
		t.Fatalf("got %s, want range calendar_quarter", res.Spec)
	}
	assertPoints(t, res.Spec.Points, point(2023, 1), point(2023, 3))
	// The whole range is one consumed expression, not a quarter plus a year.
	if len(res.ConsumedSpans) != 1 {
		t.Errorf("consumed spans = %v, want one", res.ConsumedSpans)
	}
}

func TestParse_QuarterRangeCrossYear(t *testing.T) {
	res := parse(t, "Q4 2023 to Q2 2024")
	if res.Spec.Kind != datatypes.PeriodRange {
		t.Fatalf("kind = %q, want range", res.Spec.Kind)
	}
	assertPoints(t, res.Spec.Points, point(2023, 4), point(2024, 2))
}

// =============================================================================
// Multi-Period Lists
// =============================================================================

func TestParse_CommaListBecomesMulti(t *testing.T) {
	res := parse(t, "revenue for 2020, 2021, and 2023")
	if res.Spec.Kind != datatypes.PeriodMulti {
		t.Fatalf("kind = %q, want multi", res.Spec.Kind)
	}
	assertPoints(t, res.Spec.Points, point(2020, 0), point(2021, 0), point(2023, 0))
}

func TestParse_VersusJoinedQuartersBecomeMulti(t *testing.T) {
	res := parse(t, "compare Q1 2023 vs Q2 2023")
	if res.Spec.Kind != datatypes.PeriodMulti || res.Spec.Granularity != datatypes.GranCalendarQuarter {
		t.Fatalf("got %s, want multi calendar_quarter", res.Spec)
	}
	assertPoints(t, res.Spec.Points, point(2023, 1), point(2023, 2))
}

func TestParse_MixedGranularityListKeepsFirst(t *testing.T) {
	// A year and a quarter cannot form one list; the first expression wins.
	res := parse(t, "2023 and Q1 2024")
	if res.Spec.Kind != datatypes.PeriodSingle || res.Spec.Granularity != datatypes.GranCalendarYear {
		t.Fatalf("got %s, want single calendar_year", res.Spec)
	}
	assertPoints(t, res.Spec.Points, point(2023, 0))
}

// =============================================================================
// Relative Windows
// =============================================================================

func TestParse_RelativeWindows(t *testing.T) {
	cases := []struct {
		raw       string
		gran      datatypes.Granularity
		count     int
		direction string
	}{
		{"last 3 years", datatypes.GranCalendarYear, 3, "past"},
		{"past 2 quarters", datatypes.GranCalendarQuarter, 2, "past"},
		{"next 5 years", datatypes.GranCalendarYear, 5, "future"},
		{"this year", datatypes.GranCalendarYear, 1, "current"},
		{"current quarter", datatypes.GranCalendarQuarter, 1, "current"},
		{"next quarter", datatypes.GranCalendarQuarter, 1, "future"},
		{"previous year", datatypes.GranCalendarYear, 1, "past"},
	}
	for _, tc := range cases {
		res := parse(t, tc.raw)
		if res.Spec.Kind != datatypes.PeriodRelative {
			t.Errorf("Parse(%q).Kind = %q, want relative", tc.raw, res.Spec.Kind)
			continue
		}
		if res.Spec.Granularity != tc.gran || res.Spec.Count != tc.count || res.Spec.Direction != tc.direction {
			t.Errorf("Parse(%q) = %s, want %s/%s%d", tc.raw, res.Spec, tc.gran, tc.direction, tc.count)
		}
	}
}

func TestParse_PeriodToDate(t *testing.T) {
	res := parse(t, "YTD performance")
	if res.Spec.Kind != datatypes.PeriodRelative || res.Spec.Direction != "current" {
		t.Fatalf("got %s, want relative current", res.Spec)
	}
	if res.Spec.Granularity != datatypes.GranCalendarYear {
		t.Errorf("granularity = %q, want calendar_year", res.Spec.Granularity)
	}

	res = parse(t, "QTD revenue")
	if res.Spec.Kind != datatypes.PeriodRelative || res.Spec.Granularity != datatypes.GranCalendarQuarter {
		t.Errorf("got %s, want relative calendar_quarter", res.Spec)
	}

	// With a year attached, YTD reads as that year.
	res = parse(t, "YTD 2023")
	if res.Spec.Kind != datatypes.PeriodSingle || res.Spec.Points[0].Year != 2023 {
		t.Errorf("got %s, want single 2023", res.Spec)
	}
}

// =============================================================================
// Defaults and Invalid Expressions
// =============================================================================

func TestParse_NoTimeExpressionDefaultsToLatest(t *testing.T) {
	res := parse(t, "Apple revenue")
	if res.Spec.Kind != datatypes.PeriodLatest {
		t.Fatalf("kind = %q, want latest", res.Spec.Kind)
	}
	if res.Explicit {
		t.Error("defaulted Latest must not be marked explicit")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
}

func TestParse_InvalidQuarterConsumedWithWarning(t *testing.T) {
	res := parse(t, "Apple revenue Q5 2023")
	if res.Spec.Kind != datatypes.PeriodLatest {
		t.Fatalf("kind = %q, want latest", res.Spec.Kind)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != datatypes.WarnInvalidTimeExpression {
		t.Fatalf("warnings = %v, want [INVALID_TIME_EXPRESSION]", res.Warnings)
	}
	// The bad token is still consumed so entity resolvers cannot misread it.
	if len(res.ConsumedSpans) != 1 || res.ConsumedSpans[0].Text != "Q5 2023" {
		t.Errorf("consumed spans = %v, want the invalid token", res.ConsumedSpans)
	}
}

func TestParse_ReversedRangeIsInvalid(t *testing.T) {
	res := parse(t, "revenue 2025-2023")
	if res.Spec.Kind != datatypes.PeriodLatest {
		t.Fatalf("kind = %q, want latest", res.Spec.Kind)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != datatypes.WarnInvalidTimeExpression {
		t.Errorf("warnings = %v, want [INVALID_TIME_EXPRESSION]", res.Warnings)
	}
}

func TestParse_Deterministic(t *testing.T) {
	first := parse(t, "compare Q1 2023 vs Q2 2023")
	for i := 0; i < 10; i++ {
		again := parse(t, "compare Q1 2023 vs Q2 2023")
		if again.Spec.String() != first.Spec.String() {
			t.Fatalf("non-deterministic parse: %s vs %s", again.Spec, first.Spec)
		}
	}
}
