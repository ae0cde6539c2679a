// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timegrammar detects and classifies time-period expressions: single
// years and quarters, ranges, multi-period lists, relative windows, and the
// alternative month/half-year/period-to-date formats.
//
// Patterns are recognized in a fixed priority order so a higher-priority
// pattern consumes its tokens before a lower-priority one can claim them
// (a quarter range must not be torn apart into a bare quarter plus a bare
// year). Calendar granularity is the default for every ambiguous bare year
// or quarter; fiscal granularity requires an explicit "FY"/"fiscal" marker.
package timegrammar

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	periodParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "timegrammar",
		Name:      "parsed_total",
		Help:      "Time period specs produced, by kind and granularity",
	}, []string{"kind", "granularity"})

	invalidExpressionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "timegrammar",
		Name:      "invalid_expression_total",
		Help:      "Time-like tokens that could not be normalized (e.g. Q5 2023)",
	})
)

var tracer = otel.Tracer("finquery.resolver.timegrammar")

// =============================================================================
// Patterns (priority order)
// =============================================================================

// Dash, en dash, "to" and ".." all read as range connectors.
const rangeConn = `\s*(?:-|–|to|\.\.)\s*`

var (
	// "Q1-Q3 2023", "Q1 to Q3 FY2023"
	reQuarterRangeSameYear = regexp.MustCompile(`(?i)\b(fy\s*)?q(\d)` + rangeConn + `q(\d)\s+(?:of\s+)?(fy\s*)?(\d{4}|'\d{2})\b`)

	// "Q1 2023-Q2 2024", "Q1 2023 to Q2 2024"
	reQuarterRangeCrossYear = regexp.MustCompile(`(?i)\b(fy\s*)?q(\d)\s+(\d{4})` + rangeConn + `(fy\s*)?q(\d)\s+(\d{4})\b`)

	// "Q1 2023", "Q1 of FY2023", "Q1 '23"
	reQuarterYear = regexp.MustCompile(`(?i)\b(fy\s*)?q(\d)\s+(?:of\s+)?(fy\s*)?(\d{4}|'\d{2})\b`)

	// "2023 Q1"
	reYearQuarter = regexp.MustCompile(`(?i)\b(fy\s*)?((?:19|20)\d{2})\s+q(\d)\b`)

	// "2020-2023", "2021 to 2024", "FY2020-FY2023"
	reYearRange = regexp.MustCompile(`(?i)\b(fy\s*)?((?:19|20)\d{2})` + rangeConn + `(fy\s*)?((?:19|20)\d{2})\b`)

	// "last 3 years", "past 2 quarters", "next 5 years"
	reRelativeN = regexp.MustCompile(`(?i)\b(last|past|next|previous)\s+(\d{1,2})\s+(years?|quarters?|months?)\b`)

	// "current quarter", "this year", "next quarter", "previous year"
	reRelativeOne = regexp.MustCompile(`(?i)\b(current|this|next|previous|last)\s+(year|quarter|month)\b`)

	// "H1 2023"
	reHalfYear = regexp.MustCompile(`(?i)\bh([12])\s+(?:of\s+)?((?:19|20)\d{2})\b`)

	// "January 2023", "jan 2023"
	reMonthYear = regexp.MustCompile(`(?i)\b(january|jan|february|feb|march|mar|april|apr|may|june|jun|july|jul|august|aug|september|sept|sep|october|oct|november|nov|december|dec)\s+((?:19|20)\d{2})\b`)

	// "YTD 2023", "QTD", "MTD"
	rePeriodToDate = regexp.MustCompile(`(?i)\b(ytd|mtd|qtd)(?:\s+((?:19|20)\d{2}))?\b`)

	// "FY2023", "fiscal 2023", "fiscal year 2023"
	reFiscalYear = regexp.MustCompile(`(?i)\b(?:fy\s*|fiscal\s+(?:year\s+)?)((?:19|20)\d{2})\b`)

	// bare "2023"
	reBareYear = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

	// Text between two complete period tokens that reads as a list delimiter.
	reListConnector = regexp.MustCompile(`(?i)^[\s,]*(?:and|&|vs\.?|versus)?\s*$`)
)

var monthNumbers = map[string]int{
	"january": 1, "jan": 1, "february": 2, "feb": 2, "march": 3, "mar": 3,
	"april": 4, "apr": 4, "may": 5, "june": 6, "jun": 6, "july": 7, "jul": 7,
	"august": 8, "aug": 8, "september": 9, "sept": 9, "sep": 9,
	"october": 10, "oct": 10, "november": 11, "nov": 11, "december": 12, "dec": 12,
}

// =============================================================================
// Parser
// =============================================================================

// Result is the full output of one parse: the spec plus the byte spans the
// grammar consumed, so the assembler can retract entity matches that claimed
// the same text.
type Result struct {
	// Spec is the parsed time period. Never zero: Latest when nothing parsed.
	Spec datatypes.TimePeriodSpec

	// ConsumedSpans are the byte ranges of the normalized utterance claimed
	// by the grammar, including invalid time-like tokens.
	ConsumedSpans []datatypes.Span

	// Warnings carries INVALID_TIME_EXPRESSION diagnostics.
	Warnings []datatypes.WarningCode

	// Explicit reports whether the utterance contained a time expression.
	// False means the spec defaulted to Latest.
	Explicit bool
}

// item is one recognized period expression before assembly.
type item struct {
	spec       datatypes.TimePeriodSpec
	start, end int
}

// Parser is the time-expression state machine.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a time grammar parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse extracts the time period specification from a normalized utterance.
//
// # Description
//
// Patterns run strictly in priority order; each match consumes its byte range
// so lower-priority patterns cannot re-read it. After scanning, assembly
// decides the variant: one recognized expression stands alone; several
// complete Single expressions of the same granularity joined by comma/"and"
// become a Multi list; a dash/"to" connector was already folded into a Range
// by the higher-priority range patterns. When nothing time-like is found the
// result is Latest, a valid first-class outcome.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//   - normalized: The normalized utterance (index.Normalize output).
//
// # Outputs
//
//   - Result: Spec, consumed spans, and warnings. Never an error: malformed
//     time-like tokens degrade to Latest with INVALID_TIME_EXPRESSION.
//
// # Thread Safety
//
// Safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, normalized string) Result {
	_, span := tracer.Start(ctx, "timegrammar.Parse")
	defer span.End()

	s := &scan{
		text:     normalized,
		lower:    strings.ToLower(normalized),
		consumed: make([]bool, len(normalized)),
	}
	// "fiscal" anywhere in the clause flips the default for bare years and
	// quarters in that clause. Single-sentence queries are one clause.
	s.fiscalClause = strings.Contains(s.lower, "fiscal")

	s.quarterRangesSameYear()
	s.quarterRangesCrossYear()
	s.singleQuarters()
	s.yearRanges()
	s.relativeWindows()
	s.halfYears()
	s.monthYears()
	s.periodToDate()
	s.fiscalYears()
	s.bareYears()

	res := s.assemble()
	if !res.Explicit && len(res.Warnings) == 0 {
		p.logger.Debug("no time expression found, defaulting to latest")
	}
	periodParsedTotal.WithLabelValues(string(res.Spec.Kind), string(res.Spec.Granularity)).Inc()
	span.SetAttributes(
		attribute.String("period_kind", string(res.Spec.Kind)),
		attribute.Bool("explicit", res.Explicit),
	)
	return res
}

// =============================================================================
// Scanner
// =============================================================================

type scan struct {
	text         string
	lower        string
	consumed     []bool
	fiscalClause bool
	items        []item
	warnings     []datatypes.WarningCode
	badSpans     []datatypes.Span
}

func (s *scan) free(start, end int) bool {
	for i := start; i < end; i++ {
		if s.consumed[i] {
			return false
		}
	}
	return true
}

func (s *scan) take(start, end int) {
	for i := start; i < end; i++ {
		s.consumed[i] = true
	}
}

func (s *scan) emit(spec datatypes.TimePeriodSpec, start, end int) {
	s.take(start, end)
	s.items = append(s.items, item{spec: spec, start: start, end: end})
}

// invalid records a time-like token that cannot be normalized. The span is
// still consumed so the entity resolvers cannot misread it.
func (s *scan) invalid(start, end int) {
	s.take(start, end)
	s.warnings = append(s.warnings, datatypes.WarnInvalidTimeExpression)
	s.badSpans = append(s.badSpans, datatypes.Span{Text: s.text[start:end], Start: start, End: end})
	invalidExpressionTotal.Inc()
}

func (s *scan) fiscal(markers ...string) bool {
	if s.fiscalClause {
		return true
	}
	for _, m := range markers {
		if strings.TrimSpace(m) != "" {
			return true
		}
	}
	return false
}

func (s *scan) quarterGranularity(markers ...string) datatypes.Granularity {
	if s.fiscal(markers...) {
		return datatypes.GranFiscalQuarter
	}
	return datatypes.GranCalendarQuarter
}

func (s *scan) yearGranularity(markers ...string) datatypes.Granularity {
	if s.fiscal(markers...) {
		return datatypes.GranFiscalYear
	}
	return datatypes.GranCalendarYear
}

func (s *scan) quarterRangesSameYear() {
	for _, m := range reQuarterRangeSameYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		q1 := atoi(group(s.text, m, 2))
		q2 := atoi(group(s.text, m, 3))
		year, ok := parseYear(group(s.text, m, 5))
		if !ok || q1 < 1 || q1 > 4 || q2 < 1 || q2 > 4 || q2 < q1 {
			s.invalid(start, end)
			continue
		}
		gran := s.quarterGranularity(group(s.text, m, 1), group(s.text, m, 4))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRange,
			Granularity: gran,
			Points: []datatypes.PeriodPoint{
				{Year: year, Quarter: q1},
				{Year: year, Quarter: q2},
			},
		}, start, end)
	}
}

func (s *scan) quarterRangesCrossYear() {
	for _, m := range reQuarterRangeCrossYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		q1 := atoi(group(s.text, m, 2))
		y1 := atoi(group(s.text, m, 3))
		q2 := atoi(group(s.text, m, 5))
		y2 := atoi(group(s.text, m, 6))
		if q1 < 1 || q1 > 4 || q2 < 1 || q2 > 4 || y2 < y1 {
			s.invalid(start, end)
			continue
		}
		gran := s.quarterGranularity(group(s.text, m, 1), group(s.text, m, 4))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRange,
			Granularity: gran,
			Points: []datatypes.PeriodPoint{
				{Year: y1, Quarter: q1},
				{Year: y2, Quarter: q2},
			},
		}, start, end)
	}
}

func (s *scan) singleQuarters() {
	for _, m := range reQuarterYear.FindAllStringSubmatchIndex(s.text, -1) {
		s.singleQuarter(m, 2, 4, 1, 3)
	}
	for _, m := range reYearQuarter.FindAllStringSubmatchIndex(s.text, -1) {
		s.singleQuarter(m, 3, 2, 1)
	}
}

// singleQuarter emits one quarter item from a submatch index set: qGroup and
// yGroup locate the quarter digit and year, fyGroups the fiscal markers.
func (s *scan) singleQuarter(m []int, qGroup, yGroup int, fyGroups ...int) {
	start, end := m[0], m[1]
	if !s.free(start, end) {
		return
	}
	q := atoi(group(s.text, m, qGroup))
	year, ok := parseYear(group(s.text, m, yGroup))
	if !ok || q < 1 || q > 4 {
		s.invalid(start, end)
		return
	}
	markers := make([]string, len(fyGroups))
	for i, g := range fyGroups {
		markers[i] = group(s.text, m, g)
	}
	s.emit(datatypes.TimePeriodSpec{
		Kind:        datatypes.PeriodSingle,
		Granularity: s.quarterGranularity(markers...),
		Points:      []datatypes.PeriodPoint{{Year: year, Quarter: q}},
	}, start, end)
}

func (s *scan) yearRanges() {
	for _, m := range reYearRange.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		y1 := atoi(group(s.text, m, 2))
		y2 := atoi(group(s.text, m, 4))
		if y2 < y1 {
			s.invalid(start, end)
			continue
		}
		gran := s.yearGranularity(group(s.text, m, 1), group(s.text, m, 3))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRange,
			Granularity: gran,
			Points:      []datatypes.PeriodPoint{{Year: y1}, {Year: y2}},
		}, start, end)
	}
}

func (s *scan) relativeWindows() {
	for _, m := range reRelativeN.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		word := strings.ToLower(group(s.text, m, 1))
		count := atoi(group(s.text, m, 2))
		if count < 1 {
			s.invalid(start, end)
			continue
		}
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRelative,
			Granularity: relativeGranularity(group(s.text, m, 3), s.fiscalClause),
			Count:       count,
			Direction:   relativeDirection(word),
		}, start, end)
	}
	for _, m := range reRelativeOne.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		word := strings.ToLower(group(s.text, m, 1))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRelative,
			Granularity: relativeGranularity(group(s.text, m, 2), s.fiscalClause),
			Count:       1,
			Direction:   relativeDirection(word),
		}, start, end)
	}
}

func (s *scan) halfYears() {
	for _, m := range reHalfYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		half := atoi(group(s.text, m, 1))
		year := atoi(group(s.text, m, 2))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodSingle,
			Granularity: datatypes.GranHalfYear,
			Points:      []datatypes.PeriodPoint{{Year: year, Half: half}},
		}, start, end)
	}
}

func (s *scan) monthYears() {
	for _, m := range reMonthYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		month := monthNumbers[strings.ToLower(group(s.text, m, 1))]
		year := atoi(group(s.text, m, 2))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodSingle,
			Granularity: datatypes.GranMonth,
			Points:      []datatypes.PeriodPoint{{Year: year, Month: month}},
		}, start, end)
	}
}

func (s *scan) periodToDate() {
	for _, m := range rePeriodToDate.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		marker := strings.ToLower(group(s.text, m, 1))
		yearText := group(s.text, m, 2)
		if marker == "ytd" && yearText != "" {
			// "YTD 2023" reads as the year itself for planning purposes.
			s.emit(datatypes.TimePeriodSpec{
				Kind:        datatypes.PeriodSingle,
				Granularity: s.yearGranularity(),
				Points:      []datatypes.PeriodPoint{{Year: atoi(yearText)}},
			}, start, end)
			continue
		}
		gran := datatypes.GranCalendarYear
		switch marker {
		case "qtd":
			gran = datatypes.GranCalendarQuarter
		case "mtd":
			gran = datatypes.GranMonth
		}
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodRelative,
			Granularity: gran,
			Count:       1,
			Direction:   "current",
		}, start, end)
	}
}

func (s *scan) fiscalYears() {
	for _, m := range reFiscalYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		year := atoi(group(s.text, m, 1))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodSingle,
			Granularity: datatypes.GranFiscalYear,
			Points:      []datatypes.PeriodPoint{{Year: year}},
		}, start, end)
	}
}

func (s *scan) bareYears() {
	for _, m := range reBareYear.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if !s.free(start, end) {
			continue
		}
		year := atoi(group(s.text, m, 1))
		s.emit(datatypes.TimePeriodSpec{
			Kind:        datatypes.PeriodSingle,
			Granularity: s.yearGranularity(),
			Points:      []datatypes.PeriodPoint{{Year: year}},
		}, start, end)
	}
}

// =============================================================================
// Assembly
// =============================================================================

// assemble decides the final variant from the recognized items.
func (s *scan) assemble() Result {
	res := Result{Warnings: s.warnings}
	for _, bad := range s.badSpans {
		res.ConsumedSpans = append(res.ConsumedSpans, bad)
	}

	if len(s.items) == 0 {
		res.Spec = datatypes.Latest()
		return res
	}

	sort.Slice(s.items, func(i, j int) bool { return s.items[i].start < s.items[j].start })
	for _, it := range s.items {
		res.ConsumedSpans = append(res.ConsumedSpans, datatypes.Span{
			Text:  s.text[it.start:it.end],
			Start: it.start,
			End:   it.end,
		})
	}
	res.Explicit = true

	if len(s.items) == 1 {
		res.Spec = s.items[0].spec
		return res
	}

	// Several complete Single expressions of one granularity joined by list
	// delimiters form a Multi: each period is evaluated independently and
	// reported side by side. Anything else keeps the first expression; the
	// range patterns already folded dash/"to" connectors upstream.
	if multi, ok := s.tryMulti(); ok {
		res.Spec = multi
		return res
	}
	res.Spec = s.items[0].spec
	return res
}

func (s *scan) tryMulti() (datatypes.TimePeriodSpec, bool) {
	first := s.items[0].spec
	if first.Kind != datatypes.PeriodSingle {
		return datatypes.TimePeriodSpec{}, false
	}
	points := []datatypes.PeriodPoint{first.Points[0]}
	for i := 1; i < len(s.items); i++ {
		it := s.items[i].spec
		if it.Kind != datatypes.PeriodSingle || it.Granularity != first.Granularity {
			return datatypes.TimePeriodSpec{}, false
		}
		between := s.text[s.items[i-1].end:s.items[i].start]
		if !reListConnector.MatchString(between) {
			return datatypes.TimePeriodSpec{}, false
		}
		points = append(points, it.Points[0])
	}
	return datatypes.TimePeriodSpec{
		Kind:        datatypes.PeriodMulti,
		Granularity: first.Granularity,
		Points:      points,
	}, true
}

// =============================================================================
// Helpers
// =============================================================================

func group(text string, m []int, n int) string {
	lo, hi := m[2*n], m[2*n+1]
	if lo < 0 {
		return ""
	}
	return text[lo:hi]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseYear accepts "2023" and the short form "'23". Two-digit years below 70
// expand into the 2000s.
func parseYear(s string) (int, bool) {
	if strings.HasPrefix(s, "'") {
		n, err := strconv.Atoi(s[1:])
		if err != nil {
			return 0, false
		}
		if n < 70 {
			return 2000 + n, true
		}
		return 1900 + n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1900 || n > 2199 {
		return 0, false
	}
	return n, true
}

func relativeGranularity(unit string, fiscal bool) datatypes.Granularity {
	switch {
	case strings.HasPrefix(strings.ToLower(unit), "quarter"):
		if fiscal {
			return datatypes.GranFiscalQuarter
		}
		return datatypes.GranCalendarQuarter
	case strings.HasPrefix(strings.ToLower(unit), "month"):
		return datatypes.GranMonth
	default:
		if fiscal {
			return datatypes.GranFiscalYear
		}
		return datatypes.GranCalendarYear
	}
}

func relativeDirection(word string) string {
	switch word {
	case "next":
		return "future"
	case "current", "this":
		return "current"
	default:
		return "past"
	}
}
