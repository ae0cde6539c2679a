// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine wires the resolvers into the synchronous, stateless query
// resolution pipeline and assembles their outputs into the terminal
// QueryPlan. The assembler is the only component permitted to arbitrate
// between resolver outputs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/company"
	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/index"
	"github.com/AleutianAI/finquery/services/resolver/intent"
	"github.com/AleutianAI/finquery/services/resolver/metric"
	"github.com/AleutianAI/finquery/services/resolver/timegrammar"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "engine",
		Name:      "resolve_total",
		Help:      "Resolution requests, by outcome",
	}, []string{"outcome"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "finquery",
		Subsystem: "engine",
		Name:      "resolve_duration_seconds",
		Help:      "End-to-end resolution latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	planWarningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "engine",
		Name:      "plan_warning_total",
		Help:      "Warnings attached to produced query plans, by code",
	}, []string{"code"})
)

var tracer = otel.Tracer("finquery.resolver.engine")

// =============================================================================
// Engine
// =============================================================================

// Engine is the query resolution pipeline. All lookups are in-memory; no
// operation blocks or suspends.
//
// # Thread Safety
//
// Safe for concurrent use: the alias indexes are read-only after New and the
// per-request state is stack-local.
type Engine struct {
	cfg *config.ResolverConfig
	cat *catalog.Catalog

	companies  *company.Resolver
	metrics    *metric.Resolver
	timeParser *timegrammar.Parser
	classifier *intent.Classifier

	logger *slog.Logger
}

// New builds the engine from an immutable catalog and configuration.
//
// # Description
//
// Index construction is the one-time single-threaded initialization barrier:
// it must complete before any resolution request is served. The catalog and
// config are treated as immutable inputs; the engine exposes no mutation API.
//
// # Inputs
//
//   - cat: The loaded entity catalog. Must not be nil.
//   - cfg: Resolver thresholds. Must not be nil.
//   - logger: Structured logger; nil falls back to slog.Default().
//
// # Outputs
//
//   - *Engine: The ready pipeline.
//   - error: Non-nil when the intent rules fail validation.
func New(cat *catalog.Catalog, cfg *config.ResolverConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil || cfg == nil {
		return nil, fmt.Errorf("engine: catalog and config are required")
	}

	companyIdx := index.Build(datatypes.EntityCompany, cat.Companies, cat.CompanyOverrides)
	metricIdx := index.Build(datatypes.EntityMetric, cat.Metrics, cat.MetricOverrides)

	classifier, err := intent.NewClassifier(logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	logger.Info("resolution engine initialized",
		"catalog_version", cat.Version,
		"config_version", cfg.Version,
		"companies", len(cat.Companies),
		"metrics", len(cat.Metrics))

	return &Engine{
		cfg:        cfg,
		cat:        cat,
		companies:  company.New(companyIdx, cfg, logger),
		metrics:    metric.New(metricIdx, cfg, logger),
		timeParser: timegrammar.NewParser(logger),
		classifier: classifier,
		logger:     logger,
	}, nil
}

// CatalogVersion returns the version fingerprint of the loaded catalog.
func (e *Engine) CatalogVersion() string { return e.cat.Version }

// ConfigVersion returns the version of the loaded threshold configuration.
func (e *Engine) ConfigVersion() string { return e.cfg.Version }

// CatalogStats returns catalog size counters for the diagnostics surface.
func (e *Engine) CatalogStats() catalog.Stats { return e.cat.Stats() }

// ResolveQuery is the sole entry point: raw text in, QueryPlan out.
//
// # Description
//
// The pipeline is deterministic: for a fixed (raw_text, context) pair,
// repeated invocations return identical plans. Every path yields a usable,
// possibly partial, plan plus warnings; no input aborts the request.
// Malformed input (empty or pure punctuation) short-circuits to an empty
// plan with a single MALFORMED_INPUT warning.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//   - rawText: The user utterance, unnormalized.
//   - prior: Optional previous plan of the conversation; supplies default
//     companies, metrics, and time when the new utterance omits them.
//     May be nil.
//
// # Outputs
//
//   - datatypes.QueryPlan: The terminal artifact. Never an error.
//
// # Thread Safety
//
// Safe for concurrent use.
func (e *Engine) ResolveQuery(ctx context.Context, rawText string, prior *datatypes.QueryPlan) datatypes.QueryPlan {
	ctx, span := tracer.Start(ctx, "engine.ResolveQuery")
	defer span.End()
	start := time.Now()
	defer func() { resolveDuration.Observe(time.Since(start).Seconds()) }()

	normalized := index.Normalize(rawText)
	if len(index.Tokenize(normalized)) == 0 {
		resolveTotal.WithLabelValues("malformed").Inc()
		planWarningTotal.WithLabelValues(string(datatypes.WarnMalformedInput)).Inc()
		return datatypes.QueryPlan{
			RawText:        rawText,
			NormalizedText: normalized,
			Time:           datatypes.Latest(),
			Intent:         datatypes.IntentLookup,
			Warnings:       []datatypes.WarningCode{datatypes.WarnMalformedInput},
		}
	}

	timeRes := e.timeParser.Parse(ctx, normalized)
	companies, companyWarns := e.companies.Resolve(ctx, normalized)
	metrics, metricWarns := e.metrics.Resolve(ctx, normalized)

	plan := e.assemble(assembly{
		rawText:      rawText,
		normalized:   normalized,
		companies:    companies,
		metrics:      metrics,
		timeResult:   timeRes,
		companyWarns: companyWarns,
		metricWarns:  metricWarns,
		prior:        prior,
	})

	for _, w := range plan.Warnings {
		planWarningTotal.WithLabelValues(string(w)).Inc()
	}
	resolveTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("companies", len(plan.Companies)),
		attribute.Int("metrics", len(plan.Metrics)),
		attribute.String("intent", string(plan.Intent)),
		attribute.Float64("overall_confidence", plan.OverallConfidence),
	)
	e.logger.Debug("query resolved",
		"companies", plan.CompanyIDs(),
		"metrics", plan.MetricIDs(),
		"time", plan.Time.String(),
		"intent", plan.Intent,
		"warnings", len(plan.Warnings),
		"confidence", plan.OverallConfidence)
	return plan
}
