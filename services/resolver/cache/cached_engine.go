// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/engine"
	"github.com/AleutianAI/finquery/services/resolver/index"
)

// =============================================================================
// CachedEngine
// =============================================================================

// CachedEngine wraps the resolution engine with the plan cache.
//
// # Description
//
// The cache is a pure optimization layered outside the engine: a store
// failure or a nil store degrades to plain recomputation, which is always
// correct. Concurrent identical requests are collapsed through singleflight
// so a burst of the same query computes the plan once.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEngine struct {
	engine *engine.Engine
	store  PlanStore
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedEngine wraps an engine with a plan store. store may be nil, in
// which case every request recomputes.
func NewCachedEngine(eng *engine.Engine, store PlanStore, logger *slog.Logger) *CachedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEngine{engine: eng, store: store, logger: logger}
}

// ResolveQuery resolves through the cache, falling back to the engine.
//
// # Inputs
//
//   - ctx: Context for tracing and store cancellation. Must not be nil.
//   - rawText: The user utterance, unnormalized.
//   - prior: Optional previous plan of the conversation. May be nil.
//
// # Outputs
//
//   - datatypes.QueryPlan: Identical to what the engine would produce
//     uncached; determinism makes the two indistinguishable.
func (c *CachedEngine) ResolveQuery(ctx context.Context, rawText string, prior *datatypes.QueryPlan) datatypes.QueryPlan {
	if c.store == nil {
		return c.engine.ResolveQuery(ctx, rawText, prior)
	}

	normalized := index.Normalize(rawText)
	fp := Fingerprint(normalized, prior, c.engine.CatalogVersion(), c.engine.ConfigVersion())

	if cached, err := c.store.Load(ctx, fp); err != nil {
		c.logger.Warn("plan cache load failed, recomputing", "error", err)
	} else if cached != nil {
		// The cached plan was computed from the same normalized text; only
		// RawText can differ (whitespace, trailing punctuation).
		cached.RawText = rawText
		return *cached
	}

	v, _, _ := c.group.Do(fp, func() (any, error) {
		plan := c.engine.ResolveQuery(ctx, rawText, prior)
		if err := c.store.Save(ctx, fp, &plan); err != nil {
			c.logger.Warn("plan cache save failed", "error", err)
		}
		return plan, nil
	})
	plan := v.(datatypes.QueryPlan)
	plan.RawText = rawText
	return plan
}
