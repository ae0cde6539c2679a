// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver exposes the query resolution engine over HTTP. The
// transport layer binds JSON, delegates to the engine (optionally through
// the plan cache), and maps outcomes to status codes; all domain decisions
// live below it.
package resolver

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/engine"
)

// QueryResolver is the resolution entry point the transport depends on.
// Satisfied by both *engine.Engine and *cache.CachedEngine.
type QueryResolver interface {
	ResolveQuery(ctx context.Context, rawText string, prior *datatypes.QueryPlan) datatypes.QueryPlan
}

// Service binds the transport to one resolver instance.
//
// # Thread Safety
//
// Safe for concurrent use; the service holds no mutable state.
type Service struct {
	resolver QueryResolver
	engine   *engine.Engine
	logger   *slog.Logger
}

// NewService creates the HTTP service.
//
// # Inputs
//
//   - resolver: The resolution entry point, cached or plain. Must not be nil.
//   - eng: The underlying engine, used for version and stats reporting.
//     Must not be nil.
//   - logger: Structured logger; nil falls back to slog.Default().
func NewService(resolver QueryResolver, eng *engine.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, engine: eng, logger: logger}
}
