// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// ResolveRequest is the body of POST /v1/resolve.
type ResolveRequest struct {
	// Query is the raw user utterance. Required but may still normalize to
	// nothing; malformed input produces a plan with a warning, not a 4xx.
	Query string `json:"query" binding:"required"`

	// Context is the prior query plan of the conversation, if any. It
	// supplies default companies, metrics, and time on follow-up turns.
	Context *datatypes.QueryPlan `json:"context,omitempty"`
}

// ResolveResponse wraps the produced plan with the request ID for tracing.
type ResolveResponse struct {
	RequestID string              `json:"request_id"`
	Plan      datatypes.QueryPlan `json:"plan"`
}

// CatalogStatsResponse is the body of GET /v1/resolve/catalog/stats.
type CatalogStatsResponse struct {
	CatalogVersion string        `json:"catalog_version"`
	ConfigVersion  string        `json:"config_version"`
	Stats          catalog.Stats `json:"stats"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the gin handler methods for the resolver endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handlers instance.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleResolve handles POST /v1/resolve.
//
// # Description
//
// The sole resolution entry point: raw text in, QueryPlan out. Resolution
// never fails for content reasons — unresolvable entities, invalid time
// expressions, and empty input all produce a usable plan plus warnings.
// The only 4xx is a body that does not bind.
//
// # Response
//
//	200 OK: ResolveResponse
//	400 Bad Request: body missing or not JSON
//
// # Thread Safety
//
// Safe for concurrent use.
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "body must be JSON with a non-empty 'query' field",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	plan := h.svc.resolver.ResolveQuery(c.Request.Context(), req.Query, req.Context)

	logger.Info("query resolved",
		"companies", len(plan.Companies),
		"metrics", len(plan.Metrics),
		"intent", plan.Intent,
		"warnings", len(plan.Warnings))
	c.JSON(http.StatusOK, ResolveResponse{RequestID: requestID, Plan: plan})
}

// HandleHealth handles GET /v1/resolve/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"catalog_version": h.svc.engine.CatalogVersion(),
	})
}

// HandleCatalogStats handles GET /v1/resolve/catalog/stats.
//
// # Response
//
//	200 OK: CatalogStatsResponse
func (h *Handlers) HandleCatalogStats(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogStatsResponse{
		CatalogVersion: h.svc.engine.CatalogVersion(),
		ConfigVersion:  h.svc.engine.ConfigVersion(),
		Stats:          h.svc.engine.CatalogStats(),
	})
}

// getOrCreateRequestID returns the inbound X-Request-ID header, minting a
// fresh UUID when the caller did not supply one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header("X-Request-ID", id)
	return id
}
