// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command resolverd starts the FinQuery resolution API server.
//
// The server turns natural-language financial questions into typed query
// plans: resolved companies, metrics, time periods, and intent.
//
// Usage:
//
//	go run ./cmd/resolverd
//	go run ./cmd/resolverd -port 9090
//	go run ./cmd/resolverd -companies ./catalog/companies.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/resolve/health
//
//	# Resolve a query
//	curl -X POST http://localhost:8080/v1/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "compare Apple and Microsoft revenue for 2023"}'
//
//	# Catalog stats
//	curl http://localhost:8080/v1/resolve/catalog/stats | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/finquery/services/resolver"
	"github.com/AleutianAI/finquery/services/resolver/cache"
	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/engine"
	badgerstore "github.com/AleutianAI/finquery/services/resolver/storage/badger"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	companiesPath := flag.String("companies", "", "Company catalog YAML (default: embedded)")
	metricsPath := flag.String("metrics", "", "Metric ontology YAML (default: embedded)")
	overridesPath := flag.String("overrides", "", "Manual override YAML (default: embedded)")
	cacheDir := flag.String("cache-dir", "", "Plan cache directory (default: ~/.finquery/cache/plans; empty env PLAN_CACHE_DIR=off disables)")
	traceStdout := flag.Bool("trace-stdout", false, "Export OTel spans to stdout")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if *traceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Error("Failed to create stdout trace exporter", "error", err)
			os.Exit(1)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	// Catalog and thresholds: immutable inputs, loaded once before serving.
	cat, err := catalog.LoadFromFiles(*companiesPath, *metricsPath, *overridesPath)
	if err != nil {
		logger.Error("Failed to load entity catalog", "error", err)
		os.Exit(1)
	}
	cfg, err := config.GetResolverConfig()
	if err != nil {
		logger.Error("Failed to load resolver config", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cat, cfg, logger)
	if err != nil {
		logger.Error("Failed to build resolution engine", "error", err)
		os.Exit(1)
	}

	// Plan cache: a pure optimization. If the store cannot open, serve
	// without it — recomputation is always correct.
	var planDB *badgerstore.DB
	var resolverEntry resolver.QueryResolver = eng
	dir := resolveCacheDir(*cacheDir)
	if dir != "" {
		db, err := badgerstore.Open(dir, logger)
		if err != nil {
			logger.Warn("Plan cache unavailable, serving uncached",
				"dir", dir, "error", err)
		} else {
			planDB = db
			store := cache.NewBadgerPlanStore(db, 0, logger)
			resolverEntry = cache.NewCachedEngine(eng, store, logger)
			logger.Info("Plan cache opened", "dir", dir)
		}
	}

	svc := resolver.NewService(resolverEntry, eng, logger)
	handlers := resolver.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("finquery-resolver"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	resolver.RegisterRoutes(v1, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting FinQuery resolver server",
			"address", srv.Addr,
			"catalog_version", eng.CatalogVersion(),
			"config_version", eng.ConfigVersion())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down FinQuery resolver server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown was not clean", "error", err)
	}
	if planDB != nil {
		if err := planDB.Close(); err != nil {
			logger.Warn("Failed to close plan cache", "error", err)
		}
	}
}

// resolveCacheDir picks the plan cache directory: the flag wins, then the
// PLAN_CACHE_DIR environment variable ("off" disables), then the default
// under the user's home. Returns "" to disable caching.
func resolveCacheDir(flagDir string) string {
	if flagDir != "" {
		return flagDir
	}
	if env, ok := os.LookupEnv("PLAN_CACHE_DIR"); ok {
		if env == "off" {
			return ""
		}
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".finquery", "cache", "plans")
}
