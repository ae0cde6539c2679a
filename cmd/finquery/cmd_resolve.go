// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/finquery/services/resolver/catalog"
	"github.com/AleutianAI/finquery/services/resolver/config"
	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/engine"
)

// resolve command flag values.
var (
	outputFormat  string
	companiesPath string
	metricsPath   string
	overridesPath string
)

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <query...>",
		Short: "Resolve one query and print the resulting plan",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResolveCommand,
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	cmd.Flags().StringVar(&companiesPath, "companies", "", "Company catalog YAML (default: embedded)")
	cmd.Flags().StringVar(&metricsPath, "metrics", "", "Metric ontology YAML (default: embedded)")
	cmd.Flags().StringVar(&overridesPath, "overrides", "", "Manual override YAML (default: embedded)")
	return cmd
}

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print catalog version and size counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			stats := eng.CatalogStats()
			fmt.Printf("catalog version: %s\n", eng.CatalogVersion())
			fmt.Printf("config version:  %s\n", eng.ConfigVersion())
			fmt.Printf("companies: %d (%d aliases)\n", stats.CompanyCount, stats.CompanyAliases)
			fmt.Printf("metrics:   %d (%d aliases)\n", stats.MetricCount, stats.MetricAliases)
			fmt.Printf("overrides: %d company, %d metric\n", stats.CompanyOverrides, stats.MetricOverrides)
			return nil
		},
	}
}

func runResolveCommand(_ *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	plan := eng.ResolveQuery(context.Background(), query, nil)

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case "text":
		printPlan(os.Stdout, &plan)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", outputFormat)
	}
}

// buildEngine loads the catalog and thresholds and constructs the pipeline.
// The CLI logs warnings only; resolution diagnostics live in the plan itself.
func buildEngine() (*engine.Engine, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cat, err := catalog.LoadFromFiles(companiesPath, metricsPath, overridesPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cfg, err := config.GetResolverConfig()
	if err != nil {
		return nil, fmt.Errorf("load resolver config: %w", err)
	}
	return engine.New(cat, cfg, logger)
}

func printPlan(w io.Writer, plan *datatypes.QueryPlan) {
	fmt.Fprintf(w, "query:  %s\n", plan.RawText)
	fmt.Fprintf(w, "intent: %s\n", plan.Intent)
	fmt.Fprintf(w, "time:   %s\n", plan.Time.String())

	if len(plan.Companies) == 0 {
		fmt.Fprintln(w, "companies: (none)")
	} else {
		fmt.Fprintln(w, "companies:")
		for _, m := range plan.Companies {
			fmt.Fprintf(w, "  %-8s %-28s %s (%.2f)\n", m.CanonicalID, m.DisplayName, m.Method, m.Confidence)
		}
	}
	if len(plan.Metrics) == 0 {
		fmt.Fprintln(w, "metrics: (none)")
	} else {
		fmt.Fprintln(w, "metrics:")
		for _, m := range plan.Metrics {
			fmt.Fprintf(w, "  %-20s %-28s %s (%.2f)\n", m.CanonicalID, m.DisplayName, m.Method, m.Confidence)
		}
	}
	if len(plan.Warnings) > 0 {
		fmt.Fprintln(w, "warnings:")
		for _, wcode := range plan.Warnings {
			fmt.Fprintf(w, "  %s\n", wcode)
		}
	}
	fmt.Fprintf(w, "confidence: %.2f\n", plan.OverallConfidence)
}
