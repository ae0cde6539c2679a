// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads the canonical entity catalog: the company list, the
// metric synonym ontology, and the manually curated override table. The
// catalog is external, versioned data consumed at initialization; it is
// immutable for the life of the process and exposes no mutation API.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/finquery/services/resolver/config"
)

// =============================================================================
// Embedded Default Catalogs
// =============================================================================

//go:embed companies.yaml
var defaultCompaniesYAML []byte

//go:embed metrics.yaml
var defaultMetricsYAML []byte

//go:embed overrides.yaml
var defaultOverridesYAML []byte

// =============================================================================
// Catalog Types
// =============================================================================

// Entry is one canonical entity: a company or a metric.
//
// Aliases are not required to be unique across entries; the alias index
// preserves all candidates and the resolvers pick by priority. Priority
// breaks ties deterministically (higher wins; equal priorities fall back to
// registration order).
type Entry struct {
	// ID is the stable canonical identifier (ticker or metric key).
	ID string `yaml:"id" validate:"required"`

	// Name is the display name shown to users.
	Name string `yaml:"name" validate:"required"`

	// Aliases are the natural-language strings that resolve to this entry.
	Aliases []string `yaml:"aliases"`

	// Priority breaks ties between entries sharing an alias. Higher wins.
	Priority int `yaml:"priority" validate:"gte=0,lte=100"`
}

// companiesFile is the on-disk shape of companies.yaml.
type companiesFile struct {
	Version   string  `yaml:"version" validate:"required"`
	Companies []Entry `yaml:"companies" validate:"required,min=1,dive"`
}

// metricsFile is the on-disk shape of metrics.yaml.
type metricsFile struct {
	Version string  `yaml:"version" validate:"required"`
	Metrics []Entry `yaml:"metrics" validate:"required,min=1,dive"`
}

// overridesFile is the on-disk shape of overrides.yaml. Keys are normalized
// phrases; values are canonical IDs that must exist in the matching catalog.
type overridesFile struct {
	Version   string            `yaml:"version" validate:"required"`
	Companies map[string]string `yaml:"companies"`
	Metrics   map[string]string `yaml:"metrics"`
}

// Catalog is the loaded, validated, immutable entity catalog.
//
// Thread Safety: read-only after Load; safe for concurrent use.
type Catalog struct {
	// Version combines the component file versions, e.g. "c1+m1+o1". It
	// participates in the plan-cache fingerprint.
	Version string

	// Companies in registration order. Order matters: equal-priority alias
	// ties resolve to the first-registered entry.
	Companies []Entry

	// Metrics in registration order.
	Metrics []Entry

	// CompanyOverrides maps normalized phrase to company ID. Overrides win
	// regardless of any fuzzy score.
	CompanyOverrides map[string]string

	// MetricOverrides maps normalized phrase to metric ID.
	MetricOverrides map[string]string
}

// Stats summarizes catalog contents for the operational stats endpoint.
type Stats struct {
	Version          string `json:"version"`
	CompanyCount     int    `json:"company_count"`
	CompanyAliases   int    `json:"company_aliases"`
	MetricCount      int    `json:"metric_count"`
	MetricAliases    int    `json:"metric_aliases"`
	CompanyOverrides int    `json:"company_overrides"`
	MetricOverrides  int    `json:"metric_overrides"`
}

// Stats returns alias and entry counts.
func (c *Catalog) Stats() Stats {
	s := Stats{
		Version:          c.Version,
		CompanyCount:     len(c.Companies),
		MetricCount:      len(c.Metrics),
		CompanyOverrides: len(c.CompanyOverrides),
		MetricOverrides:  len(c.MetricOverrides),
	}
	for _, e := range c.Companies {
		s.CompanyAliases += len(e.Aliases)
	}
	for _, e := range c.Metrics {
		s.MetricAliases += len(e.Aliases)
	}
	return s
}

// =============================================================================
// Loading
// =============================================================================

var validate = validator.New()

// Load parses and cross-validates the three catalog documents.
//
// Inputs:
//
//	companiesYAML, metricsYAML, overridesYAML - Raw YAML bytes. All required.
//
// Outputs:
//
//	*Catalog - The validated catalog. Never nil on success.
//	error - Non-nil on parse, schema, or referential failure.
func Load(companiesYAML, metricsYAML, overridesYAML []byte) (*Catalog, error) {
	var cf companiesFile
	if err := parseDoc("companies", companiesYAML, &cf); err != nil {
		return nil, err
	}
	var mf metricsFile
	if err := parseDoc("metrics", metricsYAML, &mf); err != nil {
		return nil, err
	}
	var of overridesFile
	if err := parseDoc("overrides", overridesYAML, &of); err != nil {
		return nil, err
	}

	cat := &Catalog{
		Version:          fmt.Sprintf("%s+%s+%s", cf.Version, mf.Version, of.Version),
		Companies:        cf.Companies,
		Metrics:          mf.Metrics,
		CompanyOverrides: of.Companies,
		MetricOverrides:  of.Metrics,
	}
	if cat.CompanyOverrides == nil {
		cat.CompanyOverrides = map[string]string{}
	}
	if cat.MetricOverrides == nil {
		cat.MetricOverrides = map[string]string{}
	}

	if err := cat.checkReferences(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	slog.Info("entity catalog loaded",
		slog.String("version", cat.Version),
		slog.Int("companies", len(cat.Companies)),
		slog.Int("metrics", len(cat.Metrics)),
		slog.Int("company_overrides", len(cat.CompanyOverrides)),
		slog.Int("metric_overrides", len(cat.MetricOverrides)),
	)
	return cat, nil
}

// parseDoc unmarshals and schema-validates one catalog document.
func parseDoc(name string, data []byte, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("catalog: %s document is empty", name)
	}
	if len(data) > config.MaxYAMLFileSize {
		return fmt.Errorf("catalog: %s document exceeds maximum size (%d > %d)", name, len(data), config.MaxYAMLFileSize)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog: parsing %s: %w", name, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("catalog: validating %s: %w", name, err)
	}
	return nil
}

// checkReferences verifies ID uniqueness and that every override target
// exists in the matching catalog.
func (c *Catalog) checkReferences() error {
	companyIDs := make(map[string]bool, len(c.Companies))
	for i, e := range c.Companies {
		if companyIDs[e.ID] {
			return fmt.Errorf("companies[%d]: duplicate id %q", i, e.ID)
		}
		companyIDs[e.ID] = true
	}
	metricIDs := make(map[string]bool, len(c.Metrics))
	for i, e := range c.Metrics {
		if metricIDs[e.ID] {
			return fmt.Errorf("metrics[%d]: duplicate id %q", i, e.ID)
		}
		metricIDs[e.ID] = true
	}
	for phrase, id := range c.CompanyOverrides {
		if !companyIDs[id] {
			return fmt.Errorf("company override %q points at unknown id %q", phrase, id)
		}
	}
	for phrase, id := range c.MetricOverrides {
		if !metricIDs[id] {
			return fmt.Errorf("metric override %q points at unknown id %q", phrase, id)
		}
	}
	return nil
}

// LoadFromFiles loads the catalog from external files, falling back to the
// embedded defaults for any empty path. Used by the server flag surface so
// deployments can version catalogs outside the binary.
func LoadFromFiles(companiesPath, metricsPath, overridesPath string) (*Catalog, error) {
	read := func(path string, fallback []byte) ([]byte, error) {
		if path == "" {
			return fallback, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
		}
		return data, nil
	}

	companies, err := read(companiesPath, defaultCompaniesYAML)
	if err != nil {
		return nil, err
	}
	metrics, err := read(metricsPath, defaultMetricsYAML)
	if err != nil {
		return nil, err
	}
	overrides, err := read(overridesPath, defaultOverridesYAML)
	if err != nil {
		return nil, err
	}
	return Load(companies, metrics, overrides)
}

// =============================================================================
// Singleton Default Catalog
// =============================================================================

var (
	defaultCatalogMu sync.RWMutex
	cachedCatalog    *Catalog
	catalogLoadErr   error
)

// GetDefault returns the embedded default catalog, loaded once.
//
// Thread Safety: Safe for concurrent use.
func GetDefault() (*Catalog, error) {
	defaultCatalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		cat, err := cachedCatalog, catalogLoadErr
		defaultCatalogMu.RUnlock()
		return cat, err
	}
	defaultCatalogMu.RUnlock()

	defaultCatalogMu.Lock()
	defer defaultCatalogMu.Unlock()
	if cachedCatalog == nil && catalogLoadErr == nil {
		cachedCatalog, catalogLoadErr = Load(defaultCompaniesYAML, defaultMetricsYAML, defaultOverridesYAML)
	}
	return cachedCatalog, catalogLoadErr
}

// ResetDefault clears the cached default catalog for testing.
func ResetDefault() {
	defaultCatalogMu.Lock()
	defer defaultCatalogMu.Unlock()
	cachedCatalog = nil
	catalogLoadErr = nil
}
