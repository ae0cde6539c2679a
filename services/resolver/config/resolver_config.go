// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the versioned tuning configuration of the query
// resolution engine. Every matching threshold lives here, in one reviewable
// struct, instead of being scattered through the resolvers as constants.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize bounds any YAML document the engine will parse.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// =============================================================================
// Embedded Default Thresholds
// =============================================================================

//go:embed resolver_thresholds.yaml
var defaultThresholdsYAML []byte

// =============================================================================
// Resolver Configuration Types
// =============================================================================

// ResolverConfig is the complete, versioned tuning surface of the engine.
//
// Description:
//
//	Behavior changes are made here and reviewed as data, not hunted down
//	across resolver source files. The Version field participates in the
//	plan-cache fingerprint so a tuning change invalidates cached plans.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type ResolverConfig struct {
	// Version identifies this tuning revision (e.g. "2025-08-1").
	Version string `yaml:"version"`

	// Fuzzy configures the graduated fuzzy matcher.
	Fuzzy FuzzyConfig `yaml:"fuzzy"`

	// Phrase configures multi-word alias lookup.
	Phrase PhraseConfig `yaml:"phrase"`

	// Confidence configures plan-level confidence handling.
	Confidence ConfidenceConfig `yaml:"confidence"`
}

// FuzzyConfig tunes approximate matching.
type FuzzyConfig struct {
	// Tiers are similarity cutoffs attempted strictest-first. A candidate
	// set is only taken from the first tier that produces any hit, so a
	// loose match can never win while a near-exact one exists.
	Tiers []float64 `yaml:"tiers"`

	// ShortTokenLength is the length at or below which ShortTokenFloor
	// applies. Short strings score spuriously high against unrelated short
	// words, so they get a stricter floor.
	ShortTokenLength int `yaml:"short_token_length"`

	// ShortTokenFloor is the minimum similarity for short tokens.
	ShortTokenFloor float64 `yaml:"short_token_floor"`

	// MaxCandidates caps the ranked result list per lookup.
	MaxCandidates int `yaml:"max_candidates"`
}

// PhraseConfig tunes phrase-window alias lookup.
type PhraseConfig struct {
	// MaxWindow is the longest multi-word phrase tried, in tokens. Lookup
	// tries the longest window first, then progressively shorter
	// sub-phrases, then individual tokens.
	MaxWindow int `yaml:"max_window"`
}

// ConfidenceConfig tunes plan-level confidence handling.
type ConfidenceConfig struct {
	// LowWatermark is the component confidence below which the assembler
	// attaches LOW_CONFIDENCE_MATCH.
	LowWatermark float64 `yaml:"low_watermark"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultShortTokenLength matches tokens of three characters or fewer.
	DefaultShortTokenLength = 3

	// DefaultShortTokenFloor is the strict similarity floor for short tokens.
	DefaultShortTokenFloor = 0.90

	// DefaultMaxCandidates caps ranked fuzzy results.
	DefaultMaxCandidates = 5

	// DefaultMaxPhraseWindow is the longest alias phrase tried, in tokens.
	DefaultMaxPhraseWindow = 5

	// DefaultLowWatermark flags plans built from weak matches.
	DefaultLowWatermark = 0.75
)

// DefaultFuzzyTiers are the graduated similarity cutoffs, strictest first.
var DefaultFuzzyTiers = []float64{0.85, 0.80, 0.75, 0.70}

// =============================================================================
// Singleton Resolver Config
// =============================================================================

var (
	resolverConfigMu      sync.RWMutex
	cachedResolverConfig  *ResolverConfig
	resolverConfigLoadErr error
)

// GetResolverConfig returns the cached resolver configuration, loading the
// embedded defaults on first call.
//
// Thread Safety: Safe for concurrent use.
func GetResolverConfig() (*ResolverConfig, error) {
	resolverConfigMu.RLock()
	if cachedResolverConfig != nil || resolverConfigLoadErr != nil {
		cfg, err := cachedResolverConfig, resolverConfigLoadErr
		resolverConfigMu.RUnlock()
		return cfg, err
	}
	resolverConfigMu.RUnlock()

	resolverConfigMu.Lock()
	defer resolverConfigMu.Unlock()

	if cachedResolverConfig == nil && resolverConfigLoadErr == nil {
		cachedResolverConfig, resolverConfigLoadErr = LoadResolverConfig(defaultThresholdsYAML)
	}
	return cachedResolverConfig, resolverConfigLoadErr
}

// ResetResolverConfig clears the cached config so tests can reload with
// different data.
func ResetResolverConfig() {
	resolverConfigMu.Lock()
	defer resolverConfigMu.Unlock()
	cachedResolverConfig = nil
	resolverConfigLoadErr = nil
}

// LoadResolverConfig parses and validates a ResolverConfig from YAML bytes,
// applying defaults for missing fields.
//
// Inputs:
//
//	data - Raw YAML bytes. Must be non-empty and under MaxYAMLFileSize.
//
// Outputs:
//
//	*ResolverConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadResolverConfig(data []byte) (*ResolverConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadResolverConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadResolverConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg ResolverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadResolverConfig: parsing YAML: %w", err)
	}

	if len(cfg.Fuzzy.Tiers) == 0 {
		cfg.Fuzzy.Tiers = append([]float64(nil), DefaultFuzzyTiers...)
	}
	if cfg.Fuzzy.ShortTokenLength <= 0 {
		cfg.Fuzzy.ShortTokenLength = DefaultShortTokenLength
	}
	if cfg.Fuzzy.ShortTokenFloor <= 0 {
		cfg.Fuzzy.ShortTokenFloor = DefaultShortTokenFloor
	}
	if cfg.Fuzzy.MaxCandidates <= 0 {
		cfg.Fuzzy.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Phrase.MaxWindow <= 0 {
		cfg.Phrase.MaxWindow = DefaultMaxPhraseWindow
	}
	if cfg.Confidence.LowWatermark <= 0 {
		cfg.Confidence.LowWatermark = DefaultLowWatermark
	}

	if err := validateResolverConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadResolverConfig: validation: %w", err)
	}

	slog.Info("resolver config loaded",
		slog.String("version", cfg.Version),
		slog.Int("fuzzy_tiers", len(cfg.Fuzzy.Tiers)),
		slog.Int("phrase_window", cfg.Phrase.MaxWindow),
	)
	return &cfg, nil
}

// validateResolverConfig checks the tuning values for consistency.
func validateResolverConfig(cfg *ResolverConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("version must not be empty")
	}
	prev := 1.01
	for i, tier := range cfg.Fuzzy.Tiers {
		if tier <= 0 || tier > 1 {
			return fmt.Errorf("fuzzy.tiers[%d]: must be in (0,1], got %v", i, tier)
		}
		if tier >= prev {
			return fmt.Errorf("fuzzy.tiers[%d]: tiers must be strictly decreasing, got %v after %v", i, tier, prev)
		}
		prev = tier
	}
	if cfg.Fuzzy.ShortTokenFloor < cfg.Fuzzy.Tiers[0] {
		return fmt.Errorf("fuzzy.short_token_floor (%v) must be at least the strictest tier (%v)",
			cfg.Fuzzy.ShortTokenFloor, cfg.Fuzzy.Tiers[0])
	}
	if cfg.Confidence.LowWatermark >= 1 {
		return fmt.Errorf("confidence.low_watermark must be below 1, got %v", cfg.Confidence.LowWatermark)
	}
	return nil
}
