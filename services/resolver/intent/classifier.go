// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent classifies the purpose of a query from lexical cue sets and
// structural evidence (company count, time shape). Exactly one intent is
// chosen per query; conflicting cues resolve by fixed precedence.
package intent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	"github.com/AleutianAI/finquery/services/resolver/index"
)

//go:embed intent_rules.yaml
var defaultRulesYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	intentClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "intent",
		Name:      "classified_total",
		Help:      "Queries classified, by winning intent",
	}, []string{"intent"})
)

// =============================================================================
// Rules
// =============================================================================

// cueSet is one intent's lexical cue list from the rules file.
type cueSet struct {
	Intent  string   `yaml:"intent" validate:"required,oneof=lookup compare trend causal forecast scenario rank"`
	Phrases []string `yaml:"phrases" validate:"required,min=1,dive,required"`
}

// rulesFile is the on-disk shape of intent_rules.yaml.
type rulesFile struct {
	Version string   `yaml:"version" validate:"required"`
	Intents []cueSet `yaml:"intents" validate:"required,min=1,dive"`
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier decides the single intent of a query.
//
// # Thread Safety
//
// Read-only after construction; safe for concurrent use.
type Classifier struct {
	// cues maps each intent to its normalized cue phrases.
	cues    map[datatypes.Intent][]string
	version string
	logger  *slog.Logger
}

// NewClassifier builds a classifier from the embedded cue rules.
func NewClassifier(logger *slog.Logger) (*Classifier, error) {
	return NewClassifierFromYAML(defaultRulesYAML, logger)
}

// NewClassifierFromYAML builds a classifier from caller-supplied rules,
// used by tests and by deployments that version the rules externally.
func NewClassifierFromYAML(raw []byte, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var rf rulesFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}
	if err := validator.New().Struct(&rf); err != nil {
		return nil, fmt.Errorf("validate intent rules: %w", err)
	}

	cues := make(map[datatypes.Intent][]string, len(rf.Intents))
	for _, cs := range rf.Intents {
		in := datatypes.Intent(cs.Intent)
		for _, p := range cs.Phrases {
			cues[in] = append(cues[in], index.NormalizeKey(p))
		}
	}
	logger.Debug("intent rules loaded",
		"version", rf.Version,
		"intents", len(cues))
	return &Classifier{cues: cues, version: rf.Version, logger: logger}, nil
}

// Version returns the loaded rules version.
func (c *Classifier) Version() string { return c.version }

// Classify picks the single intent for a resolved query.
//
// # Description
//
// Lexical cues vote per intent; structural evidence corroborates: two or more
// distinct company matches fire the compare cue even without comparative
// wording, and a future-directed relative time window fires the forecast cue.
// When several cue sets fire, the fixed precedence order decides (causal >
// compare > forecast > trend > rank > scenario > lookup). With no cues at all
// the intent is lookup.
//
// # Inputs
//
//   - normalized: The normalized utterance.
//   - companies: Resolved company matches.
//   - metrics: Resolved metric matches (present for contract symmetry;
//     lookup is the default whenever nothing else fires).
//   - timeSpec: The resolved time period.
//
// # Outputs
//
//   - datatypes.Intent: Exactly one intent, never empty.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *Classifier) Classify(normalized string, companies, metrics []datatypes.Match, timeSpec datatypes.TimePeriodSpec) datatypes.Intent {
	fired := make(map[datatypes.Intent]bool, len(c.cues))

	haystack := tokenHaystack(normalized)
	for in, phrases := range c.cues {
		for _, p := range phrases {
			if strings.Contains(haystack, " "+p+" ") {
				fired[in] = true
				break
			}
		}
	}

	if len(companies) >= 2 {
		fired[datatypes.IntentCompare] = true
	}
	if timeSpec.Kind == datatypes.PeriodRelative && timeSpec.Direction == "future" {
		fired[datatypes.IntentForecast] = true
	}

	winner := datatypes.IntentLookup
	for _, in := range datatypes.IntentPrecedence {
		if fired[in] {
			winner = in
			break
		}
	}
	intentClassifiedTotal.WithLabelValues(string(winner)).Inc()
	return winner
}

// tokenHaystack rebuilds the utterance from normalized lowercase tokens with
// sentinel padding, so cue phrases match on whole-token boundaries and edge
// punctuation ("vs.") cannot defeat a cue.
func tokenHaystack(normalized string) string {
	toks := index.Tokenize(normalized)
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Lower
	}
	return " " + strings.Join(parts, " ") + " "
}
