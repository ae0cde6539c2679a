// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists resolved query plans between requests.
//
// Resolution is deterministic and cheap, so the cache is a pure optimization:
// it must always be safe to bypass entirely. A plan is keyed by a SHA256
// fingerprint of the normalized text, the conversation-context fingerprint,
// and the catalog and config versions — any change to the vocabulary or the
// thresholds makes the old entries unreachable, so no explicit invalidation
// API exists.
//
// Storage layout:
//
//	resolver/plan/v1/{fingerprint}  →  gob-encoded datatypes.QueryPlan
//	                                    TTL: 24 hours
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/finquery/services/resolver/datatypes"
	badgerstore "github.com/AleutianAI/finquery/services/resolver/storage/badger"
)

// planCacheDefaultTTL is the default lifetime of a cached plan. One day:
// resolution is deterministic, so entries only need to expire to bound disk
// growth, not to stay correct.
const planCacheDefaultTTL = 24 * time.Hour

// planCacheKeyPrefix is prepended to the fingerprint to form the BadgerDB
// key. Versioned (v1) to allow future format changes without collision.
const planCacheKeyPrefix = "resolver/plan/v1/"

// errCacheMiss distinguishes "key not found" from a genuine storage error.
var errCacheMiss = errors.New("cache miss")

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	planCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finquery",
		Subsystem: "plan_cache",
		Name:      "lookup_total",
		Help:      "Plan cache lookups, by outcome",
	}, []string{"outcome"})
)

// =============================================================================
// PlanStore Interface
// =============================================================================

// PlanStore persists resolved query plans.
//
// # Description
//
// Both methods are nil-safe at the call sites: callers check for a nil
// PlanStore and recompute, operating in cache-less mode. That is the correct
// behavior for tests and for deployments without a cache directory.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PlanStore interface {
	// Load retrieves a cached plan for the given fingerprint.
	//
	// Returns (nil, nil) on cache miss (key absent or TTL expired).
	// Returns (nil, error) on storage failure.
	Load(ctx context.Context, fingerprint string) (*datatypes.QueryPlan, error)

	// Save persists a plan under the given fingerprint with the store's TTL.
	//
	// Returns non-nil error only on storage failure. Callers log the error
	// as a warning and continue — persistence failure is non-fatal.
	Save(ctx context.Context, fingerprint string, plan *datatypes.QueryPlan) error
}

// =============================================================================
// BadgerPlanStore
// =============================================================================

// BadgerPlanStore implements PlanStore backed by the embedded BadgerDB.
//
// # Description
//
// Plans are gob-encoded; a resolved plan is a few hundred bytes. TTL is
// enforced by BadgerDB's native GC — expired keys return ErrKeyNotFound,
// which reads as a cache miss.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerPlanStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerPlanStore creates a plan store backed by the given DB instance.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil. The caller owns the DB
//     lifecycle — this store does not close it.
//   - ttl: Lifetime for each cached entry. Pass 0 to use the default (24h).
//   - logger: Logger for hit/miss diagnostics. May be nil.
func NewBadgerPlanStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerPlanStore {
	if db == nil {
		panic("NewBadgerPlanStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = planCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerPlanStore{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a cached plan. (nil, nil) means miss.
func (s *BadgerPlanStore) Load(ctx context.Context, fingerprint string) (*datatypes.QueryPlan, error) {
	key := planCacheKey(fingerprint)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		planCacheTotal.WithLabelValues("miss").Inc()
		s.logger.Debug("plan cache: miss", slog.String("fingerprint", shortFingerprint(fingerprint)))
		return nil, nil
	}
	if err != nil {
		planCacheTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("plan cache load: %w", err)
	}

	var plan datatypes.QueryPlan
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&plan); err != nil {
		planCacheTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("plan cache decode: %w", err)
	}

	planCacheTotal.WithLabelValues("hit").Inc()
	s.logger.Debug("plan cache: hit", slog.String("fingerprint", shortFingerprint(fingerprint)))
	return &plan, nil
}

// Save persists a plan with the store's TTL.
func (s *BadgerPlanStore) Save(ctx context.Context, fingerprint string, plan *datatypes.QueryPlan) error {
	if plan == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(plan); err != nil {
		return fmt.Errorf("plan cache encode: %w", err)
	}

	key := planCacheKey(fingerprint)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("plan cache save: %w", err)
	}

	s.logger.Debug("plan cache: saved",
		slog.String("fingerprint", shortFingerprint(fingerprint)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// Fingerprint
// =============================================================================

// Fingerprint computes the deterministic cache key for one resolution.
//
// # Description
//
// The digest captures every signal that determines the output plan:
//   - the normalized utterance (the resolvers see nothing else of the input)
//   - the prior plan's canonical IDs, time, and intent (context inheritance
//     can change the output for identical text)
//   - the catalog version (vocabulary changes change matches)
//   - the config version (threshold changes change fuzzy outcomes)
//
// # Outputs
//
//   - string: Lowercase hex-encoded SHA256 digest (64 characters).
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Fingerprint(normalized string, prior *datatypes.QueryPlan, catalogVersion, configVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "text=%s\n", normalized)
	if prior != nil {
		fmt.Fprintf(h, "ctx_companies=%s\n", strings.Join(prior.CompanyIDs(), ","))
		fmt.Fprintf(h, "ctx_metrics=%s\n", strings.Join(prior.MetricIDs(), ","))
		fmt.Fprintf(h, "ctx_time=%s\n", prior.Time.String())
		fmt.Fprintf(h, "ctx_intent=%s\n", prior.Intent)
	}
	fmt.Fprintf(h, "catalog=%s\nconfig=%s\n", catalogVersion, configVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Helpers
// =============================================================================

func planCacheKey(fingerprint string) []byte {
	return []byte(planCacheKeyPrefix + fingerprint)
}

// shortFingerprint truncates a fingerprint for log display.
func shortFingerprint(f string) string {
	if len(f) > 8 {
		return f[:8] + "..."
	}
	return f
}
