// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps the embedded BadgerDB instance used for plan cache
// persistence. The wrapper owns the open/close lifecycle and exposes
// context-aware transaction helpers; callers never touch the raw *badger.DB.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// gcInterval is how often the value-log garbage collector runs.
const gcInterval = 10 * time.Minute

// gcDiscardRatio controls how aggressively the GC rewrites value log files.
// 0.5 is the value recommended by the BadgerDB documentation.
const gcDiscardRatio = 0.5

// DB is the opened BadgerDB handle plus its GC loop.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens (or creates) a BadgerDB at the given directory and starts the
// value-log GC loop.
//
// # Inputs
//
//   - dir: Filesystem path for the database. Created if absent. Pass "" to
//     open an in-memory instance (tests, cache-less deployments).
//   - logger: Structured logger; nil falls back to slog.Default().
//
// # Outputs
//
//   - *DB: The opened handle. Callers own the lifecycle and must Close it.
//   - error: Non-nil when the directory cannot be opened or locked.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for production
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}

	d := &DB{
		db:     db,
		logger: logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	go d.gcLoop()

	logger.Info("badger store opened", "dir", dir, "in_memory", dir == "")
	return d, nil
}

// Close stops the GC loop and closes the underlying database. Safe to call
// once; the handle is unusable afterwards.
func (d *DB) Close() error {
	close(d.stopGC)
	<-d.doneGC
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// WithTxn runs fn inside a read-write transaction, committing on nil return.
//
// # Inputs
//
//   - ctx: Checked before the transaction starts; an already-cancelled
//     context aborts without touching the store.
//   - fn: Transaction body. Returning an error discards the transaction.
//
// # Outputs
//
//   - error: fn's error, a commit error, or ctx.Err().
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// gcLoop periodically reclaims value-log space. RunValueLogGC returns an
// error when there is nothing to collect, which is the common case and is
// not logged.
func (d *DB) gcLoop() {
	defer close(d.doneGC)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			for {
				if err := d.db.RunValueLogGC(gcDiscardRatio); err != nil {
					break
				}
			}
		}
	}
}
