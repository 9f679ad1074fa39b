// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists completed genealogy traces in BadgerDB.
//
// A completed trace is cached under its normalized query plus the model
// that produced it, with a TTL so stale genealogies age out naturally.
// BadgerDB gives low-latency embedded storage (~100µs) without an
// external service; entries expire through Badger's native TTL support
// and value-log garbage collection reclaims the space.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Default configuration values.
const (
	// DefaultTTL is how long a completed trace stays cached.
	DefaultTTL = 24 * time.Hour

	// DefaultGCInterval is how often to run value log garbage collection.
	DefaultGCInterval = 5 * time.Minute

	// DefaultGCDiscardRatio is the minimum ratio of discardable data
	// before GC rewrites a value log file.
	DefaultGCDiscardRatio = 0.5
)

// keyPrefix namespaces trace entries within the database.
const keyPrefix = "trace:"

// CachedItem is one genealogy record inside a cached trace.
type CachedItem struct {
	Title string `json:"title"`
	Year  string `json:"year"`
	URL   string `json:"url,omitempty"`
	Claim string `json:"claim"`
}

// CachedTrace is a completed trace, sufficient to replay a session
// without contacting the backend.
type CachedTrace struct {
	Query          string       `json:"query"`
	Model          string       `json:"model,omitempty"`
	Items          []CachedItem `json:"items"`
	Questions      []string     `json:"questions,omitempty"`
	CreatedAtMilli int64        `json:"created_at_milli"`
}

// Config holds configuration for the trace cache.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true; created if missing.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful
	// for testing.
	InMemory bool

	// TTL is how long entries live. Zero means DefaultTTL.
	TTL time.Duration

	// GCInterval is how often to run value log GC. Zero disables GC;
	// in-memory databases never run GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio to trigger GC.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults rooted at the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		TTL:            DefaultTTL,
		GCInterval:     DefaultGCInterval,
		GCDiscardRatio: DefaultGCDiscardRatio,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// TraceCache stores completed traces with TTL semantics.
//
// Thread Safety: TraceCache is safe for concurrent use.
type TraceCache struct {
	db     *badger.DB
	ttl    time.Duration
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

// Open creates a trace cache with the given configuration.
//
// Outputs:
//
//	*TraceCache - The opened cache. Caller must call Close when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*TraceCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open trace cache: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &TraceCache{
		db:     db,
		ttl:    ttl,
		logger: cfg.Logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = DefaultGCDiscardRatio
		}
		c.stopGC = make(chan struct{})
		c.doneGC = make(chan struct{})
		go c.runGC(cfg.GCInterval, ratio)
	}

	return c, nil
}

// OpenInMemory opens a cache for testing. Data is lost when closed.
func OpenInMemory(ttl time.Duration) (*TraceCache, error) {
	return Open(Config{InMemory: true, TTL: ttl})
}

// Key derives the cache key for a query and model.
//
// Description:
//
//	Hashes the normalized (lowercased, trimmed) query together with the
//	model identifier, so the same concept traced against different
//	models caches independently.
func Key(query, model string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized + "\x00" + model))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Put stores a completed trace under its query+model key.
//
// Description:
//
//	Serializes the trace as JSON and writes it with the cache TTL.
//	Badger expires the entry without further bookkeeping.
//
// Thread Safety: This method is safe for concurrent use.
func (c *TraceCache) Put(ctx context.Context, trace *CachedTrace) error {
	ctx, span := tracer.Start(ctx, "cache.Put")
	defer span.End()

	if trace.CreatedAtMilli == 0 {
		trace.CreatedAtMilli = time.Now().UnixMilli()
	}

	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal cached trace: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(Key(trace.Query, trace.Model)), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("store cached trace: %w", err)
	}

	recordPut(ctx)
	return nil
}

// Get retrieves a cached trace.
//
// Outputs:
//
//	*CachedTrace - The trace, or nil on miss.
//	bool - True on a hit.
//	error - Non-nil only for storage failures; an expired or absent
//	entry is a miss, not an error.
//
// Thread Safety: This method is safe for concurrent use.
func (c *TraceCache) Get(ctx context.Context, query, model string) (*CachedTrace, bool, error) {
	ctx, span := tracer.Start(ctx, "cache.Get")
	defer span.End()

	var trace *CachedTrace
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(query, model)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded CachedTrace
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			trace = &decoded
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		recordMiss(ctx)
		return nil, false, nil
	}
	if err != nil {
		recordMiss(ctx)
		return nil, false, fmt.Errorf("read cached trace: %w", err)
	}

	recordHit(ctx)
	return trace, true, nil
}

// Delete removes a cached trace. Absent entries are a no-op.
func (c *TraceCache) Delete(ctx context.Context, query, model string) error {
	_, span := tracer.Start(ctx, "cache.Delete")
	defer span.End()

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(Key(query, model)))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete cached trace: %w", err)
	}
	return nil
}

// Close stops garbage collection and closes the database.
func (c *TraceCache) Close() error {
	if c.stopGC != nil {
		close(c.stopGC)
		<-c.doneGC
		c.stopGC = nil
	}
	return c.db.Close()
}

func (c *TraceCache) runGC(interval time.Duration, ratio float64) {
	defer close(c.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when nothing needed
			// collecting; that is not a failure.
			err := c.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && c.logger != nil {
				c.logger.Warn("trace cache GC error", slog.String("error", err.Error()))
			}
		}
	}
}
