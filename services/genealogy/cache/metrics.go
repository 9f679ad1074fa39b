// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cache operations. With no SDK
// installed these are no-ops, so instrumentation costs nothing in
// default deployments.
var (
	tracer trace.Tracer = otel.Tracer("genealogy.cache")
	meter  metric.Meter = otel.Meter("genealogy.cache")
)

// Metrics for cache operations.
var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	cachePuts   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the counters. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"trace_cache_hits_total",
			metric.WithDescription("Total number of trace cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"trace_cache_misses_total",
			metric.WithDescription("Total number of trace cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cachePuts, err = meter.Int64Counter(
			"trace_cache_puts_total",
			metric.WithDescription("Total number of traces written to the cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordMiss(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordPut(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cachePuts.Add(ctx, 1)
}
