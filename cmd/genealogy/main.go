// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command genealogy starts the genealogy graph API server.
//
// The server traces the genealogy of ideas: it streams influence records
// from a text-generation backend, merges them into a deduplicated
// concept graph, and serves the graph plus a live SSE event feed.
//
// Usage:
//
//	go run ./cmd/genealogy
//	go run ./cmd/genealogy -config genealogy.yaml -port 9090
//
// With an OpenAI backend:
//
//	OPENAI_API_KEY=sk-... GENEALOGY_BACKEND_KIND=openai go run ./cmd/genealogy
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/genealogy/health
//
//	# Trace a concept (SSE stream)
//	curl -N -X POST http://localhost:8080/v1/genealogy/trace \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "freedom"}'
//
//	# Visible subgraph
//	curl http://localhost:8080/v1/genealogy/graph | jq
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/GenealogyFOSS/pkg/logging"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/api"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/cache"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/transport"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		port       int
		debug      bool
	)

	root := &cobra.Command{
		Use:   "genealogy",
		Short: "Genealogy graph API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, port, debug)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "genealogy.yaml", "Path to YAML config")
	root.Flags().IntVarP(&port, "port", "p", 0, "Override the configured listen port")
	root.Flags().BoolVar(&debug, "debug", false, "Enable debug mode")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, port int, debug bool) error {
	cfg, err := genealogy.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", port)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "genealogy",
	})
	defer logger.Close()
	slogger := logger.Slog()

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := []genealogy.ServiceOption{
		genealogy.WithLogger(slogger),
		genealogy.WithTraceTimeout(cfg.TraceTimeout),
	}
	if cfg.PaletteSize > 0 {
		opts = append(opts, genealogy.WithStore(
			genealogy.NewGraphStore(genealogy.WithPaletteSize(cfg.PaletteSize))))
	}

	switch cfg.Backend.Kind {
	case genealogy.BackendOpenAI:
		opener, err := transport.NewOpenAIOpener(cfg.Backend.Model)
		if err != nil {
			return fmt.Errorf("configure OpenAI backend: %w", err)
		}
		opts = append(opts, genealogy.WithStreamOpener(opener), genealogy.WithFetcher(opener))
	default:
		opener := transport.NewHTTPOpener(cfg.Backend.BaseURL, cfg.Backend.Model)
		opts = append(opts, genealogy.WithStreamOpener(opener), genealogy.WithFetcher(opener))
	}

	if cfg.Cache.Enabled {
		cacheCfg := cache.DefaultConfig(cfg.Cache.Path)
		if cfg.Cache.TTL > 0 {
			cacheCfg.TTL = cfg.Cache.TTL
		}
		cacheCfg.Logger = slogger
		traceCache, err := cache.Open(cacheCfg)
		if err != nil {
			return fmt.Errorf("open trace cache: %w", err)
		}
		opts = append(opts, genealogy.WithCache(traceCache))
		logger.Info("Trace cache enabled", "path", cfg.Cache.Path)
	}

	svc := genealogy.NewService(opts...)
	defer svc.Close()

	if cfg.SnapshotPath != "" {
		if err := svc.LoadSnapshot(cfg.SnapshotPath); err != nil {
			logger.Warn("Snapshot not restored", "path", cfg.SnapshotPath, "error", err.Error())
		} else {
			nodes, edges, concepts := svc.Store().Counts()
			logger.Info("Graph restored",
				"nodes", nodes, "edges", edges, "concepts", concepts)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	api.RegisterRoutes(v1, api.NewHandlers(svc))

	printBanner(cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down genealogy server")
		if cfg.SnapshotPath != "" {
			if err := svc.SaveSnapshot(cfg.SnapshotPath); err != nil {
				logger.Error("Snapshot not saved", "error", err.Error())
			}
		}
		svc.Close()
		logger.Close()
		os.Exit(0)
	}()

	logger.Info("Starting genealogy server", "address", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

func printBanner(cfg genealogy.ServiceConfig) {
	fmt.Printf(`
  ┌─────────────────────────────────────────────┐
  │        Genealogy Graph API Server           │
  │                                             │
  │  Backend: %-10s  Cache: %-5v           │
  │  Listen:  %-25s         │
  └─────────────────────────────────────────────┘

`, cfg.Backend.Kind, cfg.Cache.Enabled, cfg.ListenAddr)
}
