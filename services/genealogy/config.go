// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genealogy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds selectable in configuration.
const (
	// BackendHTTP streams from a genealogy backend service over HTTP.
	BackendHTTP = "http"

	// BackendOpenAI generates line records directly from an OpenAI
	// chat model.
	BackendOpenAI = "openai"
)

// ServiceConfig is the YAML-backed configuration for the genealogy
// service.
type ServiceConfig struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// Backend selects and configures the stream producer.
	Backend BackendConfig `yaml:"backend"`

	// Cache configures the completed-trace cache.
	Cache CacheConfig `yaml:"cache"`

	// TraceTimeout bounds a whole trace session. Zero means the
	// engine default.
	TraceTimeout time.Duration `yaml:"trace_timeout"`

	// PaletteSize overrides the concept color palette length. Zero
	// means the engine default.
	PaletteSize int `yaml:"palette_size"`

	// SnapshotPath, when set, is where the graph is persisted on
	// shutdown and restored from on startup.
	SnapshotPath string `yaml:"snapshot_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// BackendConfig selects the stream producer.
type BackendConfig struct {
	// Kind is BackendHTTP or BackendOpenAI.
	Kind string `yaml:"kind"`

	// BaseURL is the backend endpoint for BackendHTTP.
	BaseURL string `yaml:"base_url"`

	// Model is forwarded to the producer. Empty uses its default.
	Model string `yaml:"model"`
}

// CacheConfig configures the completed-trace cache.
type CacheConfig struct {
	// Enabled turns trace caching on.
	Enabled bool `yaml:"enabled"`

	// Path is the BadgerDB directory.
	Path string `yaml:"path"`

	// TTL is how long completed traces stay cached. Zero means the
	// cache default.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: ":8080",
		Backend: BackendConfig{
			Kind:    BackendHTTP,
			BaseURL: "http://localhost:5000/genealogy",
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "./data/trace-cache",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads configuration from a YAML file, then applies
// environment overrides.
//
// Description:
//
//	Missing file is not an error; defaults apply. Recognized
//	environment variables, applied last:
//
//	  GENEALOGY_LISTEN_ADDR  - HTTP bind address
//	  GENEALOGY_BACKEND_KIND - "http" or "openai"
//	  GENEALOGY_BACKEND_URL  - backend base URL
//	  GENEALOGY_MODEL        - model identifier
//	  GENEALOGY_CACHE_PATH   - trace cache directory
//
// Outputs:
//
//	ServiceConfig - The effective configuration.
//	error - Non-nil for unreadable or malformed files.
func LoadConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("GENEALOGY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GENEALOGY_BACKEND_KIND"); v != "" {
		cfg.Backend.Kind = v
	}
	if v := os.Getenv("GENEALOGY_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("GENEALOGY_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("GENEALOGY_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *ServiceConfig) Validate() error {
	switch c.Backend.Kind {
	case BackendHTTP:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend kind %q requires base_url", c.Backend.Kind)
		}
	case BackendOpenAI:
		// API key checked when the producer is constructed.
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache enabled without a path")
	}
	return nil
}
