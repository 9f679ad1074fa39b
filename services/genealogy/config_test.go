// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genealogy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genealogy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

// TestLoadConfig_MissingFileUsesDefaults verifies an absent config file
// is not an error.
func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	defaults := DefaultServiceConfig()
	assert.Equal(t, defaults.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaults.Backend, cfg.Backend)
	assert.Equal(t, defaults.Cache, cfg.Cache)
}

// TestLoadConfig_FileOverridesDefaults verifies YAML values replace
// defaults while unset fields keep them.
func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
backend:
  kind: openai
  model: gpt-4o
trace_timeout: 90s
log_level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, BackendOpenAI, cfg.Backend.Kind)
	assert.Equal(t, "gpt-4o", cfg.Backend.Model)
	assert.Equal(t, 90*time.Second, cfg.TraceTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Cache.Enabled, "untouched default survives")
}

// TestLoadConfig_EnvOverridesFile verifies environment variables win
// over the file.
func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
backend:
  kind: http
  base_url: http://file:5000
`)

	t.Setenv("GENEALOGY_LISTEN_ADDR", ":7070")
	t.Setenv("GENEALOGY_BACKEND_URL", "http://env:5000")
	t.Setenv("GENEALOGY_MODEL", "env-model")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "http://env:5000", cfg.Backend.BaseURL)
	assert.Equal(t, "env-model", cfg.Backend.Model)
}

// TestLoadConfig_MalformedFile verifies parse failures surface.
func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: [not a string\n")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// TestValidate_Rejections verifies configurations the service cannot
// start with.
func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"unknown backend kind", func(c *ServiceConfig) {
			c.Backend.Kind = "carrier-pigeon"
		}},
		{"http without base_url", func(c *ServiceConfig) {
			c.Backend.Kind = BackendHTTP
			c.Backend.BaseURL = ""
		}},
		{"cache enabled without path", func(c *ServiceConfig) {
			c.Cache.Enabled = true
			c.Cache.Path = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestValidate_OpenAIWithoutURL verifies the openai backend does not
// require a base URL.
func TestValidate_OpenAIWithoutURL(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Backend.Kind = BackendOpenAI
	cfg.Backend.BaseURL = ""
	assert.NoError(t, cfg.Validate())
}
