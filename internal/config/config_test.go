// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// rigserve.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8433", cfg.Addr())
	assert.Equal(t, 10*time.Second, cfg.ToolResultWait())
}

func TestLoadFromPathTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = "2.0.0"

[server]
host = "0.0.0.0"
port = 9000
rate_limit_rps = 5.0

[model]
backend = "sim"
name = "test-model"

[tools]
exec_timeout_secs = 3
`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, "test-model", cfg.Model.Name)
	assert.Equal(t, 3*time.Second, cfg.ToolExecTimeout())
	// Unset fields keep defaults.
	assert.Equal(t, 10, cfg.Tools.ResultWaitSecs)
}

func TestLoadFromPathJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9100},
		"storage": {"enabled": false}
	}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.False(t, cfg.Storage.Enabled)
}

func TestLoadFromPathInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 99999
`), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad cidr", func(c *Config) { c.Server.AllowedIPs = []string{"not-an-ip"} }, "server.allowed_ips"},
		{"negative rps", func(c *Config) { c.Server.RateLimitRPS = -1 }, "server.rate_limit_rps"},
		{"unknown backend", func(c *Config) { c.Model.Backend = "gpu-cluster" }, "model.backend"},
		{"bad temperature", func(c *Config) { c.Model.DefaultTemperature = 3 }, "model.default_temperature"},
		{"zero result wait", func(c *Config) { c.Tools.ResultWaitSecs = 0 }, "tools.result_wait_secs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateAcceptsBareIPs(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedIPs = []string{"10.0.0.1", "192.168.0.0/16", "::1"}
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIGSERVE_HOST", "0.0.0.0")
	t.Setenv("RIGSERVE_PORT", "7777")
	t.Setenv("RIGSERVE_AUTH_TOKEN", "secret-token")
	t.Setenv("RIGSERVE_NO_STORAGE", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "secret-token", cfg.Server.AuthToken)
	assert.False(t, cfg.Storage.Enabled)
}

func TestStringRedactsAuthToken(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "super-secret"

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "[REDACTED]")
	// Redaction happens on a clone, not the live config.
	assert.Equal(t, "super-secret", cfg.Server.AuthToken)
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Server.Port = 9200
	cfg.Model.Name = "round-trip"
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, loaded.Server.Port)
	assert.Equal(t, "round-trip", loaded.Model.Name)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	updated := Default()
	updated.Server.Port = 9300
	require.NoError(t, SaveTOML(updated, path))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9300, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload within deadline")
	}
}

func TestWatcherSkipsInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = -5\n"), 0600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config should not reach the callback, got port %d", cfg.Server.Port)
	case <-time.After(1 * time.Second):
		// Expected: the bad edit was logged and dropped.
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n"), 0600))

	t.Setenv("RIGSERVE_PORT", "9999")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)

	if !strings.HasSuffix(cfg.Addr(), ":9999") {
		t.Errorf("Addr() = %s, want :9999 suffix", cfg.Addr())
	}
}
