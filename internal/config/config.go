// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// rigserve.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.rigserve/config.toml
//   - ~/.rigserve/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigserve configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server  ServerConfig  `toml:"server" json:"server"`
	Model   ModelConfig   `toml:"model" json:"model"`
	Tools   ToolsConfig   `toml:"tools" json:"tools"`
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address. Defaults to loopback only.
	Host string `toml:"host" json:"host"`
	// Port is the listen port.
	Port int `toml:"port" json:"port"`
	// AuthToken enables bearer authentication when non-empty.
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// AllowedIPs restricts clients to these CIDR ranges when non-empty.
	AllowedIPs []string `toml:"allowed_ips" json:"allowed_ips"`
	// RateLimitRPS is the sustained request rate per client. 0 disables.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the burst allowance above the sustained rate.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
	// CORSEnabled adds permissive CORS headers for browser clients.
	CORSEnabled bool `toml:"cors_enabled" json:"cors_enabled"`
	// ReadTimeoutSecs bounds request header reads.
	ReadTimeoutSecs int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	// ShutdownTimeoutSecs bounds graceful shutdown.
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
}

// ModelConfig contains model runtime configuration.
type ModelConfig struct {
	// Backend selects the model runtime. "sim" is the built-in
	// deterministic runtime used when no real backend is wired in.
	Backend string `toml:"backend" json:"backend"`
	// Name is the model name reported by the models endpoint.
	Name string `toml:"name" json:"name"`
	// DefaultTemperature applies when a request leaves temperature unset.
	DefaultTemperature float64 `toml:"default_temperature" json:"default_temperature"`
	// DefaultMaxTokens applies when a request leaves max tokens unset.
	// 0 lets the runtime decide.
	DefaultMaxTokens int `toml:"default_max_tokens" json:"default_max_tokens"`
	// SimChunkDelayMS paces simulated streaming, for demos and tests.
	SimChunkDelayMS int `toml:"sim_chunk_delay_ms" json:"sim_chunk_delay_ms"`
}

// ToolsConfig contains tool execution configuration.
type ToolsConfig struct {
	// EnableBuiltins registers the built-in clock and calculator tools.
	EnableBuiltins bool `toml:"enable_builtins" json:"enable_builtins"`
	// ExecTimeoutSecs bounds a single local tool handler call.
	ExecTimeoutSecs int `toml:"exec_timeout_secs" json:"exec_timeout_secs"`
	// ResultWaitSecs bounds how long a generation waits for an external
	// tool result before substituting an empty one.
	ResultWaitSecs int `toml:"result_wait_secs" json:"result_wait_secs"`
}

// StorageConfig contains conversation persistence configuration.
type StorageConfig struct {
	// Enabled turns conversation persistence on.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path. Empty uses the default under the
	// config directory.
	Path string `toml:"path" json:"path"`
	// HistoryLimit caps stored conversations. 0 is unlimited.
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8433,
			RateLimitRPS:        10,
			RateLimitBurst:      20,
			CORSEnabled:         false,
			ReadTimeoutSecs:     30,
			ShutdownTimeoutSecs: 10,
		},

		Model: ModelConfig{
			Backend:            "sim",
			Name:               "rigserve-on-device",
			DefaultTemperature: 0,
			DefaultMaxTokens:   0,
		},

		Tools: ToolsConfig{
			EnableBuiltins:  true,
			ExecTimeoutSecs: 10,
			ResultWaitSecs:  10,
		},

		Storage: StorageConfig{
			Enabled:      true,
			Path:         "",
			HistoryLimit: 1000,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigserve configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigserve"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 since they may hold the auth token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. JSON files are detected by extension; everything else is
// treated as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# rigserve configuration file")
	fmt.Fprintln(file, "# Generated by rigserve - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}

	for _, cidr := range c.Server.AllowedIPs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			// Bare addresses are accepted and treated as /32 (or /128).
			if net.ParseIP(cidr) == nil {
				errs = append(errs, ValidationError{
					Field:   "server.allowed_ips",
					Message: fmt.Sprintf("invalid address or CIDR %q", cidr),
				})
			}
		}
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_rps",
			Message: "must be non-negative",
		})
	}
	if c.Server.RateLimitBurst < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "must be non-negative",
		})
	}

	validBackends := map[string]bool{"sim": true}
	if !validBackends[strings.ToLower(c.Model.Backend)] {
		errs = append(errs, ValidationError{
			Field:   "model.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Model.Backend),
		})
	}

	if c.Model.DefaultTemperature < 0 || c.Model.DefaultTemperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "model.default_temperature",
			Message: fmt.Sprintf("must be 0-2, got %g", c.Model.DefaultTemperature),
		})
	}
	if c.Model.DefaultMaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "model.default_max_tokens",
			Message: "must be non-negative",
		})
	}

	if c.Tools.ExecTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "tools.exec_timeout_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Tools.ExecTimeoutSecs),
		})
	}
	if c.Tools.ResultWaitSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "tools.result_wait_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Tools.ResultWaitSecs),
		})
	}

	if c.Storage.HistoryLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.history_limit",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills any missing or zero-value fields with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = defaults.Server.ReadTimeoutSecs
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = defaults.Server.ShutdownTimeoutSecs
	}
	if c.Model.Backend == "" {
		c.Model.Backend = defaults.Model.Backend
	}
	if c.Model.Name == "" {
		c.Model.Name = defaults.Model.Name
	}
	if c.Tools.ExecTimeoutSecs == 0 {
		c.Tools.ExecTimeoutSecs = defaults.Tools.ExecTimeoutSecs
	}
	if c.Tools.ResultWaitSecs == 0 {
		c.Tools.ResultWaitSecs = defaults.Tools.ResultWaitSecs
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGSERVE_HOST: overrides server.host
//   - RIGSERVE_PORT: overrides server.port
//   - RIGSERVE_AUTH_TOKEN: overrides server.auth_token
//   - RIGSERVE_BACKEND: overrides model.backend
//   - RIGSERVE_MODEL_NAME: overrides model.name
//   - RIGSERVE_DB_PATH: overrides storage.path
//   - RIGSERVE_NO_STORAGE: set to "1" or "true" to disable persistence
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("RIGSERVE_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("RIGSERVE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("RIGSERVE_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if backend := os.Getenv("RIGSERVE_BACKEND"); backend != "" {
		c.Model.Backend = backend
	}
	if name := os.Getenv("RIGSERVE_MODEL_NAME"); name != "" {
		c.Model.Name = name
	}
	if path := os.Getenv("RIGSERVE_DB_PATH"); path != "" {
		c.Storage.Path = path
	}
	if noStorage := os.Getenv("RIGSERVE_NO_STORAGE"); noStorage != "" {
		if noStorage == "1" || strings.ToLower(noStorage) == "true" {
			c.Storage.Enabled = false
		}
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Addr returns the server's host:port bind address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ToolExecTimeout returns the local tool execution timeout.
func (c *Config) ToolExecTimeout() time.Duration {
	return time.Duration(c.Tools.ExecTimeoutSecs) * time.Second
}

// ToolResultWait returns the external tool result wait.
func (c *Config) ToolResultWait() time.Duration {
	return time.Duration(c.Tools.ResultWaitSecs) * time.Second
}

// StoragePath returns the SQLite path, defaulting under the config dir.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// Clone creates a copy of the configuration with its own slices.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedIPs != nil {
		clone.Server.AllowedIPs = make([]string, len(c.Server.AllowedIPs))
		copy(clone.Server.AllowedIPs, c.Server.AllowedIPs)
	}
	return &clone
}

// String returns a redacted representation for debugging. The auth token
// never appears in plaintext in any output that could be logged.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
