// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
)

// Environment variables read on top of the YAML file.
const (
	EnvAuthToken = "RESPONSES_AUTH_TOKEN"
	EnvAgentID   = "RESPONSES_AGENT_ID"
	EnvStateDir  = "RESPONSES_STATE_DIR"
)

// DefaultAgentID is used for tokens that do not name an agent.
const DefaultAgentID = "main"

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 20 << 20

// Config represents the main configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Media      MediaConfig      `yaml:"media"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Timeout         time.Duration `yaml:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AuthConfig lists accepted bearer tokens.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig binds a bearer token to an agent.
type TokenConfig struct {
	Token   string `yaml:"token"`
	AgentID string `yaml:"agent_id"`
}

// SessionsConfig selects the session store backend and its retention policy.
type SessionsConfig struct {
	Backend    string        `yaml:"backend"` // "file" (default), "memory", "sqlite", "postgres"
	StateDir   string        `yaml:"state_dir"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	DSN        string        `yaml:"dsn"` // sqlite path or postgres connection string
}

// MediaConfig configures media resolution and the media store.
type MediaConfig struct {
	Store         string        `yaml:"store"` // "filesystem" (default), "memory", "s3"
	BaseDir       string        `yaml:"base_dir"`
	PublicBaseURL string        `yaml:"public_base_url"`
	S3            S3Config      `yaml:"s3"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxBytes      int64         `yaml:"max_bytes"`
	// Retention removes stored media older than this; zero keeps everything.
	Retention time.Duration `yaml:"retention"`
	// MemoryLimit caps the memory store's total content size.
	MemoryLimit int64 `yaml:"memory_limit"`
}

// S3Config contains the S3 media store settings.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// DispatcherConfig selects the agent backend.
type DispatcherConfig struct {
	Type          string        `yaml:"type"` // "openai" or "echo"
	ModelEndpoint string        `yaml:"model_endpoint"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Timeout       time.Duration `yaml:"timeout"`
	HistoryTurns  int           `yaml:"history_turns"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file. Files ending in .json or .jsonc
// are read as JSON with comments and trailing commas allowed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration with environment overrides applied.
func Default() *Config {
	var cfg Config
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(EnvAuthToken); token != "" {
		agent := os.Getenv(EnvAgentID)
		if agent == "" {
			agent = DefaultAgentID
		}
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenConfig{Token: token, AgentID: agent})
	}
	if v := os.Getenv(EnvStateDir); v != "" {
		cfg.Sessions.StateDir = v
	}
	if ms, ok := positiveEnv(state.EnvTTL); ok {
		cfg.Sessions.TTL = time.Duration(ms) * time.Millisecond
	}
	if n, ok := positiveEnv(state.EnvMaxEntries); ok {
		cfg.Sessions.MaxEntries = int(n)
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Dispatcher.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_ENDPOINT"); v != "" {
		cfg.Dispatcher.ModelEndpoint = v
	}
	if v := os.Getenv("MEDIA_PUBLIC_BASE_URL"); v != "" {
		cfg.Media.PublicBaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	for i := range cfg.Auth.Tokens {
		if cfg.Auth.Tokens[i].AgentID == "" {
			cfg.Auth.Tokens[i].AgentID = DefaultAgentID
		}
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "file"
	}
	if cfg.Sessions.StateDir == "" {
		cfg.Sessions.StateDir = defaultStateDir()
	}
	if cfg.Sessions.TTL <= 0 {
		cfg.Sessions.TTL = state.DefaultTTL
	}
	if cfg.Sessions.MaxEntries <= 0 {
		cfg.Sessions.MaxEntries = state.DefaultMaxEntries
	}

	if cfg.Media.Store == "" {
		cfg.Media.Store = "filesystem"
	}
	if cfg.Media.BaseDir == "" {
		cfg.Media.BaseDir = filepath.Join(cfg.Sessions.StateDir, "media")
	}
	if cfg.Media.PublicBaseURL == "" {
		cfg.Media.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	cfg.Media.PublicBaseURL = strings.TrimRight(cfg.Media.PublicBaseURL, "/")
	if cfg.Media.PresignTTL <= 0 {
		cfg.Media.PresignTTL = time.Hour
	}
	if cfg.Media.FetchTimeout <= 0 {
		cfg.Media.FetchTimeout = 10 * time.Second
	}
	if cfg.Media.MaxBytes <= 0 {
		cfg.Media.MaxBytes = 20 << 20
	}

	if cfg.Dispatcher.Type == "" {
		if cfg.Dispatcher.ModelEndpoint != "" || cfg.Dispatcher.APIKey != "" {
			cfg.Dispatcher.Type = "openai"
		} else {
			cfg.Dispatcher.Type = "echo"
		}
	}
	if cfg.Dispatcher.Model == "" {
		cfg.Dispatcher.Model = "gpt-4o-mini"
	}
	if cfg.Dispatcher.Timeout <= 0 {
		cfg.Dispatcher.Timeout = 5 * time.Minute
	}
	if cfg.Dispatcher.HistoryTurns <= 0 {
		cfg.Dispatcher.HistoryTurns = 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".openresponses-bridge")
	}
	return "./state"
}

// Validate checks that the configuration can serve requests.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("no auth tokens configured (set auth.tokens or %s)", EnvAuthToken)
	}
	seen := make(map[string]bool, len(c.Auth.Tokens))
	for i, t := range c.Auth.Tokens {
		if t.Token == "" {
			return fmt.Errorf("auth.tokens[%d]: token cannot be empty", i)
		}
		if seen[t.Token] {
			return fmt.Errorf("auth.tokens[%d]: duplicate token", i)
		}
		seen[t.Token] = true
	}
	switch c.Sessions.Backend {
	case "postgres":
		if c.Sessions.DSN == "" {
			return fmt.Errorf("sessions.dsn is required for the postgres backend")
		}
	case "file", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend)
	}
	if c.Media.Store == "s3" && c.Media.S3.Bucket == "" {
		return fmt.Errorf("media.s3.bucket is required for the s3 store")
	}
	switch c.Dispatcher.Type {
	case "openai", "echo":
	default:
		return fmt.Errorf("unknown dispatcher.type %q", c.Dispatcher.Type)
	}
	return nil
}

// Agents maps each configured token to its agent id.
func (c *Config) Agents() map[string]string {
	out := make(map[string]string, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		out[t.Token] = t.AgentID
	}
	return out
}

// Params renders the session settings as provider parameters.
func (s SessionsConfig) Params() map[string]string {
	return map[string]string{
		"state_dir":   s.StateDir,
		"dsn":         s.DSN,
		"ttl_ms":      strconv.FormatInt(s.TTL.Milliseconds(), 10),
		"max_entries": strconv.Itoa(s.MaxEntries),
	}
}

// Params renders the media store settings as provider parameters.
func (m MediaConfig) Params() map[string]string {
	return map[string]string{
		"base_dir":        m.BaseDir,
		"bucket":          m.S3.Bucket,
		"region":          m.S3.Region,
		"prefix":          m.S3.Prefix,
		"endpoint":        m.S3.Endpoint,
		"max_total_bytes": strconv.FormatInt(m.MemoryLimit, 10),
	}
}

// Params renders the dispatcher settings as provider parameters.
func (d DispatcherConfig) Params() map[string]string {
	return map[string]string{
		"model_endpoint": d.ModelEndpoint,
		"api_key":        d.APIKey,
		"model":          d.Model,
		"system_prompt":  d.SystemPrompt,
		"timeout":        d.Timeout.String(),
		"history_turns":  strconv.Itoa(d.HistoryTurns),
	}
}

func positiveEnv(name string) (int64, bool) {
	v, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
