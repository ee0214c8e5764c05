// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAuthToken, EnvAgentID, EnvStateDir, state.EnvTTL, state.EnvMaxEntries,
		"OPENAI_API_KEY", "OPENAI_API_ENDPOINT", "MEDIA_PUBLIC_BASE_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
  max_body_bytes: 1024
auth:
  tokens:
    - token: secret
      agent_id: ops
    - token: other
sessions:
  backend: sqlite
  state_dir: /var/lib/bridge
  ttl: 1h
  max_entries: 10
media:
  public_base_url: https://bridge.example.com/
dispatcher:
  type: openai
  model: llama
  history_turns: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.MaxBodyBytes != 1024 {
		t.Errorf("server = %+v", cfg.Server)
	}
	agents := cfg.Agents()
	if agents["secret"] != "ops" || agents["other"] != DefaultAgentID {
		t.Errorf("agents = %v", agents)
	}
	if cfg.Sessions.Backend != "sqlite" || cfg.Sessions.TTL != time.Hour || cfg.Sessions.MaxEntries != 10 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.Media.BaseDir != filepath.Join("/var/lib/bridge", "media") {
		t.Errorf("media base dir = %q", cfg.Media.BaseDir)
	}
	if cfg.Media.PublicBaseURL != "https://bridge.example.com" {
		t.Errorf("public base url should be trimmed, got %q", cfg.Media.PublicBaseURL)
	}
	if cfg.Dispatcher.Model != "llama" || cfg.Dispatcher.HistoryTurns != 4 {
		t.Errorf("dispatcher = %+v", cfg.Dispatcher)
	}
}

func TestLoad_JSONC(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	body := `{
  // local development
  "server": {"port": 9191},
  "auth": {"tokens": [{"token": "dev", "agent_id": "ops"},]},
  "sessions": {"backend": "memory", "ttl": "90s"},
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9191 || cfg.Sessions.Backend != "memory" || cfg.Sessions.TTL != 90*time.Second {
		t.Errorf("cfg = %+v %+v", cfg.Server, cfg.Sessions)
	}
	if cfg.Agents()["dev"] != "ops" {
		t.Errorf("agents = %v", cfg.Agents())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAuthToken, "envtoken")
	t.Setenv(EnvAgentID, "night")
	t.Setenv(EnvStateDir, "/tmp/bridge-state")
	t.Setenv(state.EnvTTL, "60000")
	t.Setenv(state.EnvMaxEntries, "7")

	cfg, err := Load(writeConfig(t, "sessions:\n  ttl: 48h\n  max_entries: 100\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents()["envtoken"] != "night" {
		t.Errorf("env token not applied: %v", cfg.Agents())
	}
	if cfg.Sessions.StateDir != "/tmp/bridge-state" {
		t.Errorf("state dir = %q", cfg.Sessions.StateDir)
	}
	if cfg.Sessions.TTL != time.Minute || cfg.Sessions.MaxEntries != 7 {
		t.Errorf("env retention not applied: %+v", cfg.Sessions)
	}
}

func TestLoad_InvalidEnvRetentionIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAuthToken, "tok")
	t.Setenv(state.EnvTTL, "-1")
	t.Setenv(state.EnvMaxEntries, "many")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions.TTL != state.DefaultTTL || cfg.Sessions.MaxEntries != state.DefaultMaxEntries {
		t.Errorf("expected defaults, got %+v", cfg.Sessions)
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if cfg.Server.Port != 8080 || cfg.Server.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Sessions.Backend != "file" || cfg.Media.Store != "filesystem" {
		t.Errorf("backend defaults = %q %q", cfg.Sessions.Backend, cfg.Media.Store)
	}
	if cfg.Dispatcher.Type != "echo" {
		t.Errorf("dispatcher without endpoint should default to echo, got %q", cfg.Dispatcher.Type)
	}
	if cfg.Media.FetchTimeout != 10*time.Second {
		t.Errorf("fetch timeout = %v", cfg.Media.FetchTimeout)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() *Config {
		cfg := Default()
		cfg.Auth.Tokens = []TokenConfig{{Token: "a", AgentID: "main"}}
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"no tokens", func(c *Config) { c.Auth.Tokens = nil }, "no auth tokens"},
		{"empty token", func(c *Config) { c.Auth.Tokens[0].Token = "" }, "cannot be empty"},
		{"duplicate token", func(c *Config) { c.Auth.Tokens = append(c.Auth.Tokens, c.Auth.Tokens[0]) }, "duplicate"},
		{"postgres without dsn", func(c *Config) { c.Sessions.Backend = "postgres" }, "sessions.dsn"},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "redis" }, "unknown sessions.backend"},
		{"s3 without bucket", func(c *Config) { c.Media.Store = "s3" }, "media.s3.bucket"},
		{"unknown dispatcher", func(c *Config) { c.Dispatcher.Type = "grpc" }, "unknown dispatcher.type"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSessionsParams(t *testing.T) {
	p := SessionsConfig{StateDir: "/s", TTL: 2 * time.Second, MaxEntries: 3}.Params()
	if p["state_dir"] != "/s" || p["ttl_ms"] != "2000" || p["max_entries"] != "3" {
		t.Errorf("params = %v", p)
	}
}
