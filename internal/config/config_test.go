package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
stats:
  backend: sqlite
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("Telegram.BaseURL = %q", cfg.Telegram.BaseURL)
	}
	if cfg.Telegram.PollTimeoutSec != 25 {
		t.Errorf("Telegram.PollTimeoutSec = %d, want 25", cfg.Telegram.PollTimeoutSec)
	}
	if cfg.Render.Mode != "browser" {
		t.Errorf("Render.Mode = %q, want browser", cfg.Render.Mode)
	}
	if cfg.Browser.PageSettleMS != 4000 || cfg.Browser.ScrollSettleMS != 2500 {
		t.Errorf("settle delays = %d/%d, want 4000/2500", cfg.Browser.PageSettleMS, cfg.Browser.ScrollSettleMS)
	}
	if cfg.Backoff.InitialMS != 2000 || cfg.Backoff.MaxMS != 60000 || cfg.Backoff.Multiplier != 2.0 {
		t.Errorf("backoff = %+v", cfg.Backoff)
	}
	if cfg.Timezone != "Europe/Stockholm" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.Metrics.HealthPoll() != time.Minute {
		t.Errorf("Metrics.HealthPoll() = %v, want 1m", cfg.Metrics.HealthPoll())
	}
	if cfg.Stats.Supabase.Table != "referee_stats" {
		t.Errorf("Supabase.Table = %q", cfg.Stats.Supabase.Table)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CORNERBOT_TEST_TOKEN", "123:abc")
	t.Setenv("CORNERBOT_TEST_KEY", "sbp_secret")

	path := writeConfig(t, `
telegram:
  token: ${CORNERBOT_TEST_TOKEN}
  chat_id: 7650344139
stats:
  backend: supabase
  supabase:
    url: https://example.supabase.co
    key: ${CORNERBOT_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q, want 123:abc", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != 7650344139 {
		t.Errorf("Telegram.ChatID = %d", cfg.Telegram.ChatID)
	}
	if cfg.Stats.Supabase.Key != "sbp_secret" {
		t.Errorf("Supabase.Key = %q", cfg.Stats.Supabase.Key)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sqlite ok", func(c *Config) { c.Stats.Backend = "sqlite" }, ""},
		{"supabase missing key", func(c *Config) { c.Stats.Supabase.URL = "https://x" }, "stats.supabase.url"},
		{"unknown backend", func(c *Config) { c.Stats.Backend = "mongo" }, "stats.backend"},
		{"unknown render mode", func(c *Config) { c.Stats.Backend = "sqlite"; c.Render.Mode = "lynx" }, "render.mode"},
		{"searxng without url", func(c *Config) { c.Stats.Backend = "sqlite"; c.Search.Provider = "searxng" }, "search.searxng.url"},
		{"brave without key", func(c *Config) { c.Stats.Backend = "sqlite"; c.Search.Provider = "brave" }, "search.brave.api_key"},
		{"bad log level", func(c *Config) { c.Stats.Backend = "sqlite"; c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.Stats.Backend = "sqlite"; c.LogFormat = "xml" }, "log_format"},
		{"backoff inverted", func(c *Config) { c.Stats.Backend = "sqlite"; c.Backoff.MaxMS = 100 }, "backoff.max_ms"},
		{"bad timezone", func(c *Config) { c.Stats.Backend = "sqlite"; c.Timezone = "Mars/Olympus" }, "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe_RequiresTelegram(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("ValidateServe without telegram settings should error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{" trace ", LevelTrace},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected TRACE level name, got %q", buf.String())
	}
}
