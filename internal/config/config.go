// Package config handles Cornerbot configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // report timestamps use IANA zones even on bare containers

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/cornerbot/config.yaml, /etc/cornerbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cornerbot", "config.yaml"))
	}

	paths = append(paths, "/etc/cornerbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Cornerbot configuration. It is built once at process
// entry and handed down explicitly; nothing below cmd/ reads the
// environment on its own.
type Config struct {
	Telegram  TelegramConfig `yaml:"telegram"`
	Stats     StatsConfig    `yaml:"stats"`
	Render    RenderConfig   `yaml:"render"`
	Browser   BrowserConfig  `yaml:"browser"`
	Search    SearchConfig   `yaml:"search"`
	Backoff   BackoffConfig  `yaml:"backoff"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Site      SiteConfig     `yaml:"site"`
	Timezone  string         `yaml:"timezone"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// TelegramConfig defines the Bot API connection and the single chat
// the bot talks to. Updates from any other chat are dropped.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
	BaseURL string `yaml:"base_url"` // default https://api.telegram.org
	// PollTimeoutSec is the long-poll timeout passed to getUpdates.
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// SkipGreeting suppresses the "online" message sent at startup.
	SkipGreeting bool `yaml:"skip_greeting"`
	// CursorPath, if set, persists the update cursor in a SQLite
	// database so a restart does not re-deliver handled updates that
	// Telegram has not yet discarded.
	CursorPath string `yaml:"cursor_path"`
}

// Configured reports whether a token and chat are set.
func (c TelegramConfig) Configured() bool {
	return c.Token != "" && c.ChatID != 0
}

// PollTimeout returns the long-poll timeout as a duration.
func (c TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSec) * time.Second
}

// StatsConfig selects and configures the referee statistics backend.
type StatsConfig struct {
	Backend  string         `yaml:"backend"` // supabase or sqlite
	Supabase SupabaseConfig `yaml:"supabase"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// SupabaseConfig defines the PostgREST endpoint of a hosted Supabase project.
type SupabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Table string `yaml:"table"`
}

// Configured reports whether a Supabase URL and key are set.
func (c SupabaseConfig) Configured() bool {
	return c.URL != "" && c.Key != ""
}

// SQLiteConfig points at a local referee_stats database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RenderConfig chooses how match pages become markup.
type RenderConfig struct {
	// Mode is "browser" (headless Chrome over DevTools) or "http"
	// (plain fetch, no client-side rendering).
	Mode     string `yaml:"mode"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// BrowserConfig defines the headless Chrome DevTools endpoint and the
// fixed settle delays used while pages render.
type BrowserConfig struct {
	DevToolsURL     string `yaml:"devtools_url"`
	PageSettleMS    int    `yaml:"page_settle_ms"`
	ScrollSettleMS  int    `yaml:"scroll_settle_ms"`
	HomeSettleMS    int    `yaml:"home_settle_ms"`
	OpenSearchMS    int    `yaml:"open_search_ms"`
	SearchSettleMS  int    `yaml:"search_settle_ms"`
	CommandTimeoutS int    `yaml:"command_timeout_sec"`
}

// SearchConfig selects the fallback search provider used when a user
// message carries no match link.
type SearchConfig struct {
	Provider string        `yaml:"provider"` // browser, searxng or brave
	SearXNG  SearXNGConfig `yaml:"searxng"`
	Brave    BraveConfig   `yaml:"brave"`
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"` // default: Brave's public web search endpoint
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}

// BackoffConfig is the capped exponential delay applied after a failed
// poll of the chat platform.
type BackoffConfig struct {
	InitialMS  int     `yaml:"initial_ms"`
	MaxMS      int     `yaml:"max_ms"`
	Multiplier float64 `yaml:"multiplier"`
}

// MetricsConfig defines the optional Prometheus listener and how often
// collaborators are checked for /healthz.
type MetricsConfig struct {
	Listen        string `yaml:"listen"` // e.g. ":9310"; empty disables
	HealthPollSec int    `yaml:"health_poll_sec"`
}

// HealthPoll returns the collaborator check interval.
func (c MetricsConfig) HealthPoll() time.Duration {
	return time.Duration(c.HealthPollSec) * time.Second
}

// MQTTConfig defines the optional broker that receives a copy of every
// report the bot sends.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
	// DiscoveryPrefix is the Home Assistant discovery prefix. "-"
	// disables discovery.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// SiteConfig describes the sports site the bot scrapes.
type SiteConfig struct {
	HomeURL string `yaml:"home_url"`
}

// Load reads configuration from a YAML file, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = 25
	}
	if c.Stats.Backend == "" {
		c.Stats.Backend = "supabase"
	}
	if c.Stats.Supabase.Table == "" {
		c.Stats.Supabase.Table = "referee_stats"
	}
	if c.Stats.SQLite.Path == "" {
		c.Stats.SQLite.Path = "referee_stats.db"
	}
	if c.Render.Mode == "" {
		c.Render.Mode = "browser"
	}
	if c.Render.MaxBytes <= 0 {
		c.Render.MaxBytes = 8 * 1024 * 1024
	}
	if c.Browser.DevToolsURL == "" {
		c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	}
	if c.Browser.PageSettleMS <= 0 {
		c.Browser.PageSettleMS = 4000
	}
	if c.Browser.ScrollSettleMS <= 0 {
		c.Browser.ScrollSettleMS = 2500
	}
	if c.Browser.HomeSettleMS <= 0 {
		c.Browser.HomeSettleMS = 3000
	}
	if c.Browser.OpenSearchMS <= 0 {
		c.Browser.OpenSearchMS = 1500
	}
	if c.Browser.SearchSettleMS <= 0 {
		c.Browser.SearchSettleMS = 2500
	}
	if c.Browser.CommandTimeoutS <= 0 {
		c.Browser.CommandTimeoutS = 30
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "browser"
	}
	if c.Backoff.InitialMS <= 0 {
		c.Backoff.InitialMS = 2000
	}
	if c.Backoff.MaxMS <= 0 {
		c.Backoff.MaxMS = 60000
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = 2.0
	}
	if c.Metrics.HealthPollSec <= 0 {
		c.Metrics.HealthPollSec = 60
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "cornerbot"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Stockholm"
	}
	if c.Site.HomeURL == "" {
		c.Site.HomeURL = "https://www.sofascore.com/"
	}
}

// Validate checks the configuration for values that would only fail
// later at runtime. Telegram credentials are checked separately by
// [Config.ValidateServe] because one-shot commands do not need them.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}

	switch c.Stats.Backend {
	case "supabase":
		if !c.Stats.Supabase.Configured() {
			errs = append(errs, errors.New("stats.supabase.url and stats.supabase.key are required for the supabase backend"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("stats.backend %q (valid: supabase, sqlite)", c.Stats.Backend))
	}

	switch c.Render.Mode {
	case "browser", "http":
	default:
		errs = append(errs, fmt.Errorf("render.mode %q (valid: browser, http)", c.Render.Mode))
	}

	switch c.Search.Provider {
	case "browser":
	case "searxng":
		if !c.Search.SearXNG.Configured() {
			errs = append(errs, errors.New("search.searxng.url is required for the searxng provider"))
		}
	case "brave":
		if !c.Search.Brave.Configured() {
			errs = append(errs, errors.New("search.brave.api_key is required for the brave provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("search.provider %q (valid: browser, searxng, brave)", c.Search.Provider))
	}

	if c.Backoff.MaxMS < c.Backoff.InitialMS {
		errs = append(errs, fmt.Errorf("backoff.max_ms (%d) must not be below backoff.initial_ms (%d)", c.Backoff.MaxMS, c.Backoff.InitialMS))
	}
	if c.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff.multiplier %v must be at least 1", c.Backoff.Multiplier))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}

	return errors.Join(errs...)
}

// ValidateServe checks the settings only the long-running bot needs.
func (c *Config) ValidateServe() error {
	if !c.Telegram.Configured() {
		return errors.New("telegram.token and telegram.chat_id are required to serve")
	}
	return nil
}

// Location returns the configured report time zone. Validate has
// already proven it loads; UTC is the fallback for unvalidated configs.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
