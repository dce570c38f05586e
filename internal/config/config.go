// Package config holds the runtime configuration: a JSON5 file overlaid with
// environment variables. Secrets (API keys, bot tokens) come from the
// environment only and are never persisted.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the jedisos runtime.
type Config struct {
	Agent     AgentConfig      `json:"agent"`
	Providers []ProviderConfig `json:"providers"`
	Memory    MemoryConfig     `json:"memory"`
	Channels  ChannelsConfig   `json:"channels"`
	Gateway   GatewayConfig    `json:"gateway"`
	Tools     ToolsConfig      `json:"tools"`
	Policy    PolicyConfig     `json:"policy"`
	Audit     AuditConfig      `json:"audit"`
	Security  SecurityConfig   `json:"security"`
	Forge     ForgeConfig      `json:"forge"`
	Telemetry TelemetryConfig  `json:"telemetry,omitempty"`

	// FirstRun gates the setup wizard; cleared by `jedisos init` or
	// POST /api/setup/complete.
	FirstRun bool `json:"first_run"`

	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error
}

// AgentConfig tunes the request-processing loop.
type AgentConfig struct {
	MaxIterations  int    `json:"max_iterations"`
	ToolTimeoutSec int    `json:"tool_timeout_sec"`
	HistoryTurns   int    `json:"history_turns"` // per-conversation turns kept in memory, 0 = unlimited
	Identity       string `json:"identity,omitempty"`      // identity package name
	IdentityFile   string `json:"identity_file,omitempty"` // explicit persona file override
}

// ProviderConfig is one entry in the fallback chain; list order is the
// fallback sequence.
type ProviderConfig struct {
	// Kind selects the adapter: "anthropic" or "openai" (OpenAI-compatible).
	Kind string `json:"kind"`
	// Name distinguishes compatible vendors ("openai", "groq", "openrouter").
	// Defaults to Kind.
	Name        string  `json:"name,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	TimeoutSec  int     `json:"timeout_sec,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// APIKey comes from the environment (JEDISOS_<NAME>_API_KEY), never the file.
	APIKey string `json:"-"`
}

// Timeout returns the per-call timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// MemoryConfig points at the external memory service.
type MemoryConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
	// DefaultBank overrides the {channel}-{user_id} bank derivation.
	DefaultBank string `json:"default_bank,omitempty"`
	// ConsolidateSchedule is a cron expression for periodic reflect;
	// empty disables the consolidator.
	ConsolidateSchedule string `json:"consolidate_schedule,omitempty"`
}

// ChannelsConfig configures the in-tree adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram adapter. Token from env only.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord adapter. Token from env only.
type DiscordConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"-"`
	AllowFrom      []string `json:"allow_from,omitempty"`
	RequireMention *bool    `json:"require_mention,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitRPS bounds per-client API requests (token bucket); 0 disables.
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`
}

// Addr returns the listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// ToolsConfig configures the package root and skill execution.
type ToolsConfig struct {
	Root             string `json:"root"`                  // package root, default "tools"
	Interpreter      string `json:"interpreter,omitempty"` // skill artifact interpreter
	InvokeTimeoutSec int    `json:"invoke_timeout_sec,omitempty"`
	WatchPackages    bool   `json:"watch_packages"`
	WebSearchResults int    `json:"web_search_results,omitempty"`
	WebFetchMaxChars int    `json:"web_fetch_max_chars,omitempty"`
}

// PolicyConfig mirrors the PDP rule set in file form.
type PolicyConfig struct {
	AllowedTools         []string               `json:"allowed_tools,omitempty"`
	BlockedTools         []string               `json:"blocked_tools,omitempty"`
	MaxRequestsPerMinute int                    `json:"max_requests_per_minute,omitempty"`
	ChannelRules         map[string]ChannelRule `json:"channel_rules,omitempty"`
}

// ChannelRule overrides limits for one channel.
type ChannelRule struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute,omitempty"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Sink is "file", "sqlite", or "postgres".
	Sink string `json:"sink"`
	// Path is the file or database path for file/sqlite sinks.
	Path string `json:"path,omitempty"`
	// PostgresDSN comes from env JEDISOS_AUDIT_POSTGRES_DSN only.
	PostgresDSN string `json:"-"`
}

// SecurityConfig tunes the static checker.
type SecurityConfig struct {
	Strict         bool     `json:"strict"`
	AllowedImports []string `json:"allowed_imports,omitempty"`
}

// ForgeConfig tunes skill generation.
type ForgeConfig struct {
	Enabled     bool   `json:"enabled"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Model       string `json:"model,omitempty"` // optional "provider/model" override
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}
