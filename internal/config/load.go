package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:  10,
			ToolTimeoutSec: 60,
			HistoryTurns:   20,
		},
		Providers: []ProviderConfig{
			{Kind: "anthropic", Model: "claude-sonnet-4-5-20250929", TimeoutSec: 120, MaxTokens: 8192, Temperature: 0.7},
		},
		Memory: MemoryConfig{
			BaseURL:    "http://localhost:8765",
			TimeoutSec: 10,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8710,
			RateLimitRPS: 10,
		},
		Tools: ToolsConfig{
			Root:             "tools",
			Interpreter:      "python3",
			InvokeTimeoutSec: 60,
			WatchPackages:    true,
		},
		Policy: PolicyConfig{
			MaxRequestsPerMinute: 30,
		},
		Audit: AuditConfig{
			Sink: "file",
			Path: "audit.ndjson",
		},
		Forge: ForgeConfig{
			Enabled:     true,
			MaxAttempts: 3,
		},
		FirstRun: true,
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file, then overlays .env and env vars.
// A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	// .env first so overrides see it.
	if err := godotenv.Load(); err == nil {
		slog.Debug("config: loaded .env")
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets only ever come from here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		name := p.Name
		if name == "" {
			name = p.Kind
		}
		envStr("JEDISOS_"+strings.ToUpper(name)+"_API_KEY", &p.APIKey)
	}

	envStr("JEDISOS_MEMORY_URL", &c.Memory.BaseURL)
	envStr("JEDISOS_BANK_ID", &c.Memory.DefaultBank)
	envStr("JEDISOS_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("JEDISOS_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("JEDISOS_AUDIT_POSTGRES_DSN", &c.Audit.PostgresDSN)
	envStr("JEDISOS_LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("JEDISOS_FIRST_RUN"); v != "" {
		c.FirstRun = v == "1" || strings.EqualFold(v, "true")
	}
}

// validate rejects configurations the runtime cannot start with.
func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	for i, p := range c.Providers {
		switch p.Kind {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("config: providers[%d]: unknown kind %q", i, p.Kind)
		}
	}
	switch c.Audit.Sink {
	case "", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown audit sink %q", c.Audit.Sink)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: invalid gateway port %d", c.Gateway.Port)
	}
	return nil
}

// SlogLevel maps the configured log level to slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
