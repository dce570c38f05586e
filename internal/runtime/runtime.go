// Package runtime assembles the process-wide services from configuration:
// providers, router, registry, policy, audit, memory, forge, engine. There
// are no global singletons; everything is constructed here at startup and
// threaded into handlers explicitly.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/jedisos/internal/agent"
	"github.com/nextlevelbuilder/jedisos/internal/audit"
	"github.com/nextlevelbuilder/jedisos/internal/config"
	"github.com/nextlevelbuilder/jedisos/internal/forge"
	"github.com/nextlevelbuilder/jedisos/internal/identity"
	"github.com/nextlevelbuilder/jedisos/internal/llm"
	"github.com/nextlevelbuilder/jedisos/internal/memory"
	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/policy"
	"github.com/nextlevelbuilder/jedisos/internal/providers"
	"github.com/nextlevelbuilder/jedisos/internal/security"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/internal/skills"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// Services is the assembled runtime.
type Services struct {
	Config   *config.Config
	Router   *llm.Router
	Memory   *memory.Client
	Registry *tools.Registry
	Manager  *packages.Manager
	Loader   *skills.Loader
	PDP      *policy.PDP
	Audit    *audit.Logger
	Hub      *session.Hub
	Engine   *agent.Engine
	Forge    *forge.Forge
	Checker  *security.Checker
}

// Build constructs every service from the config. The caller owns shutdown
// via Close.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	setupLogging(cfg)

	router, err := buildRouter(cfg)
	if err != nil {
		return nil, err
	}

	auditLog, err := buildAudit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	manager, err := packages.NewManager(cfg.Tools.Root)
	if err != nil {
		return nil, fmt.Errorf("package manager: %w", err)
	}

	registry := tools.NewRegistry()
	builtinCfg := tools.BuiltinConfig{
		WebFetchMaxChars: cfg.Tools.WebFetchMaxChars,
		WebSearchResults: cfg.Tools.WebSearchResults,
	}
	if err := tools.RegisterBuiltins(registry, builtinCfg); err != nil {
		return nil, fmt.Errorf("builtin tools: %w", err)
	}

	execRunner := skills.NewExecRunner()
	if cfg.Tools.Interpreter != "" {
		execRunner.Interpreter = cfg.Tools.Interpreter
	}
	loader := skills.NewLoader(
		skills.WithExecRunner(execRunner),
		skills.WithInvokeTimeout(time.Duration(cfg.Tools.InvokeTimeoutSec)*time.Second),
	)
	for _, err := range skills.Sync(manager, loader, registry) {
		slog.Warn("runtime: skill load failed", "error", err)
	}

	pdp := policy.New(policyFromConfig(cfg.Policy), auditLog)

	memClient := memory.NewClient(cfg.Memory.BaseURL,
		memory.WithTimeout(time.Duration(cfg.Memory.TimeoutSec)*time.Second))

	hub := session.NewHub()

	persona := identity.NewLoader(manager, cfg.Agent.Identity, cfg.Agent.IdentityFile)

	engine := agent.New(agent.Config{
		Router:        router,
		Memory:        memClient,
		Persona:       persona.ComposedPersona,
		Registry:      registry,
		PDP:           pdp,
		Audit:         auditLog,
		History:       session.NewHistory(cfg.Agent.HistoryTurns),
		Hub:           hub,
		MaxIterations: cfg.Agent.MaxIterations,
		ToolTimeout:   time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second,
	})

	var checkerOpts []security.Option
	if cfg.Security.Strict {
		checkerOpts = append(checkerOpts, security.WithStrict(true))
	}
	if len(cfg.Security.AllowedImports) > 0 {
		checkerOpts = append(checkerOpts, security.WithAllowedImports(cfg.Security.AllowedImports))
	}
	checker := security.NewChecker(checkerOpts...)

	var forger *forge.Forge
	if cfg.Forge.Enabled {
		forger = forge.New(forge.Config{
			Router:      router,
			Checker:     checker,
			Manager:     manager,
			Loader:      loader,
			Registry:    registry,
			Hub:         hub,
			MaxAttempts: cfg.Forge.MaxAttempts,
			Model:       cfg.Forge.Model,
		})
		engine.SetForge(forger)
	}

	return &Services{
		Config:   cfg,
		Router:   router,
		Memory:   memClient,
		Registry: registry,
		Manager:  manager,
		Loader:   loader,
		PDP:      pdp,
		Audit:    auditLog,
		Hub:      hub,
		Engine:   engine,
		Forge:    forger,
		Checker:  checker,
	}, nil
}

// StartBackground launches the optional long-running helpers: the package
// watcher and the memory consolidator. They stop with ctx.
func (s *Services) StartBackground(ctx context.Context) {
	if s.Config.Tools.WatchPackages {
		watcher := packages.NewWatcher(s.Manager, func() {
			for _, err := range skills.Sync(s.Manager, s.Loader, s.Registry) {
				slog.Warn("runtime: skill reload failed", "error", err)
			}
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Warn("runtime: package watcher stopped", "error", err)
			}
		}()
	}

	if schedule := s.Config.Memory.ConsolidateSchedule; schedule != "" {
		consolidator := memory.NewConsolidator(s.Memory, schedule)
		// Track banks as requests flow: the engine derives bank ids from
		// envelopes; here we track the configured default at minimum.
		if s.Config.Memory.DefaultBank != "" {
			consolidator.Track(s.Config.Memory.DefaultBank)
		}
		go consolidator.Run(ctx)
	}
}

// Close flushes and releases everything.
func (s *Services) Close() error {
	return s.Audit.Close()
}

func setupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}

func buildRouter(cfg *config.Config) (*llm.Router, error) {
	var candidates []llm.Candidate
	for _, pc := range cfg.Providers {
		var p providers.Provider
		switch pc.Kind {
		case "anthropic":
			var opts []providers.AnthropicOption
			if pc.Model != "" {
				opts = append(opts, providers.WithAnthropicModel(pc.Model))
			}
			if pc.BaseURL != "" {
				opts = append(opts, providers.WithAnthropicBaseURL(pc.BaseURL))
			}
			p = providers.NewAnthropicProvider(pc.APIKey, opts...)
		case "openai":
			name := pc.Name
			if name == "" {
				name = "openai"
			}
			p = providers.NewOpenAIProvider(name, pc.APIKey, pc.BaseURL, pc.Model)
		default:
			return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
		}
		candidates = append(candidates, llm.Candidate{
			Provider:    p,
			Model:       pc.Model,
			Timeout:     pc.Timeout(),
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	router := llm.NewRouter(candidates)
	router.LoadDefaultPricing()
	router.OnCost(func(rec llm.CostRecord) {
		slog.Debug("llm: call accounted",
			"provider", rec.Provider, "model", rec.Model,
			"tokens_in", rec.TokensIn, "tokens_out", rec.TokensOut,
			"cost_usd", rec.Cost,
			"duration", rec.Duration.Round(time.Millisecond))
	})
	return router, nil
}

func buildAudit(ctx context.Context, cfg *config.Config) (*audit.Logger, error) {
	var sink audit.Sink
	var err error
	switch cfg.Audit.Sink {
	case "", "file":
		path := cfg.Audit.Path
		if path == "" {
			path = "audit.ndjson"
		}
		sink, err = audit.NewFileSink(path)
	case "sqlite":
		path := cfg.Audit.Path
		if path == "" {
			path = "audit.db"
		}
		sink, err = audit.NewSQLiteSink(path)
	case "postgres":
		if cfg.Audit.PostgresDSN == "" {
			return nil, fmt.Errorf("audit sink postgres requires JEDISOS_AUDIT_POSTGRES_DSN")
		}
		sink, err = audit.NewPGSink(ctx, cfg.Audit.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	return audit.NewLogger(sink), nil
}

func policyFromConfig(pc config.PolicyConfig) policy.Policy {
	p := policy.Policy{
		AllowedTools:         toSet(pc.AllowedTools),
		BlockedTools:         toSet(pc.BlockedTools),
		MaxRequestsPerMinute: pc.MaxRequestsPerMinute,
	}
	if len(pc.ChannelRules) > 0 {
		p.ChannelRules = make(map[string]policy.ChannelRule, len(pc.ChannelRules))
		for ch, rule := range pc.ChannelRules {
			p.ChannelRules[ch] = policy.ChannelRule{MaxRequestsPerMinute: rule.MaxRequestsPerMinute}
		}
	}
	return p
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}
