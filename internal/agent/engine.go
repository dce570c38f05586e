// Package agent drives the request-processing graph: recall → reason →
// (tools → reason)* → retain, with the envelope state machine, policy
// checks, audit, and streaming events.
package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/jedisos/internal/audit"
	"github.com/nextlevelbuilder/jedisos/internal/llm"
	"github.com/nextlevelbuilder/jedisos/internal/memory"
	"github.com/nextlevelbuilder/jedisos/internal/policy"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// DefaultMaxIterations caps tool-dispatch rounds per request.
const DefaultMaxIterations = 10

// CreateToolName is the synthetic tool the model calls to request a new
// skill. Dispatch routes it to the forge instead of the registry.
const CreateToolName = "create_tool"

// Stable error kind tags emitted on terminal failure events.
const (
	KindPolicyDenied = "policy_denied"
	KindLLMError     = "llm_error"
	KindInternal     = "internal_error"
)

// Recaller is the slice of the memory client the engine needs.
type Recaller interface {
	Recall(ctx context.Context, bankID, query string) (*memory.Context, error)
	Retain(ctx context.Context, bankID, content, memCtx string) (*memory.Record, error)
}

// ToolForge builds a new skill for an unmet need. Build runs the full
// generate/validate/install cycle and delivers its outcome through the
// notification hub; the engine calls it detached from the request.
type ToolForge interface {
	Build(ctx context.Context, need, userID string)
}

// PersonaFunc resolves the identity text prepended to prompts.
type PersonaFunc func() string

// Engine is the request-processing core. One Engine serves all channels.
type Engine struct {
	router   *llm.Router
	memory   Recaller
	persona  PersonaFunc
	registry *tools.Registry
	pdp      *policy.PDP
	auditLog *audit.Logger
	history  *session.History
	hub      *session.Hub
	forge    ToolForge

	maxIterations int
	toolTimeout   time.Duration
	tracer        trace.Tracer
}

// Config assembles an Engine. Router, Registry, PDP and Hub are required;
// Memory and Forge are optional collaborators.
type Config struct {
	Router        *llm.Router
	Memory        Recaller
	Persona       PersonaFunc
	Registry      *tools.Registry
	PDP           *policy.PDP
	Audit         *audit.Logger
	History       *session.History
	Hub           *session.Hub
	Forge         ToolForge
	MaxIterations int
	ToolTimeout   time.Duration
}

// New creates an Engine from the config.
func New(cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 60 * time.Second
	}
	if cfg.Persona == nil {
		cfg.Persona = func() string { return "" }
	}
	if cfg.History == nil {
		cfg.History = session.NewHistory(0)
	}
	if cfg.Hub == nil {
		cfg.Hub = session.NewHub()
	}
	return &Engine{
		router:        cfg.Router,
		memory:        cfg.Memory,
		persona:       cfg.Persona,
		registry:      cfg.Registry,
		pdp:           cfg.PDP,
		auditLog:      cfg.Audit,
		history:       cfg.History,
		hub:           cfg.Hub,
		forge:         cfg.Forge,
		maxIterations: cfg.MaxIterations,
		toolTimeout:   cfg.ToolTimeout,
		tracer:        otel.Tracer("jedisos/agent"),
	}
}

// Hub returns the notification hub shared with background producers.
func (e *Engine) Hub() *session.Hub { return e.hub }

// Registry returns the tool registry.
func (e *Engine) Registry() *tools.Registry { return e.registry }

// SetForge wires the forge after construction (the forge itself needs the
// engine's hub and registry, so assembly is two-phase).
func (e *Engine) SetForge(f ToolForge) { e.forge = f }
