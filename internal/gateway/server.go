// Package gateway serves the web API: health, setup, settings, skill and
// tool-server management, monitoring, and the chat WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/jedisos/internal/agent"
	"github.com/nextlevelbuilder/jedisos/internal/audit"
	"github.com/nextlevelbuilder/jedisos/internal/config"
	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/policy"
	"github.com/nextlevelbuilder/jedisos/internal/skills"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
	"github.com/nextlevelbuilder/jedisos/pkg/protocol"
)

// Server is the HTTP/WebSocket front of the engine.
type Server struct {
	cfg      *config.Config
	engine   *agent.Engine
	pdp      *policy.PDP
	auditLog *audit.Logger
	registry *tools.Registry
	manager  *packages.Manager
	loader   *skills.Loader

	started time.Time

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer assembles the gateway.
func NewServer(cfg *config.Config, engine *agent.Engine, pdp *policy.PDP, auditLog *audit.Logger, manager *packages.Manager, loader *skills.Loader) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		pdp:      pdp,
		auditLog: auditLog,
		registry: engine.Registry(),
		manager:  manager,
		loader:   loader,
		started:  time.Now(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/setup/status", s.limited(s.handleSetupStatus))
	mux.HandleFunc("POST /api/setup/complete", s.limited(s.handleSetupComplete))

	mux.HandleFunc("GET /api/settings/env", s.limited(s.handleSettingsEnvGet))
	mux.HandleFunc("PUT /api/settings/env", s.limited(s.handleSettingsEnvPut))
	mux.HandleFunc("GET /api/settings/llm", s.limited(s.handleSettingsLLMGet))
	mux.HandleFunc("PUT /api/settings/llm", s.limited(s.handleSettingsLLMPut))
	mux.HandleFunc("GET /api/settings/security", s.limited(s.handleSettingsSecurity))

	mux.HandleFunc("GET /api/mcp/servers", s.limited(s.handleMCPList))
	mux.HandleFunc("POST /api/mcp/servers", s.limited(s.handleMCPAdd))
	mux.HandleFunc("DELETE /api/mcp/servers/{name}", s.limited(s.handleMCPDelete))
	mux.HandleFunc("PUT /api/mcp/servers/{name}/toggle", s.limited(s.handleMCPToggle))

	mux.HandleFunc("GET /api/skills", s.limited(s.handleSkillsList))
	mux.HandleFunc("DELETE /api/skills/{name}", s.limited(s.handleSkillDelete))
	mux.HandleFunc("PUT /api/skills/{name}/toggle", s.limited(s.handleSkillToggle))

	mux.HandleFunc("GET /api/monitoring/status", s.limited(s.handleMonitoringStatus))
	mux.HandleFunc("GET /api/monitoring/audit", s.limited(s.handleMonitoringAudit))
	mux.HandleFunc("GET /api/monitoring/audit/denied", s.limited(s.handleMonitoringDenied))
	mux.HandleFunc("GET /api/monitoring/policy", s.limited(s.handleMonitoringPolicy))

	mux.HandleFunc("/api/chat/ws", s.handleChatWS)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := s.cfg.Gateway.Addr()
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	})
}

// limited wraps a handler with the per-client token bucket.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Gateway.RateLimitRPS <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(clientKey(r)) {
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) allow(key string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.Gateway.RateLimitRPS), int(s.cfg.Gateway.RateLimitRPS)+1)
		// Bound tracked clients so rotating addresses cannot grow the map
		// without limit.
		if len(s.limiters) > 4096 {
			s.limiters = make(map[string]*rate.Limiter)
		}
		s.limiters[key] = lim
	}
	return lim.Allow()
}

func clientKey(r *http.Request) string {
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
