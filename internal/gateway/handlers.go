package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
)

// --- setup ---

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"first_run": s.cfg.FirstRun,
		"providers": len(s.cfg.Providers),
	})
}

func (s *Server) handleSetupComplete(w http.ResponseWriter, r *http.Request) {
	s.cfg.FirstRun = false
	writeJSON(w, http.StatusOK, map[string]any{"first_run": false})
}

// --- settings ---

// knownEnvKeys are the variables the settings surface manages. Secret values
// (keys ending in _API_KEY or _TOKEN) are masked on read and other values are
// returned as set; this endpoint exists so the dashboard can show what is
// configured, not to exfiltrate secrets.
var knownEnvKeys = []string{
	"JEDISOS_ANTHROPIC_API_KEY",
	"JEDISOS_OPENAI_API_KEY",
	"JEDISOS_TELEGRAM_TOKEN",
	"JEDISOS_DISCORD_TOKEN",
	"JEDISOS_MEMORY_URL",
	"JEDISOS_BANK_ID",
	"JEDISOS_LOG_LEVEL",
}

func (s *Server) handleSettingsEnvGet(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string, len(knownEnvKeys))
	for _, key := range knownEnvKeys {
		v := os.Getenv(key)
		switch {
		case v == "":
			out[key] = ""
		case strings.HasSuffix(key, "_API_KEY") || strings.HasSuffix(key, "_TOKEN"):
			out[key] = mask(v)
		default:
			out[key] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSettingsEnvPut(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	applied := 0
	for key, value := range updates {
		if !strings.HasPrefix(key, "JEDISOS_") {
			continue
		}
		os.Setenv(key, value)
		applied++
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *Server) handleSettingsLLMGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Providers)
}

func (s *Server) handleSettingsLLMPut(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented,
		"provider changes require a config file edit and restart")
}

func (s *Server) handleSettingsSecurity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Security)
}

// --- mcp servers ---

type mcpServerRequest struct {
	Name        string             `json:"name"`
	Endpoint    string             `json:"endpoint"`
	Description string             `json:"description,omitempty"`
	Tools       []mcpToolRequest   `json:"tools"`
}

type mcpToolRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleMCPList(w http.ResponseWriter, r *http.Request) {
	out := []map[string]any{}
	for _, info := range s.manager.Scan() {
		if info.Manifest.Type != packages.TypeMCPServer {
			continue
		}
		toolNames := make([]string, 0, len(info.Manifest.Tools))
		enabled := false
		for _, decl := range info.Manifest.Tools {
			toolNames = append(toolNames, decl.Name)
			if h := s.registry.Get(decl.Name); h != nil && h.Enabled {
				enabled = true
			}
		}
		out = append(out, map[string]any{
			"name":     info.Manifest.Name,
			"endpoint": info.Manifest.Endpoint,
			"tools":    toolNames,
			"enabled":  enabled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMCPAdd registers an external tool server by writing an mcp-server
// package and loading it, so registration survives restarts like any other
// package.
func (s *Server) handleMCPAdd(w http.ResponseWriter, r *http.Request) {
	var req mcpServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Endpoint == "" || len(req.Tools) == 0 {
		writeError(w, http.StatusBadRequest, "name, endpoint, and tools are required")
		return
	}

	manifest := &packages.Manifest{
		Name:        req.Name,
		Version:     "1.0.0",
		Description: req.Description,
		Type:        packages.TypeMCPServer,
		License:     "MIT",
		Author:      "api",
		Endpoint:    req.Endpoint,
	}
	if manifest.Description == "" {
		manifest.Description = "external tool server " + req.Name
	}
	for _, t := range req.Tools {
		manifest.Tools = append(manifest.Tools, packages.ToolDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if findings := manifest.Validate(""); len(findings) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "validation failed",
			"findings": findings,
		})
		return
	}

	stage, err := os.MkdirTemp("", "jedisos-mcp-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.RemoveAll(stage)
	if err := manifest.Write(stage); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	installed, err := s.manager.Install(stage, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	handles, err := s.loader.Load(installed.Dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, h := range handles {
		if err := s.registry.Register(h, true); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name, "tools": len(handles)})
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info := s.manager.Get(name)
	if info == nil || info.Manifest.Type != packages.TypeMCPServer {
		writeError(w, http.StatusNotFound, "no such tool server")
		return
	}
	s.registry.UnregisterSource(name)
	if err := s.manager.Remove(name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (s *Server) handleMCPToggle(w http.ResponseWriter, r *http.Request) {
	s.togglePackageTools(w, r, packages.TypeMCPServer)
}

// --- skills ---

func (s *Server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	out := []map[string]any{}
	for _, h := range s.registry.List() {
		out = append(out, map[string]any{
			"name":        h.Name,
			"description": h.Description,
			"source":      h.Source,
			"enabled":     h.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSkillDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info := s.manager.Get(name)
	if info == nil || info.Manifest.Type != packages.TypeSkill {
		// Not an installed package: maybe a bare registry handle.
		if h := s.registry.Get(name); h != nil && h.Source == "builtin" {
			writeError(w, http.StatusBadRequest, "builtin tools cannot be deleted")
			return
		}
		writeError(w, http.StatusNotFound, "no such skill")
		return
	}
	s.registry.UnregisterSource(name)
	if err := s.manager.Remove(name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (s *Server) handleSkillToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h := s.registry.Get(name)
	if h == nil {
		writeError(w, http.StatusNotFound, "no such tool")
		return
	}
	enabled := !h.Enabled
	s.registry.SetEnabled(name, enabled)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}

func (s *Server) togglePackageTools(w http.ResponseWriter, r *http.Request, pkgType packages.Type) {
	name := r.PathValue("name")
	info := s.manager.Get(name)
	if info == nil || info.Manifest.Type != pkgType {
		writeError(w, http.StatusNotFound, "no such package")
		return
	}
	enabled := false
	for i, decl := range info.Manifest.Tools {
		h := s.registry.Get(decl.Name)
		if h == nil {
			continue
		}
		if i == 0 {
			enabled = !h.Enabled
		}
		s.registry.SetEnabled(decl.Name, enabled)
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}

// --- monitoring ---

func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_sec": int(time.Since(s.started).Seconds()),
		"tools":      len(s.registry.List()),
		"packages":   len(s.manager.Scan()),
	})
}

func (s *Server) handleMonitoringAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auditLog.Last(queryLimit(r)))
}

func (s *Server) handleMonitoringDenied(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auditLog.LastDenied(queryLimit(r)))
}

func (s *Server) handleMonitoringPolicy(w http.ResponseWriter, r *http.Request) {
	p := s.pdp.Policy()
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed_tools":           keys(p.AllowedTools),
		"blocked_tools":           keys(p.BlockedTools),
		"max_requests_per_minute": p.MaxRequestsPerMinute,
	})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return 50
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "…" + v[len(v)-4:]
}
