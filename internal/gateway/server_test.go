package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/jedisos/internal/agent"
	"github.com/nextlevelbuilder/jedisos/internal/audit"
	"github.com/nextlevelbuilder/jedisos/internal/config"
	"github.com/nextlevelbuilder/jedisos/internal/llm"
	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/policy"
	"github.com/nextlevelbuilder/jedisos/internal/providers"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/internal/skills"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

type staticProvider struct{}

func (staticProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "ok", FinishReason: "stop"}, nil
}

func (p staticProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (staticProvider) DefaultModel() string { return "static" }
func (staticProvider) Name() string         { return "static" }

type echoRunner struct{}

func (echoRunner) Invoke(ctx context.Context, req skills.InvokeRequest) (string, error) {
	return "echo", nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.RateLimitRPS = 0
	cfg.Policy.BlockedTools = []string{"shell_exec"}

	auditLog := audit.NewLogger(nil)
	t.Cleanup(func() { auditLog.Close() })

	manager, err := packages.NewManager(filepath.Join(t.TempDir(), "tools"))
	if err != nil {
		t.Fatal(err)
	}
	registry := tools.NewRegistry()
	registry.Register(&tools.Handle{Name: "current_time", Source: "builtin", Enabled: true,
		Invoke: func(ctx context.Context, args map[string]any) (string, error) { return "now", nil }}, false)

	pdp := policy.New(policy.Policy{BlockedTools: map[string]bool{"shell_exec": true}}, auditLog)
	engine := agent.New(agent.Config{
		Router:   llm.NewRouter([]llm.Candidate{{Provider: staticProvider{}}}),
		Registry: registry,
		PDP:      pdp,
		Audit:    auditLog,
		Hub:      session.NewHub(),
	})

	s := NewServer(cfg, engine, pdp, auditLog, manager, skills.NewLoader(skills.WithExecRunner(echoRunner{}), skills.WithHTTPRunner(echoRunner{})))
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	var body map[string]any
	if code := getJSON(t, ts.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSetupFlow(t *testing.T) {
	_, ts := newTestServer(t)

	var status map[string]any
	getJSON(t, ts.URL+"/api/setup/status", &status)
	if status["first_run"] != true {
		t.Errorf("first_run = %v", status["first_run"])
	}

	resp, err := http.Post(ts.URL+"/api/setup/complete", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	getJSON(t, ts.URL+"/api/setup/status", &status)
	if status["first_run"] != false {
		t.Errorf("first_run after complete = %v", status["first_run"])
	}
}

func TestSkillsListAndToggle(t *testing.T) {
	_, ts := newTestServer(t)

	var skillsList []map[string]any
	getJSON(t, ts.URL+"/api/skills", &skillsList)
	if len(skillsList) != 1 || skillsList[0]["name"] != "current_time" {
		t.Fatalf("skills = %v", skillsList)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/skills/current_time/toggle", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	getJSON(t, ts.URL+"/api/skills", &skillsList)
	if skillsList[0]["enabled"] != false {
		t.Errorf("toggle did not disable: %v", skillsList[0])
	}

	// Unknown skill → 404.
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/skills/ghost/toggle", nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown toggle status = %d", resp.StatusCode)
	}
}

func TestMCPServerLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)

	payload := map[string]any{
		"name":     "lookup-server",
		"endpoint": "http://tools.internal:9000",
		"tools": []map[string]any{
			{"name": "lookup", "description": "looks things up"},
		},
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(ts.URL+"/api/mcp/servers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	if srv.registry.Get("lookup") == nil {
		t.Fatal("tool not registered after add")
	}

	var servers []map[string]any
	getJSON(t, ts.URL+"/api/mcp/servers", &servers)
	if len(servers) != 1 || servers[0]["name"] != "lookup-server" {
		t.Fatalf("servers = %v", servers)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/mcp/servers/lookup-server", nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if srv.registry.Get("lookup") != nil {
		t.Error("tool still registered after delete")
	}
}

func TestMCPAddValidationFailure(t *testing.T) {
	_, ts := newTestServer(t)

	payload := map[string]any{
		"name":     "Bad Name!",
		"endpoint": "http://x",
		"tools":    []map[string]any{{"name": "t"}},
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(ts.URL+"/api/mcp/servers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)

	// Seed some audit records through the PDP.
	srv.pdp.EvaluateTool(policy.Input{UserID: "u1", Channel: "cli", Subject: "shell_exec"})
	srv.pdp.EvaluateTool(policy.Input{UserID: "u1", Channel: "cli", Subject: "current_time"})

	var records []map[string]any
	getJSON(t, ts.URL+"/api/monitoring/audit?limit=10", &records)
	if len(records) != 2 {
		t.Errorf("audit records = %d", len(records))
	}

	var denied []map[string]any
	getJSON(t, ts.URL+"/api/monitoring/audit/denied", &denied)
	if len(denied) != 1 || denied[0]["subject"] != "shell_exec" {
		t.Errorf("denied = %v", denied)
	}

	var pol map[string]any
	getJSON(t, ts.URL+"/api/monitoring/policy", &pol)
	blocked, _ := pol["blocked_tools"].([]any)
	if len(blocked) != 1 || blocked[0] != "shell_exec" {
		t.Errorf("policy = %v", pol)
	}
}
