package skills

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// fakeRunner records invocations and returns a scripted result.
type fakeRunner struct {
	lastReq InvokeRequest
	result  string
	err     error
}

func (f *fakeRunner) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	f.lastReq = req
	return f.result, f.err
}

func writeSkillPackage(t *testing.T, name string, toolDecls []packages.ToolDecl) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := &packages.Manifest{
		Name:        name,
		Version:     "0.1.0",
		Description: "test skill",
		Type:        packages.TypeSkill,
		License:     "MIT",
		Author:      "tester",
		Entrypoint:  "skill.py",
		Tools:       toolDecls,
	}
	if err := m.Write(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.py"), []byte("# artifact\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadBuildsHandlePerTool(t *testing.T) {
	dir := writeSkillPackage(t, "weather", []packages.ToolDecl{
		{Name: "weather", Description: "current weather"},
		{Name: "forecast", Description: "3-day forecast"},
	})

	runner := &fakeRunner{result: "sunny"}
	loader := NewLoader(WithExecRunner(runner))

	handles, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("handles = %d, want 2", len(handles))
	}

	out, err := handles[0].Invoke(context.Background(), map[string]any{"city": "Seoul"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "sunny" {
		t.Errorf("result = %q", out)
	}
	if runner.lastReq.Tool != "weather" {
		t.Errorf("runner got tool %q", runner.lastReq.Tool)
	}
	if runner.lastReq.Arguments["city"] != "Seoul" {
		t.Errorf("runner got args %v", runner.lastReq.Arguments)
	}
	if filepath.Base(runner.lastReq.Entrypoint) != "skill.py" {
		t.Errorf("runner got entrypoint %q", runner.lastReq.Entrypoint)
	}
}

func TestLoadFailsOnMissingEntrypoint(t *testing.T) {
	dir := writeSkillPackage(t, "broken", []packages.ToolDecl{{Name: "broken"}})
	os.Remove(filepath.Join(dir, "skill.py"))

	if _, err := NewLoader(WithExecRunner(&fakeRunner{})).Load(dir); err == nil {
		t.Fatal("expected load error")
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	dir := writeSkillPackage(t, "needsenv", []packages.ToolDecl{{Name: "needsenv"}})
	m, _ := packages.ReadManifest(dir)
	m.Env = []string{"JEDISOS_TEST_UNSET_VAR_12345"}
	m.Write(dir)

	if _, err := NewLoader(WithExecRunner(&fakeRunner{})).Load(dir); err == nil {
		t.Fatal("expected missing-env error")
	}
}

func TestSyncRegistersAndReplaces(t *testing.T) {
	manager, err := packages.NewManager(filepath.Join(t.TempDir(), "tools"))
	if err != nil {
		t.Fatal(err)
	}
	src := writeSkillPackage(t, "weather", []packages.ToolDecl{{Name: "weather"}})
	if _, err := manager.Install(src, false); err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry()
	loader := NewLoader(WithExecRunner(&fakeRunner{result: "ok"}))

	if errs := Sync(manager, loader, registry); len(errs) != 0 {
		t.Fatalf("sync errors: %v", errs)
	}
	if registry.Get("weather") == nil {
		t.Fatal("weather not registered after sync")
	}

	// Second sync is idempotent: same handle set, no duplicate errors.
	if errs := Sync(manager, loader, registry); len(errs) != 0 {
		t.Fatalf("re-sync errors: %v", errs)
	}
	if len(registry.List()) != 1 {
		t.Errorf("registry holds %d handles", len(registry.List()))
	}
}

func TestHTTPRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/lookup" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("found it"))
	}))
	defer srv.Close()

	out, err := NewHTTPRunner().Invoke(context.Background(), InvokeRequest{
		Entrypoint: srv.URL,
		Tool:       "lookup",
		Arguments:  map[string]any{"q": "x"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "found it" {
		t.Errorf("out = %q", out)
	}
}

func TestHTTPRunnerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such tool", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPRunner().Invoke(context.Background(), InvokeRequest{Entrypoint: srv.URL, Tool: "ghost"})
	if err == nil {
		t.Fatal("expected error")
	}
}
