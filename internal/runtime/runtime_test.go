package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/jedisos/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Tools.Root = filepath.Join(dir, "tools")
	cfg.Tools.WatchPackages = false
	cfg.Audit.Path = filepath.Join(dir, "audit.ndjson")
	cfg.Providers[0].APIKey = "test-key"
	return cfg
}

func TestBuildAssemblesServices(t *testing.T) {
	services, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer services.Close()

	if services.Engine == nil || services.Router == nil || services.PDP == nil {
		t.Fatal("core services missing")
	}
	if services.Forge == nil {
		t.Error("forge enabled by default but not built")
	}

	// Builtins registered and visible to the model.
	names := map[string]bool{}
	for _, h := range services.Registry.List() {
		names[h.Name] = true
	}
	for _, want := range []string{"current_time", "web_fetch", "web_search"} {
		if !names[want] {
			t.Errorf("builtin %s not registered", want)
		}
	}

	// Package root created with the six typed directories.
	for _, dir := range []string{"skills", "mcp-servers", "prompts", "workflows", "identities", "bundles"} {
		if _, err := os.Stat(filepath.Join(services.Manager.Root(), dir)); err != nil {
			t.Errorf("typed dir %s missing: %v", dir, err)
		}
	}
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers[0].Kind = "mystery"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestBuildForgeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Forge.Enabled = false
	services, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer services.Close()
	if services.Forge != nil {
		t.Error("forge built despite being disabled")
	}
}

func TestBuildPostgresSinkRequiresDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Sink = "postgres"
	cfg.Audit.PostgresDSN = ""
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for postgres sink without DSN")
	}
}
