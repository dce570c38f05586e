// Package forge generates, validates, and installs new skills on demand.
// One attempt is: ask the router for a structured design, render manifest and
// artifact, write to scratch, run the security checker and package
// validator, and only then install, load and register. Validation failures
// feed the next attempt; the loop is bounded.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/jedisos/internal/llm"
	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/providers"
	"github.com/nextlevelbuilder/jedisos/internal/security"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/internal/skills"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// DefaultMaxAttempts bounds regeneration after validation failure.
const DefaultMaxAttempts = 3

// GeneratedDir is the subdirectory under skills/ receiving forge output.
const GeneratedDir = "generated"

// Forge builds new skills.
type Forge struct {
	router   *llm.Router
	checker  *security.Checker
	manager  *packages.Manager
	loader   *skills.Loader
	registry *tools.Registry
	hub      *session.Hub

	maxAttempts int
	model       string // optional "provider/model" override for design calls
}

// Config assembles a Forge.
type Config struct {
	Router      *llm.Router
	Checker     *security.Checker
	Manager     *packages.Manager
	Loader      *skills.Loader
	Registry    *tools.Registry
	Hub         *session.Hub
	MaxAttempts int
	Model       string
}

// New creates a Forge.
func New(cfg Config) *Forge {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Checker == nil {
		cfg.Checker = security.NewChecker()
	}
	return &Forge{
		router:      cfg.Router,
		checker:     cfg.Checker,
		manager:     cfg.Manager,
		loader:      cfg.Loader,
		registry:    cfg.Registry,
		hub:         cfg.Hub,
		maxAttempts: cfg.MaxAttempts,
		model:       cfg.Model,
	}
}

// Build runs the bounded generate/validate/install cycle and notifies the
// user of the outcome. It is called detached from the triggering request.
func (f *Forge) Build(ctx context.Context, need, userID string) {
	name, err := f.build(ctx, need)
	if err != nil {
		slog.Warn("forge: build failed", "need", need, "user", userID, "error", err)
		f.hub.Notify(userID, "I couldn't build that tool: "+firstLine(err.Error()))
		return
	}
	slog.Info("forge: skill installed", "skill", name, "user", userID)
	f.hub.Notify(userID, fmt.Sprintf("Your new tool %q is ready to use.", name))
}

func (f *Forge) build(ctx context.Context, need string) (string, error) {
	var feedback string
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		slog.Info("forge: attempt", "attempt", attempt, "max", f.maxAttempts)

		design, err := f.design(ctx, need, feedback)
		if err != nil {
			lastErr = err
			feedback = "The previous design could not be parsed: " + err.Error()
			continue
		}

		name, report, err := f.materialize(design)
		if err == nil {
			return name, nil
		}
		lastErr = err
		if report != "" {
			feedback = "The previous attempt failed validation:\n" + report
		} else {
			feedback = "The previous attempt failed: " + err.Error()
		}
	}
	return "", fmt.Errorf("gave up after %d attempts: %w", f.maxAttempts, lastErr)
}

const designPrompt = `Design a new tool (a small Python skill) for this need:

%s
%s
Respond with a single JSON object, no prose, with these fields:
{
  "tool_name": "snake_case name",
  "description": "one sentence",
  "parameters": [{"name": "...", "type": "string|number|integer|boolean", "description": "...", "required": true}],
  "implementation_outline": "short plan",
  "implementation": "the Python function body only (no def line). It may use requests, httpx, json, re, datetime, pathlib, typing, math, pydantic. It must return a string.",
  "env_required": []
}`

// design asks the router for the structured tool design.
func (f *Forge) design(ctx context.Context, need, feedback string) (*ToolDesign, error) {
	extra := ""
	if feedback != "" {
		extra = "\n" + feedback + "\n"
	}
	res, err := f.router.Chat(ctx, llm.Request{
		ModelOverride: f.model,
		Messages: []providers.Message{
			{Role: "system", Content: "You design small, safe, single-purpose tools. Output only JSON."},
			{Role: "user", Content: fmt.Sprintf(designPrompt, need, extra)},
		},
	})
	if err != nil {
		return nil, err
	}

	design, err := parseDesign(res.Response.Content)
	if err != nil {
		return nil, err
	}
	return design, nil
}

// materialize renders, checks, validates, installs and registers one design.
// The returned report carries checker/validator findings for the retry loop.
func (f *Forge) materialize(design *ToolDesign) (string, string, error) {
	code, err := RenderCode(design)
	if err != nil {
		return "", "", err
	}
	manifest := design.Manifest()

	// Security gate first: nothing that fails the checker is ever installed.
	report := f.checker.Check(code, manifest.Name)
	if !report.OK {
		return "", report.Summary(), fmt.Errorf("security checker rejected %s", manifest.Name)
	}

	scratch, err := os.MkdirTemp("", "jedisos-forge-")
	if err != nil {
		return "", "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := manifest.Write(scratch); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(filepath.Join(scratch, manifest.Entrypoint), []byte(code), 0o644); err != nil {
		return "", "", fmt.Errorf("write artifact: %w", err)
	}

	if findings := manifest.Validate(scratch); len(findings) > 0 {
		vErr := &packages.ValidationError{Name: manifest.Name, Findings: findings}
		return "", vErr.Error(), vErr
	}

	// Generated skills live under skills/generated/<name>. Stage the scratch
	// inside the manager's layout by installing into that subtree atomically.
	installed, err := f.installGenerated(scratch, manifest)
	if err != nil {
		return "", "", err
	}

	handles, err := f.loader.Load(installed)
	if err != nil {
		return "", "", fmt.Errorf("load generated skill: %w", err)
	}
	for _, h := range handles {
		if err := f.registry.Register(h, true); err != nil {
			return "", "", fmt.Errorf("register %s: %w", h.Name, err)
		}
	}
	return manifest.Name, "", nil
}

// installGenerated atomically moves the scratch under skills/generated/.
func (f *Forge) installGenerated(scratch string, manifest *packages.Manifest) (string, error) {
	parent := filepath.Join(f.manager.Root(), packages.TypeSkill.Dir(), GeneratedDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create generated dir: %w", err)
	}
	target := filepath.Join(parent, manifest.Name)

	stage, err := os.MkdirTemp(parent, ".forge-"+manifest.Name+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := copyDirContents(scratch, stage); err != nil {
		return "", fmt.Errorf("stage generated skill: %w", err)
	}
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("clear previous generation: %w", err)
	}
	if err := os.Rename(stage, target); err != nil {
		return "", fmt.Errorf("activate generated skill: %w", err)
	}
	return target, nil
}

func copyDirContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, entry.Name()), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// parseDesign extracts the JSON object from the model's reply, tolerating
// fenced code blocks and surrounding prose.
func parseDesign(content string) (*ToolDesign, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in design response")
	}

	var design ToolDesign
	if err := json.Unmarshal([]byte(content[start:end+1]), &design); err != nil {
		return nil, fmt.Errorf("parse design: %w", err)
	}
	if design.ToolName == "" {
		return nil, fmt.Errorf("design missing tool_name")
	}
	if design.Implementation == "" {
		return nil, fmt.Errorf("design missing implementation")
	}
	return &design, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		return s[:idx]
	}
	return s
}
