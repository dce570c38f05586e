package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// Loader builds tool handles from installed skill and mcp-server packages.
// Loading does not register: the caller (package manager sync, forge) decides
// when handles become visible.
type Loader struct {
	execRunner Runner
	httpRunner Runner
	timeout    time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithExecRunner substitutes the subprocess runner (tests use a fake).
func WithExecRunner(r Runner) LoaderOption {
	return func(l *Loader) { l.execRunner = r }
}

// WithHTTPRunner substitutes the tool-server runner.
func WithHTTPRunner(r Runner) LoaderOption {
	return func(l *Loader) { l.httpRunner = r }
}

// WithInvokeTimeout sets the per-call timeout baked into loaded handles.
func WithInvokeTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// NewLoader creates a loader with the default runners.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		execRunner: NewExecRunner(),
		httpRunner: NewHTTPRunner(),
		timeout:    defaultInvokeTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads one package directory and returns a handle per declared tool.
// Skill packages route through the exec runner against the entrypoint
// artifact; mcp-server packages route through the http runner against the
// declared endpoint. Other package types produce no handles.
func (l *Loader) Load(dir string) ([]*tools.Handle, error) {
	manifest, err := packages.ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	switch manifest.Type {
	case packages.TypeSkill:
		return l.loadSkill(dir, manifest)
	case packages.TypeMCPServer:
		return l.loadServer(manifest)
	default:
		return nil, nil
	}
}

func (l *Loader) loadSkill(dir string, manifest *packages.Manifest) ([]*tools.Handle, error) {
	entrypoint := filepath.Join(dir, manifest.Entrypoint)
	if _, err := os.Stat(entrypoint); err != nil {
		return nil, fmt.Errorf("skill %s: entrypoint missing: %w", manifest.Name, err)
	}

	env, err := collectEnv(manifest.Env)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", manifest.Name, err)
	}

	var handles []*tools.Handle
	for _, decl := range manifest.Tools {
		decl := decl
		handles = append(handles, &tools.Handle{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  decl.Parameters,
			Source:      manifest.Name,
			Enabled:     true,
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return l.execRunner.Invoke(ctx, InvokeRequest{
					Entrypoint: entrypoint,
					Tool:       decl.Name,
					Arguments:  args,
					Env:        env,
					Timeout:    l.timeout,
				})
			},
		})
	}
	return handles, nil
}

func (l *Loader) loadServer(manifest *packages.Manifest) ([]*tools.Handle, error) {
	var handles []*tools.Handle
	for _, decl := range manifest.Tools {
		decl := decl
		handles = append(handles, &tools.Handle{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  decl.Parameters,
			Source:      manifest.Name,
			Enabled:     true,
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return l.httpRunner.Invoke(ctx, InvokeRequest{
					Entrypoint: manifest.Endpoint,
					Tool:       decl.Name,
					Arguments:  args,
					Timeout:    l.timeout,
				})
			},
		})
	}
	return handles, nil
}

// collectEnv resolves the manifest's required environment variables from the
// process environment. A missing variable fails the load so the operator
// hears about it at install time, not mid-conversation.
func collectEnv(names []string) ([]string, error) {
	var env []string
	for _, name := range names {
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil, fmt.Errorf("required environment variable %s is not set", name)
		}
		env = append(env, name+"="+v)
	}
	return env, nil
}

// Sync loads every skill and mcp-server package under the manager's root and
// registers the handles, replacing stale ones. Packages that fail to load are
// skipped; the error list reports them.
func Sync(manager *packages.Manager, loader *Loader, registry *tools.Registry) []error {
	var errs []error
	for _, info := range manager.Scan() {
		if info.Manifest.Type != packages.TypeSkill && info.Manifest.Type != packages.TypeMCPServer {
			continue
		}
		handles, err := loader.Load(info.Dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", info.Manifest.Name, err))
			continue
		}
		registry.UnregisterSource(info.Manifest.Name)
		for _, h := range handles {
			if err := registry.Register(h, true); err != nil {
				errs = append(errs, fmt.Errorf("register %s: %w", h.Name, err))
			}
		}
	}
	return errs
}
