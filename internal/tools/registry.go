// Package tools holds the in-process tool registry: named callable handles
// the model can invoke with structured arguments. Handles come from builtin
// tools, loaded skill packages, and the forge; registration is hot — a handle
// registered from a running process is visible to the next schema listing.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/jedisos/internal/providers"
)

// InvokeFunc executes a tool call. The returned string is the text fed back
// to the model.
type InvokeFunc func(ctx context.Context, args map[string]any) (string, error)

// Handle is one registry entry.
type Handle struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the arguments object
	Invoke      InvokeFunc
	Source      string // originating package, or "builtin"
	Enabled     bool
}

// ErrDuplicate is returned when registering a name that already exists
// without the replace flag.
type ErrDuplicate struct {
	Name string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// Registry is the name→handle map. Single writer, many readers; readers that
// need a stable view across one agent iteration use Snapshot.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds a handle. A duplicate name fails unless replace is true.
func (r *Registry) Register(h *Handle, replace bool) error {
	if h == nil || h.Name == "" {
		return fmt.Errorf("tool handle requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[h.Name]; exists && !replace {
		return &ErrDuplicate{Name: h.Name}
	}
	r.handles[h.Name] = h
	return nil
}

// Unregister removes a handle by name; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}

// UnregisterSource removes every handle originating from a package.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, h := range r.handles {
		if h.Source == source {
			delete(r.handles, name)
			n++
		}
	}
	return n
}

// Get returns the handle for name, or nil.
func (r *Registry) Get(name string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[name]
}

// SetEnabled toggles a handle. Returns false if the name is unknown.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return false
	}
	h.Enabled = enabled
	return true
}

// List returns all handles sorted by name.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns a point-in-time copy of the enabled handles, keyed by
// name. The agent takes one snapshot per iteration so a mid-iteration
// mutation cannot surprise the model.
func (r *Registry) Snapshot() map[string]*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Handle, len(r.handles))
	for name, h := range r.handles {
		if h.Enabled {
			out[name] = h
		}
	}
	return out
}

// SchemasForLLM renders the enabled handles as provider tool definitions,
// sorted by name for deterministic prompts.
func (r *Registry) SchemasForLLM() []providers.ToolDefinition {
	handles := r.List()
	var defs []providers.ToolDefinition
	for _, h := range handles {
		if !h.Enabled {
			continue
		}
		params := h.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        h.Name,
				Description: h.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}
