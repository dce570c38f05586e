package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func handle(name string) *Handle {
	return &Handle{
		Name:    name,
		Enabled: true,
		Invoke: func(ctx context.Context, args map[string]any) (string, error) {
			return name, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(handle("echo"), false); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(handle("echo"), false)
	var dup *ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := r.Register(handle("echo"), true); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(r.List()) != 1 {
		t.Errorf("registry holds %d handles", len(r.List()))
	}
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(handle("a"), false); err != nil {
		t.Fatal(err)
	}
	r.Unregister("a")
	if r.Get("a") != nil {
		t.Error("handle still present after unregister")
	}
	if len(r.List()) != 0 {
		t.Error("registry not empty")
	}
}

func TestSnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	r.Register(handle("a"), false)
	snap := r.Snapshot()
	r.Unregister("a")
	r.Register(handle("b"), false)
	if _, ok := snap["a"]; !ok {
		t.Error("snapshot lost handle a")
	}
	if _, ok := snap["b"]; ok {
		t.Error("snapshot gained handle b after the fact")
	}
}

func TestSchemasOmitDisabled(t *testing.T) {
	r := NewRegistry()
	r.Register(handle("on"), false)
	h := handle("off")
	h.Enabled = false
	r.Register(h, false)

	defs := r.SchemasForLLM()
	if len(defs) != 1 || defs[0].Function.Name != "on" {
		t.Errorf("schemas = %+v", defs)
	}

	// Hot toggle: enabled handle appears on the next listing.
	r.SetEnabled("off", true)
	if len(r.SchemasForLLM()) != 2 {
		t.Error("toggled handle not visible")
	}
}

func TestUnregisterSource(t *testing.T) {
	r := NewRegistry()
	a := handle("a")
	a.Source = "pkg1"
	b := handle("b")
	b.Source = "pkg1"
	c := handle("c")
	c.Source = "pkg2"
	r.Register(a, false)
	r.Register(b, false)
	r.Register(c, false)

	if n := r.UnregisterSource("pkg1"); n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if r.Get("c") == nil {
		t.Error("pkg2 handle removed")
	}
}

func TestValidateArgs(t *testing.T) {
	h := &Handle{
		Name: "current_time",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"city"},
		},
	}

	if err := ValidateArgs(h, map[string]any{"city": "Tokyo"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := ValidateArgs(h, map[string]any{}); err == nil {
		t.Error("missing required arg accepted")
	} else if !strings.Contains(err.Error(), "current_time") {
		t.Errorf("error does not name the tool: %v", err)
	}
	if err := ValidateArgs(h, map[string]any{"city": 42}); err == nil {
		t.Error("wrong-typed arg accepted")
	}

	// No schema: everything passes.
	if err := ValidateArgs(&Handle{Name: "free"}, map[string]any{"x": 1}); err != nil {
		t.Errorf("schema-less handle rejected args: %v", err)
	}
}

func TestCurrentTimeTool(t *testing.T) {
	h := CurrentTimeHandle()
	out, err := h.Invoke(context.Background(), map[string]any{"city": "Tokyo"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, "+09:00") {
		t.Errorf("tokyo time lacks +09:00 offset: %s", out)
	}
	if _, err := h.Invoke(context.Background(), map[string]any{"city": "Atlantis"}); err == nil {
		t.Error("unknown city accepted")
	}
}
