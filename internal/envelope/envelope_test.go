package envelope

import (
	"errors"
	"testing"
)

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		name string
		path []State
		ok   bool
	}{
		{name: "simple reply", path: []State{StateAuthorized, StateProcessing, StateCompleted}, ok: true},
		{name: "tool round trip", path: []State{StateAuthorized, StateProcessing, StateToolCalling, StateProcessing, StateCompleted}, ok: true},
		{name: "tool then fail", path: []State{StateAuthorized, StateProcessing, StateToolCalling, StateFailed}, ok: true},
		{name: "denied at admission", path: []State{StateDenied}, ok: true},
		{name: "skip authorization", path: []State{StateProcessing}, ok: false},
		{name: "created to completed", path: []State{StateCompleted}, ok: false},
		{name: "out of terminal", path: []State{StateAuthorized, StateProcessing, StateCompleted, StateProcessing}, ok: false},
		{name: "denied is terminal", path: []State{StateDenied, StateAuthorized}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(ChannelCLI, "u1", "", "hello")
			var err error
			for _, s := range tt.path {
				if err = e.Transition(s); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Fatalf("path %v: unexpected error %v", tt.path, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("path %v: expected invalid transition", tt.path)
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
			}
		})
	}
}

func TestTerminalOutcomes(t *testing.T) {
	e := New(ChannelCLI, "u1", "Alice", "hello")
	if e.State() != StateCreated {
		t.Fatalf("new envelope state = %s", e.State())
	}
	mustTransition(t, e, StateAuthorized)
	mustTransition(t, e, StateProcessing)
	if err := e.Complete("Hi, Alice."); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := e.Response(); got != "Hi, Alice." {
		t.Errorf("response = %q", got)
	}
	if e.Error() != "" {
		t.Errorf("completed envelope has error %q", e.Error())
	}
	if !e.Terminal() {
		t.Error("completed envelope not terminal")
	}

	f := New(ChannelCLI, "u1", "", "hello")
	mustTransition(t, f, StateAuthorized)
	mustTransition(t, f, StateProcessing)
	if err := f.Fail("all providers exhausted"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if f.Error() == "" || f.Response() != "" {
		t.Errorf("failed envelope: error=%q response=%q", f.Error(), f.Response())
	}

	d := New(ChannelAPI, "u2", "", "hi")
	if err := d.Deny("rate limit"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if d.Error() != "rate limit" {
		t.Errorf("denied envelope error = %q", d.Error())
	}
}

func TestIDIsTimeSortable(t *testing.T) {
	a := New(ChannelCLI, "u", "", "first")
	b := New(ChannelCLI, "u", "", "second")
	if a.ID == b.ID {
		t.Fatal("ids must be unique")
	}
	if a.ID.String() >= b.ID.String() {
		t.Errorf("v7 ids not lexicographically ordered: %s >= %s", a.ID, b.ID)
	}
}

func TestToolCallOrder(t *testing.T) {
	e := New(ChannelCLI, "u", "", "x")
	e.RecordToolCall(ToolCall{Name: "a"})
	e.RecordToolCall(ToolCall{Name: "b", Error: "boom"})
	calls := e.ToolCalls()
	if len(calls) != 2 || calls[0].Name != "a" || calls[1].Name != "b" {
		t.Fatalf("tool calls out of order: %+v", calls)
	}
}

func TestBankID(t *testing.T) {
	e := New(ChannelTelegram, "42", "", "x")
	if got := e.BankID(); got != "telegram-42" {
		t.Errorf("bank id = %q", got)
	}
	e.Metadata = map[string]string{"memory_bank": "custom"}
	if got := e.BankID(); got != "custom" {
		t.Errorf("bank id override = %q", got)
	}
}

func mustTransition(t *testing.T, e *Envelope, s State) {
	t.Helper()
	if err := e.Transition(s); err != nil {
		t.Fatalf("transition to %s: %v", s, err)
	}
}
