package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/jedisos/internal/providers"
)

// fakeProvider scripts one outcome per call.
type fakeProvider struct {
	name  string
	resp  *providers.ChatResponse
	err   error
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if onChunk != nil {
		onChunk(providers.StreamChunk{Content: f.resp.Content})
		onChunk(providers.StreamChunk{Done: true})
	}
	return f.resp, nil
}

func (f *fakeProvider) DefaultModel() string { return f.name + "-default" }
func (f *fakeProvider) Name() string         { return f.name }

func ok(content string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestFallbackChain(t *testing.T) {
	// A times out, B returns 401, C succeeds.
	a := &fakeProvider{name: "a", err: context.DeadlineExceeded}
	b := &fakeProvider{name: "b", err: &providers.HTTPError{Status: 401, Body: "unauthorized"}}
	c := &fakeProvider{name: "c", resp: ok("ok")}

	r := NewRouter([]Candidate{{Provider: a}, {Provider: b}, {Provider: c}})
	res, err := r.Chat(context.Background(), Request{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Response.Content != "ok" || res.Provider != "c" {
		t.Errorf("got %q from %s", res.Response.Content, res.Provider)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	if res.Attempts[0].Reason != ReasonTimeout {
		t.Errorf("attempt[0] reason = %s", res.Attempts[0].Reason)
	}
	if res.Attempts[1].Reason != ReasonAuthError {
		t.Errorf("attempt[1] reason = %s", res.Attempts[1].Reason)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls = %d/%d/%d", a.calls, b.calls, c.calls)
	}
}

func TestExhaustedChainReportsAllAttempts(t *testing.T) {
	a := &fakeProvider{name: "a", err: &providers.HTTPError{Status: 500, Body: "boom"}}
	b := &fakeProvider{name: "b", err: errors.New("connection refused")}

	r := NewRouter([]Candidate{{Provider: a}, {Provider: b}})
	_, err := r.Chat(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatal("expected *Error")
	}
	// On exhaustion, the number of attempts equals the chain length.
	if len(llmErr.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(llmErr.Attempts))
	}
	if llmErr.Attempts[1].Reason != ReasonNetwork {
		t.Errorf("attempt[1] reason = %s", llmErr.Attempts[1].Reason)
	}
}

func TestContextLengthFallsOver(t *testing.T) {
	small := &fakeProvider{name: "small", err: &providers.HTTPError{Status: 400, Body: "prompt is too long for model"}}
	big := &fakeProvider{name: "big", resp: ok("fits")}

	r := NewRouter([]Candidate{{Provider: small}, {Provider: big}})
	res, err := r.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Provider != "big" {
		t.Errorf("provider = %s", res.Provider)
	}
	if res.Attempts[0].Reason != ReasonContextLength {
		t.Errorf("reason = %s", res.Attempts[0].Reason)
	}
}

func TestModelOverrideSelectsCandidate(t *testing.T) {
	a := &fakeProvider{name: "a", resp: ok("from a")}
	b := &fakeProvider{name: "b", resp: ok("from b")}

	r := NewRouter([]Candidate{{Provider: a}, {Provider: b}})
	res, err := r.Chat(context.Background(), Request{ModelOverride: "b/special-model"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Provider != "b" || res.Model != "special-model" {
		t.Errorf("got %s/%s", res.Provider, res.Model)
	}
	if a.calls != 0 {
		t.Errorf("provider a called %d times", a.calls)
	}
}

func TestCostCallback(t *testing.T) {
	p := &fakeProvider{name: "p", resp: ok("hi")}
	r := NewRouter([]Candidate{{Provider: p, Model: "m1"}})
	r.SetPricing("m1", 3.0, 15.0)

	var got []CostRecord
	r.OnCost(func(rec CostRecord) { got = append(got, rec) })

	if _, err := r.Chat(context.Background(), Request{}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("cost callbacks = %d", len(got))
	}
	rec := got[0]
	if rec.TokensIn != 10 || rec.TokensOut != 5 {
		t.Errorf("tokens = %d/%d", rec.TokensIn, rec.TokensOut)
	}
	want := 10.0/1e6*3.0 + 5.0/1e6*15.0
	if rec.Cost < want-1e-12 || rec.Cost > want+1e-12 {
		t.Errorf("cost = %v, want %v", rec.Cost, want)
	}
}

func TestPerCallTimeoutFailsCandidateOnly(t *testing.T) {
	slow := &slowProvider{delay: 200 * time.Millisecond}
	fast := &fakeProvider{name: "fast", resp: ok("quick")}

	r := NewRouter([]Candidate{{Provider: slow, Timeout: 20 * time.Millisecond}, {Provider: fast}})
	res, err := r.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Provider != "fast" {
		t.Errorf("provider = %s", res.Provider)
	}
}

type slowProvider struct {
	delay time.Duration
}

func (s *slowProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return ok("late"), nil
	}
}

func (s *slowProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func (s *slowProvider) DefaultModel() string { return "slow-default" }
func (s *slowProvider) Name() string         { return "slow" }
