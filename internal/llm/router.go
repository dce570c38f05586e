package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/jedisos/internal/providers"
)

const (
	defaultCallTimeout   = 120 * time.Second
	rateLimitBackoff     = 2 * time.Second
	rateLimitBackoffMax  = 10 * time.Second
)

// Candidate is one entry in the fallback chain. Order in the router's list is
// the fallback sequence.
type Candidate struct {
	Provider    providers.Provider
	Model       string // empty = provider default
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// CostRecord is handed to cost callbacks after every successful call.
type CostRecord struct {
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	Cost      float64
	Duration  time.Duration
}

// CostFn receives a CostRecord after each successful call.
type CostFn func(CostRecord)

// Request is the router-level chat input. Overrides apply to every candidate
// tried for this call.
type Request struct {
	Messages []providers.Message
	Tools    []providers.ToolDefinition

	// ModelOverride selects "provider/model" (or a bare model on the first
	// candidate's provider) instead of the configured chain.
	ModelOverride string

	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration

	// Stream forwards tokens to OnChunk as they arrive.
	Stream  bool
	OnChunk func(providers.StreamChunk)
}

// Result is the successful router output.
type Result struct {
	Response *providers.ChatResponse
	Provider string
	Model    string
	Attempts []Attempt // failed candidates tried before this one
}

// Router tries candidates in order until one succeeds.
type Router struct {
	mu         sync.RWMutex
	candidates []Candidate
	costFns    []CostFn

	// pricing maps model id → (per-1M input, per-1M output) USD, for the cost
	// field of CostRecord. Missing models report cost 0.
	pricing map[string][2]float64
}

// NewRouter creates a router over the ordered candidate list.
func NewRouter(candidates []Candidate) *Router {
	return &Router{candidates: candidates, pricing: make(map[string][2]float64)}
}

// OnCost registers a cost callback invoked after each successful call.
func (r *Router) OnCost(fn CostFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costFns = append(r.costFns, fn)
}

// SetPricing sets the per-1M-token USD rates for a model.
func (r *Router) SetPricing(model string, inPerM, outPerM float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pricing[model] = [2]float64{inPerM, outPerM}
}

// Candidates returns a snapshot of the configured chain.
func (r *Router) Candidates() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Chat walks the candidate chain. Each failure is classified and the next
// candidate is tried; rate limits get a short backoff first. When the chain
// is exhausted the returned *Error wraps the last provider's cause.
func (r *Router) Chat(ctx context.Context, req Request) (*Result, error) {
	candidates := r.resolveCandidates(req.ModelOverride)

	var attempts []Attempt
	var lastErr error
	backoff := rateLimitBackoff

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		model := cand.Model
		if model == "" {
			model = cand.Provider.DefaultModel()
		}

		resp, duration, err := r.callOnce(ctx, cand, model, req)
		if err == nil {
			r.recordCost(cand.Provider.Name(), model, resp, duration)
			return &Result{
				Response: resp,
				Provider: cand.Provider.Name(),
				Model:    model,
				Attempts: attempts,
			}, nil
		}
		lastErr = err

		reason := classify(err)
		attempts = append(attempts, Attempt{
			Provider: cand.Provider.Name(),
			Model:    model,
			Reason:   reason,
			Err:      err.Error(),
		})

		switch reason {
		case ReasonAuthError:
			slog.Warn("llm: provider rejected credentials, check configuration",
				"provider", cand.Provider.Name(), "model", model, "error", err)
		case ReasonRateLimit:
			slog.Info("llm: rate limited, backing off before next candidate",
				"provider", cand.Provider.Name(), "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > rateLimitBackoffMax {
				backoff = rateLimitBackoffMax
			}
		default:
			slog.Warn("llm: candidate failed, falling over",
				"provider", cand.Provider.Name(), "model", model, "reason", reason, "error", err)
		}
	}

	return nil, &Error{Attempts: attempts, Cause: lastErr}
}

func (r *Router) callOnce(ctx context.Context, cand Candidate, model string, req Request) (*providers.ChatResponse, time.Duration, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cand.Timeout
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := providers.ChatRequest{
		Messages: req.Messages,
		Tools:    req.Tools,
		Model:    model,
		Options:  map[string]any{},
	}
	if req.MaxTokens > 0 {
		chatReq.Options[providers.OptMaxTokens] = req.MaxTokens
	} else if cand.MaxTokens > 0 {
		chatReq.Options[providers.OptMaxTokens] = cand.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Options[providers.OptTemperature] = *req.Temperature
	} else if cand.Temperature > 0 {
		chatReq.Options[providers.OptTemperature] = cand.Temperature
	}

	start := time.Now()
	var resp *providers.ChatResponse
	var err error
	if req.Stream && req.OnChunk != nil {
		resp, err = cand.Provider.ChatStream(callCtx, chatReq, req.OnChunk)
	} else {
		resp, err = cand.Provider.Chat(callCtx, chatReq)
	}
	return resp, time.Since(start), err
}

// resolveCandidates builds the list for one call: the override if given,
// otherwise the configured chain.
func (r *Router) resolveCandidates(override string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if override == "" {
		out := make([]Candidate, len(r.candidates))
		copy(out, r.candidates)
		return out
	}

	providerName, model := "", override
	if idx := strings.IndexByte(override, '/'); idx > 0 {
		providerName, model = override[:idx], override[idx+1:]
	}
	for _, cand := range r.candidates {
		if providerName == "" || cand.Provider.Name() == providerName {
			c := cand
			c.Model = model
			return []Candidate{c}
		}
	}
	// Unknown provider prefix: fall back to the configured chain rather than
	// failing the request outright.
	slog.Warn("llm: model override names unknown provider, using configured chain", "override", override)
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

func (r *Router) recordCost(provider, model string, resp *providers.ChatResponse, duration time.Duration) {
	r.mu.RLock()
	fns := make([]CostFn, len(r.costFns))
	copy(fns, r.costFns)
	rates, hasRates := r.pricing[model]
	r.mu.RUnlock()

	if len(fns) == 0 {
		return
	}

	rec := CostRecord{Provider: provider, Model: model, Duration: duration}
	if resp.Usage != nil {
		rec.TokensIn = resp.Usage.PromptTokens
		rec.TokensOut = resp.Usage.CompletionTokens
		if hasRates {
			rec.Cost = float64(rec.TokensIn)/1e6*rates[0] + float64(rec.TokensOut)/1e6*rates[1]
		}
	}
	for _, fn := range fns {
		fn(rec)
	}
}
