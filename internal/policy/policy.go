// Package policy is the decision point admitting requests and tool calls.
// Denials are decisions, not errors: callers receive an explicit verdict and
// every evaluation — allow or deny — lands in the audit trail.
package policy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/jedisos/internal/audit"
)

// Policy is the rule set evaluated for every request and tool call.
type Policy struct {
	// AllowedTools, when non-empty, restricts tool calls to this set.
	AllowedTools map[string]bool
	// BlockedTools always deny, regardless of the allow set.
	BlockedTools map[string]bool
	// MaxRequestsPerMinute bounds one user's requests in a trailing
	// 60-second window; 0 disables the limit.
	MaxRequestsPerMinute int
	// ChannelRules holds per-channel overrides of MaxRequestsPerMinute.
	ChannelRules map[string]ChannelRule
}

// ChannelRule overrides limits for one channel.
type ChannelRule struct {
	MaxRequestsPerMinute int
}

// Input identifies one evaluation.
type Input struct {
	EnvelopeID uuid.UUID
	UserID     string
	Channel    string
	// Subject is the tool name, or audit.SubjectMessage for request-level
	// admission.
	Subject string
}

// Verdict is the evaluation outcome.
type Verdict struct {
	Allow  bool
	Reason string
}

const window = 60 * time.Second

// PDP evaluates the policy. Rate counting uses a per-user sliding window.
type PDP struct {
	auditLog *audit.Logger

	mu      sync.Mutex
	policy  Policy
	history map[string][]time.Time // userID → request timestamps inside the window
	now     func() time.Time
}

// New creates a PDP over the policy; every evaluation is appended to auditLog.
func New(p Policy, auditLog *audit.Logger) *PDP {
	return &PDP{
		auditLog: auditLog,
		policy:   p,
		history:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// SetPolicy swaps the rule set (settings API).
func (d *PDP) SetPolicy(p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = p
}

// Policy returns a copy of the current rule set.
func (d *PDP) Policy() Policy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy
}

// EvaluateRequest admits or denies a new request, counting it against the
// user's rate window.
func (d *PDP) EvaluateRequest(in Input) Verdict {
	in.Subject = audit.SubjectMessage
	v := d.evaluate(in, true)
	d.record(in, v)
	return v
}

// EvaluateTool admits or denies one tool call. Tool calls do not count
// against the request rate window.
func (d *PDP) EvaluateTool(in Input) Verdict {
	v := d.evaluate(in, false)
	d.record(in, v)
	return v
}

// evaluate applies the rules in order, short-circuiting on the first deny.
func (d *PDP) evaluate(in Input, countRequest bool) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if in.Subject != audit.SubjectMessage {
		if d.policy.BlockedTools[in.Subject] {
			return Verdict{Allow: false, Reason: "tool is blocked"}
		}
		if len(d.policy.AllowedTools) > 0 && !d.policy.AllowedTools[in.Subject] {
			return Verdict{Allow: false, Reason: "tool not in allow-list"}
		}
	}

	if countRequest {
		limit := d.policy.MaxRequestsPerMinute
		if rule, ok := d.policy.ChannelRules[in.Channel]; ok && rule.MaxRequestsPerMinute > 0 {
			limit = rule.MaxRequestsPerMinute
		}
		if limit > 0 {
			now := d.now()
			recent := pruneWindow(d.history[in.UserID], now)
			if len(recent) >= limit {
				d.history[in.UserID] = recent
				return Verdict{Allow: false, Reason: "rate limit"}
			}
			d.history[in.UserID] = append(recent, now)
		}
	}

	return Verdict{Allow: true, Reason: "allowed"}
}

func (d *PDP) record(in Input, v Verdict) {
	if d.auditLog == nil {
		return
	}
	decision := audit.DecisionAllow
	if !v.Allow {
		decision = audit.DecisionDeny
	}
	d.auditLog.Append(audit.Record{
		EnvelopeID: in.EnvelopeID,
		UserID:     in.UserID,
		Channel:    in.Channel,
		Decision:   decision,
		Subject:    in.Subject,
		Reason:     v.Reason,
	})
}

// pruneWindow drops timestamps older than the trailing window.
func pruneWindow(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return append([]time.Time(nil), stamps[i:]...)
}
