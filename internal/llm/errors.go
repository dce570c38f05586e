// Package llm routes chat requests across an ordered list of model providers
// with per-candidate timeouts, failure classification, and cost accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/jedisos/internal/providers"
)

// Failure reasons used for classification and audit.
const (
	ReasonTimeout       = "timeout"
	ReasonServerError   = "server_error"
	ReasonAuthError     = "auth_error"
	ReasonRateLimit     = "rate_limit"
	ReasonContextLength = "context_length"
	ReasonNetwork       = "network"
	ReasonUnknown       = "unknown"
)

// ErrExhausted is returned when every candidate in the fallback chain failed.
var ErrExhausted = errors.New("all model candidates failed")

// Error is the terminal router error carrying the last provider's cause and
// the full attempt history.
type Error struct {
	Attempts []Attempt
	Cause    error
}

// Attempt records one failed candidate.
type Attempt struct {
	Provider string
	Model    string
	Reason   string
	Err      string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrExhausted.Error())
	for i, a := range e.Attempts {
		sb.WriteString(fmt.Sprintf("\n  %d. %s/%s: [%s] %s", i+1, a.Provider, a.Model, a.Reason, a.Err))
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return target == ErrExhausted }

// classify maps a provider error to a failure reason. Every reason falls
// through to the next candidate; classification only drives logging, backoff
// and the attempt record.
func classify(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 429:
			return ReasonRateLimit
		case httpErr.Status == 401 || httpErr.Status == 403:
			return ReasonAuthError
		case httpErr.Status >= 500:
			return ReasonServerError
		case httpErr.Status == 400 && containsContextLength(httpErr.Body):
			return ReasonContextLength
		case httpErr.Status >= 400:
			return ReasonAuthError
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "context length") ||
		strings.Contains(errStr, "context_length") ||
		strings.Contains(errStr, "prompt is too long") ||
		strings.Contains(errStr, "maximum context"):
		return ReasonContextLength
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset"):
		return ReasonNetwork
	}
	return ReasonUnknown
}

func containsContextLength(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "context length") ||
		strings.Contains(b, "context_length") ||
		strings.Contains(b, "prompt is too long") ||
		strings.Contains(b, "maximum context")
}
