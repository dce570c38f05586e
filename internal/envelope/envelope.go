// Package envelope defines the request record carried through the engine and
// its state machine. An Envelope is created by a channel adapter, admitted by
// the policy decision point, and driven to a terminal state by the agent.
package envelope

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the processing state of an Envelope.
type State string

const (
	StateCreated     State = "created"
	StateAuthorized  State = "authorized"
	StateDenied      State = "denied"
	StateProcessing  State = "processing"
	StateToolCalling State = "tool_calling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Channel identifies the message source.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
	ChannelCLI      Channel = "cli"
	ChannelAPI      Channel = "api"
	ChannelWeb      Channel = "web"
)

// ErrInvalidTransition reports an attempt to move an Envelope along an edge
// that is not in the transition graph. It indicates a programming error in
// the caller, not a runtime condition.
var ErrInvalidTransition = errors.New("invalid envelope state transition")

// transitions is the full edge set. Terminal states have no outgoing edges.
var transitions = map[State][]State{
	StateCreated:     {StateAuthorized, StateDenied},
	StateAuthorized:  {StateProcessing},
	StateProcessing:  {StateToolCalling, StateCompleted, StateFailed},
	StateToolCalling: {StateProcessing, StateCompleted, StateFailed},
}

// ToolCall records one tool invocation attempt made while processing.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// MemoryRecord is one recalled memory item attached after recall.
type MemoryRecord struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Envelope is one user request moving through the system. The identifying
// fields are set once at construction; state, tool calls and the outcome are
// mutated only by the agent and the PDP, under the envelope's own lock.
type Envelope struct {
	ID        uuid.UUID         `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Channel   Channel           `json:"channel"`
	UserID    string            `json:"user_id"`
	UserName  string            `json:"user_name,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// ConversationID is the caller-supplied per-conversation identifier used
	// for history lookup and memory bank derivation. Not part of the state.
	ConversationID string `json:"conversation_id,omitempty"`

	mu            sync.Mutex
	state         State
	response      string
	errText       string
	toolCalls     []ToolCall
	memoryContext []MemoryRecord
}

// New constructs an Envelope in StateCreated with a fresh time-sortable id.
func New(ch Channel, userID, userName, content string) *Envelope {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4 rather
		// than refusing the request.
		id = uuid.New()
	}
	return &Envelope{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Channel:   ch,
		UserID:    userID,
		UserName:  userName,
		Content:   content,
		state:     StateCreated,
	}
}

// State returns the current state.
func (e *Envelope) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition moves the envelope to the target state, or returns
// ErrInvalidTransition if the edge is not in the graph.
func (e *Envelope) Transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dst := range transitions[e.state] {
		if dst == to {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s (envelope %s)", ErrInvalidTransition, e.state, to, e.ID)
}

// Terminal reports whether the envelope reached a terminal state.
func (e *Envelope) Terminal() bool {
	switch e.State() {
	case StateCompleted, StateFailed, StateDenied:
		return true
	}
	return false
}

// Complete transitions to completed and records the response.
func (e *Envelope) Complete(response string) error {
	if err := e.Transition(StateCompleted); err != nil {
		return err
	}
	e.mu.Lock()
	e.response = response
	e.mu.Unlock()
	return nil
}

// Fail transitions to failed and records the error text.
func (e *Envelope) Fail(cause string) error {
	if err := e.Transition(StateFailed); err != nil {
		return err
	}
	e.mu.Lock()
	e.errText = cause
	e.mu.Unlock()
	return nil
}

// Deny transitions to denied and records the reason.
func (e *Envelope) Deny(reason string) error {
	if err := e.Transition(StateDenied); err != nil {
		return err
	}
	e.mu.Lock()
	e.errText = reason
	e.mu.Unlock()
	return nil
}

// Response returns the final reply; non-empty iff state is completed.
func (e *Envelope) Response() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response
}

// Error returns the failure text; non-empty iff state is denied or failed.
func (e *Envelope) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errText
}

// RecordToolCall appends one tool invocation attempt, preserving order.
func (e *Envelope) RecordToolCall(tc ToolCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolCalls = append(e.toolCalls, tc)
}

// ToolCalls returns a copy of the accumulated tool call attempts in order.
func (e *Envelope) ToolCalls() []ToolCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ToolCall, len(e.toolCalls))
	copy(out, e.toolCalls)
	return out
}

// AttachMemory sets the recalled memory context.
func (e *Envelope) AttachMemory(records []MemoryRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memoryContext = records
}

// MemoryContext returns the recalled records attached after recall.
func (e *Envelope) MemoryContext() []MemoryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MemoryRecord, len(e.memoryContext))
	copy(out, e.memoryContext)
	return out
}

// BankID derives the memory bank for this envelope: an explicit
// "memory_bank" metadata hint wins, otherwise "{channel}-{user_id}".
func (e *Envelope) BankID() string {
	if b, ok := e.Metadata["memory_bank"]; ok && b != "" {
		return b
	}
	return fmt.Sprintf("%s-%s", e.Channel, e.UserID)
}
