package session

import (
	"sync"

	"github.com/nextlevelbuilder/jedisos/internal/providers"
)

// History keeps in-memory message history per conversation id. The engine
// does not persist sessions; long-term knowledge lives in the memory service
// and the conversation id is supplied by the caller.
type History struct {
	mu       sync.Mutex
	messages map[string][]providers.Message
	maxTurns int
}

// NewHistory creates a history store keeping at most maxTurns user turns per
// conversation (0 = unlimited).
func NewHistory(maxTurns int) *History {
	return &History{
		messages: make(map[string][]providers.Message),
		maxTurns: maxTurns,
	}
}

// Get returns a copy of the conversation's messages.
func (h *History) Get(conversationID string) []providers.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.messages[conversationID]
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Append adds messages to the conversation, trimming old turns past the cap.
func (h *History) Append(conversationID string, msgs ...providers.Message) {
	if conversationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	all := append(h.messages[conversationID], msgs...)
	if h.maxTurns > 0 {
		all = trimToTurns(all, h.maxTurns)
	}
	h.messages[conversationID] = all
}

// Reset drops a conversation.
func (h *History) Reset(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.messages, conversationID)
}

// trimToTurns keeps the suffix containing at most maxTurns user messages,
// cutting on a user-message boundary so tool results keep their context.
func trimToTurns(msgs []providers.Message, maxTurns int) []providers.Message {
	turns := 0
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && msgs[i].ToolCallID == "" {
			turns++
			if turns > maxTurns {
				return append([]providers.Message(nil), msgs[start:]...)
			}
			start = i
		}
	}
	return msgs
}
