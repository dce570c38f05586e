// Package channels defines the adapter contract between messaging platforms
// and the engine. An adapter receives platform-native messages, builds
// Envelopes, feeds them to the engine, renders the event stream back out,
// and relays out-of-band notifications (forge completions) to the same user.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/jedisos/internal/envelope"
	"github.com/nextlevelbuilder/jedisos/internal/session"
)

// Engine is the surface the adapters consume.
type Engine interface {
	Submit(ctx context.Context, env *envelope.Envelope) *session.Stream
	Hub() *session.Hub
}

// Adapter is implemented once per platform. Start must return after setup
// (listening happens on the adapter's own goroutines); Stop shuts it down.
type Adapter interface {
	// Name returns the channel identifier ("telegram", "discord", "cli", ...).
	Name() string

	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts the adapter down.
	Stop(ctx context.Context) error

	// Notify delivers an out-of-band message to a user on this platform,
	// outside any request/response exchange.
	Notify(ctx context.Context, userID, message string) error
}

// CollectResponse drains a stream into the final response text, for
// platforms without streaming output. It returns the terminal response or
// the error message, plus any notifications that arrived mid-request.
func CollectResponse(stream *session.Stream) (response string, errText string, notifications []string) {
	var tokens strings.Builder
	for ev := range stream.Events() {
		switch ev.Type {
		case session.EventStream:
			tokens.WriteString(ev.Content)
		case session.EventDone:
			response = ev.Response
		case session.EventError:
			errText = ev.Message
		case session.EventNotification:
			notifications = append(notifications, ev.Message)
		}
	}
	if response == "" && errText == "" {
		response = tokens.String()
	}
	return response, errText, notifications
}

// RenderFailure turns a terminal error event into the user-facing line.
func RenderFailure(errText string) string {
	if errText == "" {
		return "Sorry, something went wrong."
	}
	return "Sorry, I couldn't complete that — " + errText + "."
}
