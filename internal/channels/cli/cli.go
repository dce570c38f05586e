// Package cli is the terminal adapter: stdin lines in, streamed tokens out.
// It backs `jedisos chat --standalone` and doubles as the reference adapter
// implementation.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/jedisos/internal/channels"
	"github.com/nextlevelbuilder/jedisos/internal/envelope"
	"github.com/nextlevelbuilder/jedisos/internal/session"
)

// Adapter reads user lines from in and renders events to out.
type Adapter struct {
	engine channels.Engine
	in     io.Reader
	out    io.Writer
	userID string

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// New creates a CLI adapter for one local user.
func New(engine channels.Engine, in io.Reader, out io.Writer, userID string) *Adapter {
	if userID == "" {
		userID = "local"
	}
	return &Adapter{
		engine: engine,
		in:     in,
		out:    out,
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return string(envelope.ChannelCLI) }

// Start launches the read loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	go a.readLoop(ctx)
	return nil
}

// Stop waits for the read loop to exit (input EOF or /quit), or for ctx to
// end.
func (a *Adapter) Stop(ctx context.Context) error {
	select {
	case <-a.done:
	case <-ctx.Done():
	}
	return nil
}

// Notify prints out-of-band messages inline.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	if userID != a.userID {
		return nil
	}
	fmt.Fprintf(a.out, "\n[notification] %s\n", message)
	return nil
}

// Run processes one utterance synchronously; the chat command uses this
// directly so errors surface as exit codes.
func (a *Adapter) Run(ctx context.Context, content string) error {
	conversation := "cli-" + a.userID
	env := envelope.New(envelope.ChannelCLI, a.userID, userName(), content)
	env.ConversationID = conversation

	stream := a.engine.Submit(ctx, env)
	var failed string
	for ev := range stream.Events() {
		switch ev.Type {
		case session.EventStream:
			fmt.Fprint(a.out, ev.Content)
		case session.EventToolStart:
			fmt.Fprintf(a.out, "\n[tool] %s…", ev.Tool)
		case session.EventToolEnd:
			if ev.IsError {
				fmt.Fprint(a.out, " failed\n")
			} else {
				fmt.Fprint(a.out, " done\n")
			}
		case session.EventNotification:
			fmt.Fprintf(a.out, "\n[notification] %s\n", ev.Message)
		case session.EventDone:
			fmt.Fprintln(a.out)
		case session.EventError:
			failed = ev.Message
		}
	}
	if failed != "" {
		fmt.Fprintln(a.out, channels.RenderFailure(failed))
		return fmt.Errorf("request failed: %s", failed)
	}
	return nil
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.done)
	scanner := bufio.NewScanner(a.in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(a.out, "> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = a.Run(ctx, line)
		fmt.Fprint(a.out, "> ")
	}
}

func userName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// NewConversationID returns a fresh conversation id for sessions that want
// isolation instead of the per-user default.
func NewConversationID() string {
	return "cli-" + uuid.NewString()
}
