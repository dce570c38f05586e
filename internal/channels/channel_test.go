package channels

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/jedisos/internal/session"
)

func TestCollectResponse(t *testing.T) {
	s := session.NewStream()
	ctx := context.Background()
	s.Publish(ctx, session.Event{Type: session.EventStream, Content: "It's "})
	s.Publish(ctx, session.Event{Type: session.EventStream, Content: "noon."})
	s.Publish(ctx, session.Event{Type: session.EventNotification, Message: "tool ready"})
	s.Publish(ctx, session.Event{Type: session.EventDone, Response: "It's noon."})
	s.Close()

	response, errText, notifications := CollectResponse(s)
	if response != "It's noon." || errText != "" {
		t.Errorf("response=%q err=%q", response, errText)
	}
	if len(notifications) != 1 || notifications[0] != "tool ready" {
		t.Errorf("notifications = %v", notifications)
	}
}

func TestCollectResponseFallsBackToTokens(t *testing.T) {
	// A stream that ends without a done event (consumer cancelled): the
	// concatenated tokens stand in for the response.
	s := session.NewStream()
	ctx := context.Background()
	s.Publish(ctx, session.Event{Type: session.EventStream, Content: "partial"})
	s.Close()

	response, errText, _ := CollectResponse(s)
	if response != "partial" || errText != "" {
		t.Errorf("response=%q err=%q", response, errText)
	}
}

func TestCollectResponseError(t *testing.T) {
	s := session.NewStream()
	s.Publish(context.Background(), session.Event{Type: session.EventError, Kind: "llm_error", Message: "all providers failed"})
	s.Close()

	response, errText, _ := CollectResponse(s)
	if response != "" {
		t.Errorf("response = %q", response)
	}
	if errText != "all providers failed" {
		t.Errorf("err = %q", errText)
	}
	if got := RenderFailure(errText); got != "Sorry, I couldn't complete that — all providers failed." {
		t.Errorf("rendered = %q", got)
	}
}

type stubAdapter struct {
	name     string
	started  bool
	stopped  bool
	notified []string
}

func (a *stubAdapter) Name() string                     { return a.name }
func (a *stubAdapter) Start(ctx context.Context) error  { a.started = true; return nil }
func (a *stubAdapter) Stop(ctx context.Context) error   { a.stopped = true; return nil }
func (a *stubAdapter) Notify(ctx context.Context, userID, message string) error {
	a.notified = append(a.notified, userID+": "+message)
	return nil
}

func TestManagerLifecycleAndNotify(t *testing.T) {
	m := NewManager()
	tg := &stubAdapter{name: "telegram"}
	dc := &stubAdapter{name: "discord"}
	m.Add(tg)
	m.Add(dc)

	ctx := context.Background()
	m.StartAll(ctx)
	if !tg.started || !dc.started {
		t.Error("adapters not started")
	}

	// Channel-targeted notify reaches only that adapter.
	m.Notify(ctx, "telegram", "42", "ready")
	if len(tg.notified) != 1 || len(dc.notified) != 0 {
		t.Errorf("targeted notify: tg=%v dc=%v", tg.notified, dc.notified)
	}

	// Broadcast reaches all.
	m.Notify(ctx, "", "42", "hello")
	if len(tg.notified) != 2 || len(dc.notified) != 1 {
		t.Errorf("broadcast notify: tg=%v dc=%v", tg.notified, dc.notified)
	}

	m.StopAll(ctx)
	if !tg.stopped || !dc.stopped {
		t.Error("adapters not stopped")
	}
}
