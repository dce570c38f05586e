// Package telegram connects the engine to the Telegram Bot API using long
// polling. Telegram has no token streaming, so the adapter shows a typing
// indicator and delivers the concatenated response in one message.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/jedisos/internal/channels"
	"github.com/nextlevelbuilder/jedisos/internal/envelope"
)

// Config holds the Telegram adapter settings.
type Config struct {
	Token string
	// AllowFrom restricts senders by user id; empty allows everyone.
	AllowFrom []string
}

// Adapter is the Telegram channel.
type Adapter struct {
	engine    channels.Engine
	bot       *telego.Bot
	allowFrom map[string]bool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	mu         sync.Mutex
}

// New creates the adapter; the bot token is verified on Start.
func New(engine channels.Engine, cfg Config) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	allow := make(map[string]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allow[id] = true
	}
	return &Adapter{
		engine:    engine,
		bot:       bot,
		allowFrom: allow,
		pollDone:  make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return string(envelope.ChannelTelegram) }

// Start begins long polling on its own goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		defer close(a.pollDone)
		for update := range updates {
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			go a.handleMessage(pollCtx, update.Message)
		}
	}()
	return nil
}

// Stop cancels polling and waits for the update loop to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.pollCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-a.pollDone:
	case <-ctx.Done():
	}
	return nil
}

// Notify sends an out-of-band message. Telegram user ids double as DM chat
// ids, so the user id is the destination.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: user id %q is not numeric", userID)
	}
	_, err = a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), message))
	return err
}

func (a *Adapter) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	if len(a.allowFrom) > 0 && !a.allowFrom[userID] {
		slog.Debug("telegram: sender not in allowlist", "user", userID)
		return
	}

	chatID := msg.Chat.ID
	a.sendTyping(ctx, chatID)

	env := envelope.New(envelope.ChannelTelegram, userID, displayName(msg.From), msg.Text)
	env.ConversationID = "telegram-" + strconv.FormatInt(chatID, 10)
	env.Metadata = map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}

	stream := a.engine.Submit(ctx, env)
	response, errText, notifications := channels.CollectResponse(stream)

	text := response
	if errText != "" {
		text = channels.RenderFailure(errText)
	}
	if text != "" {
		a.send(ctx, chatID, text)
	}
	for _, n := range notifications {
		a.send(ctx, chatID, n)
	}
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) {
	// Telegram caps messages at 4096 chars; split on that boundary.
	for _, part := range splitMessage(text, 4096) {
		if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), part)); err != nil {
			slog.Warn("telegram: send failed", "chat", chatID, "error", err)
			return
		}
	}
}

func (a *Adapter) sendTyping(ctx context.Context, chatID int64) {
	if err := a.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
		slog.Debug("telegram: typing action failed", "chat", chatID, "error", err)
	}
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
