// Package discord connects the engine to Discord via gateway events. Like
// Telegram, Discord delivers whole messages, so tokens are concatenated and
// sent once the stream completes.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/jedisos/internal/channels"
	"github.com/nextlevelbuilder/jedisos/internal/envelope"
)

// Config holds the Discord adapter settings.
type Config struct {
	Token string
	// AllowFrom restricts senders by user id; empty allows everyone.
	AllowFrom []string
	// RequireMention gates guild messages behind an @bot mention (DMs are
	// always processed). Defaults to true.
	RequireMention *bool
}

// Adapter is the Discord channel.
type Adapter struct {
	engine         channels.Engine
	session        *discordgo.Session
	allowFrom      map[string]bool
	requireMention bool
	botUserID      string
}

// New creates the adapter; the gateway connection opens on Start.
func New(engine channels.Engine, cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	allow := make(map[string]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allow[id] = true
	}
	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Adapter{
		engine:         engine,
		session:        session,
		allowFrom:      allow,
		requireMention: requireMention,
	}, nil
}

func (a *Adapter) Name() string { return string(envelope.ChannelDiscord) }

// Start opens the gateway connection and begins receiving events.
func (a *Adapter) Start(ctx context.Context) error {
	a.session.AddHandler(a.handleMessage)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(ctx context.Context) error {
	return a.session.Close()
}

// Notify DMs the user out-of-band.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	dm, err := a.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("discord: open DM with %s: %w", userID, err)
	}
	_, err = a.session.ChannelMessageSend(dm.ID, message)
	return err
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}
	if len(a.allowFrom) > 0 && !a.allowFrom[m.Author.ID] {
		return
	}

	content := strings.TrimSpace(m.Content)
	isGuild := m.GuildID != ""
	if isGuild && a.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == a.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = stripMention(content, a.botUserID)
	}
	if content == "" {
		return
	}

	go a.process(m, content)
}

func (a *Adapter) process(m *discordgo.MessageCreate, content string) {
	ctx := context.Background()
	a.session.ChannelTyping(m.ChannelID)

	env := envelope.New(envelope.ChannelDiscord, m.Author.ID, m.Author.Username, content)
	env.ConversationID = "discord-" + m.ChannelID
	env.Metadata = map[string]string{"channel_id": m.ChannelID}

	stream := a.engine.Submit(ctx, env)
	response, errText, notifications := channels.CollectResponse(stream)

	text := response
	if errText != "" {
		text = channels.RenderFailure(errText)
	}
	if text != "" {
		a.send(m.ChannelID, text)
	}
	for _, n := range notifications {
		a.send(m.ChannelID, n)
	}
}

func (a *Adapter) send(channelID, text string) {
	// Discord caps messages at 2000 chars.
	for len(text) > 2000 {
		cut := strings.LastIndexByte(text[:2000], '\n')
		if cut <= 0 {
			cut = 2000
		}
		if _, err := a.session.ChannelMessageSend(channelID, text[:cut]); err != nil {
			slog.Warn("discord: send failed", "channel", channelID, "error", err)
			return
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		if _, err := a.session.ChannelMessageSend(channelID, text); err != nil {
			slog.Warn("discord: send failed", "channel", channelID, "error", err)
		}
	}
}

func stripMention(content, botID string) string {
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}
