package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/jedisos/internal/envelope"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/pkg/protocol"
)

// handleChatWS upgrades the connection and runs the message-in / frame-out
// exchange until the client goes away.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{server: s, conn: conn}
	defer client.close()
	client.run(r.Context())
}

// checkOrigin validates the Origin header against the configured whitelist.
// No configuration allows everything; an empty Origin (non-browser clients)
// is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// wsClient is one chat WebSocket connection.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (c *wsClient) run(ctx context.Context) {
	for {
		var msg protocol.ChatSend
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway: websocket read ended", "error", err)
			}
			return
		}
		if msg.Content == "" {
			c.send(protocol.ChatFrame{Type: protocol.FrameError, Kind: "bad_request", Message: "content is required"})
			continue
		}
		c.exchange(ctx, msg)
	}
}

// exchange runs one request through the engine, relaying events as frames.
// The request runs under the connection's context. A client that disconnects
// mid-request is not detected here: the agent runs the request to the end and
// the failed frame writes are only logged.
func (c *wsClient) exchange(ctx context.Context, msg protocol.ChatSend) {
	userID := msg.UserID
	if userID == "" {
		userID = "web"
	}
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = "web-" + uuid.NewString()
	}

	env := envelope.New(envelope.ChannelWeb, userID, msg.UserName, msg.Content)
	env.ConversationID = conversationID

	stream := c.server.engine.Submit(ctx, env)
	for ev := range stream.Events() {
		switch ev.Type {
		case session.EventStream:
			c.send(protocol.ChatFrame{Type: protocol.FrameStream, Content: ev.Content})
		case session.EventDone:
			c.send(protocol.ChatFrame{Type: protocol.FrameDone, Response: ev.Response})
		case session.EventNotification:
			c.send(protocol.ChatFrame{Type: protocol.FrameNotification, Message: ev.Message})
		case session.EventError:
			c.send(protocol.ChatFrame{Type: protocol.FrameError, Kind: ev.Kind, Message: ev.Message})
		}
	}
}

func (c *wsClient) send(frame protocol.ChatFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		slog.Debug("gateway: websocket write failed", "error", err)
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { c.conn.Close() })
}
