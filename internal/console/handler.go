package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/identity"
)

const maxInboundFrame = 16 << 10

// EventHandler processes one inbound event.
type EventHandler interface {
	HandleEvent(ctx context.Context, out conversation.Sender, userID string, ev domain.Event)
}

// inbound is a browser-to-server message.
type inbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// WebSocketHandler upgrades console requests and feeds their messages to
// the conversation engine.
type WebSocketHandler struct {
	engine        EventHandler
	sessions      *SessionManager
	sender        *Sender
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a console handler. A nil logger uses slog.Default().
func NewWebSocketHandler(engine EventHandler, sessions *SessionManager, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		engine:        engine,
		sessions:      sessions,
		sender:        NewSender(sessions),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"missing console identity"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxInboundFrame)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sessions.Register(userID, ws)
	defer h.sessions.Unregister(userID, ws)

	h.readLoop(r.Context(), ws, userID)
	h.logger.Info("Console session ended", "user_id", userID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = inbound{Type: "text", Text: string(data)}
		}

		switch msg.Type {
		case "text":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			h.engine.HandleEvent(ctx, h.sender, userID, domain.TextEvent(msg.Text))
		case "action":
			if msg.Payload == "" {
				continue
			}
			h.engine.HandleEvent(ctx, h.sender, userID, domain.ActionEvent(msg.Payload))
		case "ping":
			if err := h.sessions.write(ctx, userID, frame{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			if err := h.sessions.write(ctx, userID, frame{Type: "error", Error: "unknown message type"}); err != nil {
				h.logger.Debug("Failed to send error frame", "error", err)
			}
		}
	}
}
