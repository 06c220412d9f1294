// Package console is a browser chat transport for driving the conversation
// engine without Messenger. Each visitor gets one live WebSocket.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/easely-bot/internal/domain"
)

// ChannelName is the transcript channel for console traffic.
const ChannelName = "console"

// ErrNoSession is returned when a user has no open console.
var ErrNoSession = errors.New("no active console session")

// frame is a server-to-browser message.
type frame struct {
	Type         string              `json:"type"`
	Text         string              `json:"text,omitempty"`
	QuickReplies []domain.QuickReply `json:"quick_replies,omitempty"`
	Buttons      []domain.LinkButton `json:"buttons,omitempty"`
	On           bool                `json:"on,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// SessionManager tracks the live connection of each console user.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

// NewSessionManager creates a session manager. A nil logger uses slog.Default().
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		active: make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register makes conn the user's live connection, closing any previous one.
func (m *SessionManager) Register(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[userID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID] = conn
	m.logger.Info("Console session registered", "user_id", userID)
}

// Unregister removes conn if it is still the user's live connection.
func (m *SessionManager) Unregister(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[userID]; ok && current == conn {
		delete(m.active, userID)
		m.logger.Info("Console session unregistered", "user_id", userID)
	}
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every live session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(m.active, userID)
	}
}

func (m *SessionManager) write(ctx context.Context, userID string, f frame) error {
	m.mu.RLock()
	conn, ok := m.active[userID]
	m.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal console frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write console frame: %w", err)
	}
	return nil
}

// Sender delivers engine replies to whichever console the user has open, so
// delayed prompts reach a reconnected tab.
type Sender struct {
	sessions *SessionManager
}

// NewSender creates a Sender over sessions.
func NewSender(sessions *SessionManager) *Sender {
	return &Sender{sessions: sessions}
}

// Channel implements conversation.Sender.
func (s *Sender) Channel() string { return ChannelName }

// Send implements conversation.Sender.
func (s *Sender) Send(ctx context.Context, userID string, msg domain.Message) error {
	return s.sessions.write(ctx, userID, frame{
		Type:         "message",
		Text:         msg.Text,
		QuickReplies: msg.QuickReplies,
		Buttons:      msg.Buttons,
	})
}

// Typing implements conversation.Typer.
func (s *Sender) Typing(ctx context.Context, userID string, on bool) error {
	return s.sessions.write(ctx, userID, frame{Type: "typing", On: on})
}
