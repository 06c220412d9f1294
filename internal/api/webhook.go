package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/messenger"
	"github.com/ashureev/easely-bot/internal/middleware"
)

const (
	maxWebhookBody = 1 << 20
	eventTimeout   = 60 * time.Second
)

// EventHandler processes one inbound user event.
type EventHandler interface {
	HandleEvent(ctx context.Context, out conversation.Sender, userID string, ev domain.Event)
}

// WebhookHandler serves the Messenger webhook. Deliveries are acknowledged
// immediately and processed in the background.
type WebhookHandler struct {
	engine      EventHandler
	out         conversation.Sender
	verifyToken string
	appSecret   string
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewWebhookHandler creates a webhook handler. out delivers replies to
// Messenger. A nil logger uses slog.Default().
func NewWebhookHandler(engine EventHandler, out conversation.Sender, verifyToken, appSecret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		engine:      engine,
		out:         out,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger,
	}
}

// RegisterRoutes mounts GET and POST /webhook.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.VerifySignature(h.appSecret, h.logger))
		r.Get("/", h.Verify)
		r.Post("/", h.Receive)
	})
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !messenger.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), h.verifyToken) {
		h.logger.Warn("Webhook verification failed", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	h.logger.Info("Webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// Receive decodes a delivery and hands its events to the engine.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var hook messenger.Webhook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&hook); err != nil {
		Error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if hook.Object != messenger.ObjectPage {
		h.logger.Warn("Ignoring webhook for unexpected object", "object", hook.Object)
		http.NotFound(w, r)
		return
	}

	events := messenger.Extract(hook)
	if len(events) > 0 {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.process(context.WithoutCancel(r.Context()), events)
		}()
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

// process runs one delivery's events in order.
func (h *WebhookHandler) process(ctx context.Context, events []messenger.Inbound) {
	for _, in := range events {
		evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
		if in.Kind == messenger.KindAttachment {
			h.logger.Info("Attachment-only message", "user_id", in.UserID, "types", in.Attachments)
			if err := h.out.Send(evCtx, in.UserID, domain.Message{Text: messenger.AttachmentNotice}); err != nil {
				h.logger.Error("Failed to send attachment notice", "user_id", in.UserID, "error", err)
			}
		} else {
			h.engine.HandleEvent(evCtx, h.out, in.UserID, in.Event)
		}
		cancel()
	}
}

// Wait blocks until in-flight deliveries finish.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
