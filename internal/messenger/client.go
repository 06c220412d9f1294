package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/ashureev/easely-bot/internal/domain"
)

// ChannelName is the transcript channel for Messenger traffic.
const ChannelName = "messenger"

// Platform limits.
const (
	maxTextLength       = 2000
	maxTemplateText     = 640
	maxQuickReplies     = 13
	maxQuickReplyTitle  = 20
	maxButtons          = 3
	maxButtonTitle      = 20
	maxErrorBodyLogSize = 4 << 10
)

// ErrNotConfigured is returned when no page access token is set.
var ErrNotConfigured = errors.New("messenger page access token not configured")

// Config holds Send API settings.
type Config struct {
	GraphAPIURL       string
	PageAccessToken   string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the Send API defaults.
func DefaultConfig() Config {
	return Config{
		GraphAPIURL:       "https://graph.facebook.com/v17.0",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// APIError is a non-2xx Send API response.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

// Client sends messages through the Graph API Send API. Sends are single
// attempts: a retried send could deliver a duplicate.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Send API client. A nil logger uses slog.Default().
func NewClient(cfg Config, hc *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.GraphAPIURL == "" {
		cfg.GraphAPIURL = def.GraphAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Channel implements conversation.Sender.
func (c *Client) Channel() string { return ChannelName }

// Send delivers msg to a page-scoped user. Link buttons are sent as a button
// template; quick replies are attached either way.
func (c *Client) Send(ctx context.Context, userID string, msg domain.Message) error {
	return c.post(ctx, sendRequest{
		Recipient:     Party{ID: userID},
		MessagingType: "RESPONSE",
		Message:       buildMessage(msg),
	})
}

// Typing toggles the typing indicator.
func (c *Client) Typing(ctx context.Context, userID string, on bool) error {
	action := "typing_off"
	if on {
		action = "typing_on"
	}
	return c.post(ctx, sendRequest{Recipient: Party{ID: userID}, SenderAction: action})
}

func buildMessage(msg domain.Message) *outboundMessage {
	out := &outboundMessage{}

	if len(msg.Buttons) > 0 {
		buttons := make([]urlButton, 0, min(len(msg.Buttons), maxButtons))
		for i, b := range msg.Buttons {
			if i == maxButtons {
				break
			}
			buttons = append(buttons, urlButton{Type: "web_url", Title: clip(b.Title, maxButtonTitle), URL: b.URL})
		}
		out.Attachment = &outboundAttachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "button",
				Text:         clip(msg.Text, maxTemplateText),
				Buttons:      buttons,
			},
		}
	} else {
		out.Text = clip(msg.Text, maxTextLength)
	}

	for i, q := range msg.QuickReplies {
		if i == maxQuickReplies {
			break
		}
		out.QuickReplies = append(out.QuickReplies, outboundQuickReply{
			ContentType: "text",
			Title:       clip(q.Title, maxQuickReplyTitle),
			Payload:     q.Payload,
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	if c.cfg.PageAccessToken == "" {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.GraphAPIURL, "/") + "/me/messages?access_token=" + url.QueryEscape(c.cfg.PageAccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLogSize))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var ge graphError
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
		apiErr.Code = ge.Error.Code
		apiErr.Type = ge.Error.Type
		apiErr.Message = ge.Error.Message
		apiErr.TraceID = ge.Error.FBTraceID
	}
	c.logger.Warn("Send API request failed",
		"recipient", body.Recipient.ID,
		"status", resp.StatusCode,
		"code", apiErr.Code,
		"trace_id", apiErr.TraceID)
	return apiErr
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
