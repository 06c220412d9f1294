package messenger

import (
	"crypto/subtle"
	"strings"

	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/domain"
)

// ObjectPage is the webhook object type for page subscriptions.
const ObjectPage = "page"

// AttachmentNotice answers messages that only carry attachments.
const AttachmentNotice = "I received your attachment, but I can only process text messages right now. Please send me a text message!"

// Kind classifies an extracted inbound event.
type Kind string

const (
	KindText       Kind = "text"
	KindQuickReply Kind = "quick_reply"
	KindPostback   Kind = "postback"
	KindReferral   Kind = "referral"
	KindAttachment Kind = "attachment"
)

// Inbound is one user event taken from a webhook delivery. Attachment-only
// messages carry no Event and are answered with AttachmentNotice.
type Inbound struct {
	UserID      string
	Kind        Kind
	Event       domain.Event
	Attachments []string
}

// Extract flattens a webhook delivery into user events in delivery order.
// Echoes, delivery and read receipts, and events without a sender are dropped.
func Extract(w Webhook) []Inbound {
	var out []Inbound
	for _, entry := range w.Entry {
		for _, m := range entry.Messaging {
			if in, ok := extractOne(m); ok {
				out = append(out, in)
			}
		}
	}
	return out
}

func extractOne(m Messaging) (Inbound, bool) {
	userID := strings.TrimSpace(m.Sender.ID)
	if userID == "" {
		return Inbound{}, false
	}
	in := Inbound{UserID: userID}

	switch {
	case m.Message != nil:
		msg := m.Message
		switch {
		case msg.IsEcho:
			return Inbound{}, false
		case msg.QuickReply != nil && msg.QuickReply.Payload != "":
			in.Kind = KindQuickReply
			in.Event = domain.ActionEvent(msg.QuickReply.Payload)
		case msg.Text != "":
			in.Kind = KindText
			in.Event = domain.TextEvent(msg.Text)
		case len(msg.Attachments) > 0:
			in.Kind = KindAttachment
			for _, a := range msg.Attachments {
				in.Attachments = append(in.Attachments, a.Type)
			}
		default:
			return Inbound{}, false
		}
	case m.Postback != nil && m.Postback.Payload != "":
		in.Kind = KindPostback
		in.Event = domain.ActionEvent(m.Postback.Payload)
	case m.Referral != nil:
		in.Kind = KindReferral
		in.Event = domain.ActionEvent(conversation.ActionGetStarted)
	default:
		return Inbound{}, false
	}
	return in, true
}

// VerifySubscription checks a webhook verification request.
func VerifySubscription(mode, token, expected string) bool {
	if mode != "subscribe" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
