// Package messenger adapts the Facebook Messenger platform to the
// conversation engine: webhook payload parsing and the Graph API Send API.
package messenger

// Webhook is the body of a Messenger webhook delivery.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events for one page.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging is one event for one user.
type Messaging struct {
	Sender    Party     `json:"sender"`
	Recipient Party     `json:"recipient"`
	Timestamp int64     `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
	Referral  *Referral `json:"referral,omitempty"`
}

// Party identifies a page-scoped user or the page itself.
type Party struct {
	ID string `json:"id"`
}

// Message is an inbound message.
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	QuickReply  *QuickReply  `json:"quick_reply,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// QuickReply carries the payload of a tapped quick reply.
type QuickReply struct {
	Payload string `json:"payload"`
}

// Attachment is an inbound file, image or similar.
type Attachment struct {
	Type string `json:"type"`
}

// Postback is a tapped button or persistent menu item.
type Postback struct {
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

// Referral is an m.me link or ad click.
type Referral struct {
	Ref    string `json:"ref,omitempty"`
	Source string `json:"source,omitempty"`
}

type sendRequest struct {
	Recipient     Party            `json:"recipient"`
	MessagingType string           `json:"messaging_type,omitempty"`
	Message       *outboundMessage `json:"message,omitempty"`
	SenderAction  string           `json:"sender_action,omitempty"`
}

type outboundMessage struct {
	Text         string               `json:"text,omitempty"`
	Attachment   *outboundAttachment  `json:"attachment,omitempty"`
	QuickReplies []outboundQuickReply `json:"quick_replies,omitempty"`
}

type outboundQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type outboundAttachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string      `json:"template_type"`
	Text         string      `json:"text"`
	Buttons      []urlButton `json:"buttons"`
}

type urlButton struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
