package domain

// EventKind is the kind of inbound event delivered by a transport.
type EventKind string

const (
	EventText   EventKind = "text"
	EventAction EventKind = "action"
)

// Event is an inbound user event: free text or a button action tag.
type Event struct {
	Kind EventKind `json:"kind"`
	Body string    `json:"body,omitempty"`
	Tag  string    `json:"tag,omitempty"`
}

// TextEvent builds a free-text event.
func TextEvent(body string) Event {
	return Event{Kind: EventText, Body: body}
}

// ActionEvent builds a button action event.
func ActionEvent(tag string) Event {
	return Event{Kind: EventAction, Tag: tag}
}

// QuickReply is a tappable reply option carrying an action tag.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// LinkButton opens a URL.
type LinkButton struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message is outbound content for one user.
type Message struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
	Buttons      []LinkButton `json:"buttons,omitempty"`
}
