package entity

import "strings"

// Message is a chat message as the client sees it: either confirmed by the
// remote feed or still waiting in the outbox.
type Message struct {
	ID              string    `json:"id"`
	ClientMessageID string    `json:"clientMessageId"`
	Author          string    `json:"user"`
	Text            string    `json:"text,omitempty"`
	Attachment      string    `json:"image,omitempty"` // base64 data URI
	CreatedAt       Timestamp `json:"createdAt"`
	Pending         bool      `json:"pending"`
}

// HasContent reports whether the message carries a body or an attachment.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.Attachment != ""
}

// OutgoingMessage holds the fields written to the remote feed. The feed
// assigns the id and the creation timestamp itself.
type OutgoingMessage struct {
	ClientMessageID string
	Author          string
	Text            string
	Attachment      string
}

// Outgoing converts a composed message into the fields sent to the feed.
func (m Message) Outgoing() OutgoingMessage {
	return OutgoingMessage{
		ClientMessageID: m.ClientMessageID,
		Author:          m.Author,
		Text:            m.Text,
		Attachment:      m.Attachment,
	}
}

// FeedSnapshot is one ordered view of the remote feed, oldest first.
type FeedSnapshot struct {
	Messages  []Message
	FromCache bool
}
