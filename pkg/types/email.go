package types

import (
	"strings"
	"time"
)

// Message represents a fetched email: the parsed view plus the original bytes.
type Message struct {
	ID          string       `json:"id"`
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Date        time.Time    `json:"date"`
	BodyText    string       `json:"body_text,omitempty"`
	BodyHTML    string       `json:"body_html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Raw is kept verbatim; copy, move and forward must round-trip it.
	Raw []byte `json:"-"`
}

// Attachment describes an attachment part without its content.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Envelope is the listing view of a message
type Envelope struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Flags     Flags     `json:"flags"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	Date      time.Time `json:"date"`
}

// Folder represents an email folder/mailbox
type Folder struct {
	Name        string `json:"name"`
	Delimiter   string `json:"delimiter,omitempty"`
	Description string `json:"description,omitempty"`
}

// NormalizeMessageID strips whitespace and the angle brackets around a
// Message-ID header value so ids from different backends compare equal.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}
