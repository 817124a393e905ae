package domain

import (
	"time"
)

// Message roles. The callback path only ever mutates "ai" messages.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// PendingContent is the sentinel stored on a placeholder "ai" message until
// the workflow engine delivers its callback.
const PendingContent = "pending"

// Message is one turn in a session. Content is the only field mutated after
// creation.
type Message struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	CreatedAt   time.Time         `json:"created_at"`
	Attachments []*AttachmentMeta `json:"attachments,omitempty"`
}

// IsPending reports whether the message still holds the placeholder sentinel.
func (m *Message) IsPending() bool {
	return m.Role == RoleAI && m.Content == PendingContent
}

// Attachment is a file attached to a user message. Data is base64-encoded
// and only travels on the write path and in the outbound webhook payload.
type Attachment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentMeta is the read-side projection of an attachment without the
// payload bytes.
type AttachmentMeta struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Meta strips the payload from an attachment.
func (a *Attachment) Meta() *AttachmentMeta {
	return &AttachmentMeta{
		ID:        a.ID,
		FileName:  a.FileName,
		MimeType:  a.MimeType,
		CreatedAt: a.CreatedAt,
	}
}
