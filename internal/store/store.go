// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/Niceiyke/Code-cli/internal/domain"
)

// SessionParams carries the client-supplied fields for session creation.
// Path must already be defaulted by the caller.
type SessionParams struct {
	Title string
	CLIID string
	Path  string
}

// SessionPatch carries a partial session update. Empty fields are left
// unchanged.
type SessionPatch struct {
	Title string
	CLIID string
	Path  string
}

// AttachmentParams carries one base64-encoded file attached to a user
// message.
type AttachmentParams struct {
	FileName string
	MimeType string
	Data     string
}

// Repository defines the interface for persisting sessions, messages and
// CLI profiles. Getters return (nil, nil) when the record does not exist;
// delete operations report whether a record was removed.
type Repository interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, params SessionParams) (*domain.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// GetSession retrieves a session without its messages.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetSessionWithMessages retrieves a session with its messages in
	// creation order, each carrying attachment metadata.
	GetSessionWithMessages(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession applies a partial update and returns the new state.
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (*domain.Session, error)

	// DeleteSession removes a session and cascades its messages and
	// attachments.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// SetExternalSessionID records the workflow engine's session id,
	// overwriting any previous value.
	SetExternalSessionID(ctx context.Context, sessionID, externalID string) error

	// CreateTurn inserts the user message and its pending "ai" placeholder
	// in a single transaction and returns both in insert order.
	CreateTurn(ctx context.Context, sessionID, content string, attachments []AttachmentParams) (*domain.Message, *domain.Message, error)

	// GetMessage retrieves a single message with attachment metadata.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// UpdateMessageContent overwrites a message's content.
	UpdateMessageContent(ctx context.Context, messageID, content string) error

	// CountAIMessages returns how many "ai" messages the session holds.
	CountAIMessages(ctx context.Context, sessionID string) (int, error)

	// ListAttachments returns the full attachments of a message, payload
	// included, in creation order.
	ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)

	// CreateCLI persists a new CLI profile.
	CreateCLI(ctx context.Context, name, description string) (*domain.CLI, error)

	// ListCLIs returns all CLI profiles, newest first.
	ListCLIs(ctx context.Context) ([]*domain.CLI, error)

	// GetCLI retrieves a CLI profile.
	GetCLI(ctx context.Context, cliID string) (*domain.CLI, error)

	// DeleteCLI removes a CLI profile.
	DeleteCLI(ctx context.Context, cliID string) (bool, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
