// Package domain contains core domain types for the Code-CLI relay backend.
package domain

import (
	"time"
)

// Session represents a persisted conversation context. The external session
// id is issued by the workflow engine to track conversation continuity
// across turns; it stays empty until a callback reports one.
type Session struct {
	ID                string     `json:"id"`
	Title             string     `json:"title,omitempty"`
	CLIID             string     `json:"cli_id,omitempty"`
	Path              string     `json:"path"`
	ExternalSessionID string     `json:"external_session_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	Messages          []*Message `json:"messages,omitempty"`
}

// HasExternalSession returns true once the workflow engine has reported a
// session id of its own.
func (s *Session) HasExternalSession() bool {
	return s.ExternalSessionID != ""
}
