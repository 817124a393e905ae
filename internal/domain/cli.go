package domain

import (
	"time"
)

// DefaultCLIName is the profile label used in outbound payloads when a
// session has no CLI profile attached.
const DefaultCLIName = "default"

// CLI is a named command-line profile a session can reference. Its name is
// forwarded to the workflow engine so it can pick the right tool.
type CLI struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
