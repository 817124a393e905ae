// Package dispatch notifies the external workflow engine that a new user
// turn is ready.
//
// Delivery is at-most-once and best-effort: the trigger is posted with a
// short timeout, failures are logged and swallowed, and nothing retries. A
// dropped trigger simply leaves the placeholder message pending.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Niceiyke/Code-cli/internal/domain"
)

// Config holds the dispatcher's wiring. It is passed in at construction;
// the dispatcher never reads ambient process state at call time.
type Config struct {
	WebhookURL      string // empty disables dispatch
	CallbackBaseURL string
	Timeout         time.Duration
}

// Dispatcher posts turn notifications to the workflow engine.
type Dispatcher struct {
	cfg    Config
	client *http.Client
}

// New creates a Dispatcher. A non-positive timeout falls back to 5s.
func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled returns true when a webhook URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.WebhookURL != ""
}

// Timeout returns the per-dispatch network timeout. Callers spawning the
// dispatch in the background bound their context with it.
func (d *Dispatcher) Timeout() time.Duration {
	return d.cfg.Timeout
}

// CallbackURL builds the address the engine reports back to for one
// placeholder message.
func (d *Dispatcher) CallbackURL(messageID string) string {
	return strings.TrimRight(d.cfg.CallbackBaseURL, "/") + "/callback/" + messageID
}

// Turn describes one user turn handed to the workflow engine.
type Turn struct {
	CLIName       string
	Session       *domain.Session
	Prompt        string
	Resume        bool
	PlaceholderID string
	Attachments   []*domain.Attachment
}

type attachmentPayload struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// payload is the webhook wire shape. The external session id rides under
// two keys because deployed workflows disagree on which one they read.
type payload struct {
	CLIName          string              `json:"cli_name"`
	SessionID        string              `json:"session_id"`
	Message          string              `json:"message"`
	Resume           bool                `json:"resume"`
	Path             string              `json:"path"`
	CallbackURL      string              `json:"callback_url"`
	Attachments      []attachmentPayload `json:"attachments,omitempty"`
	ExternalID       string              `json:"session-id,omitempty"`
	ExternalIDCompat string              `json:"external_session_id,omitempty"`
}

func (d *Dispatcher) buildPayload(t Turn) payload {
	p := payload{
		CLIName:          t.CLIName,
		SessionID:        t.Session.ID,
		Message:          t.Prompt,
		Resume:           t.Resume,
		Path:             t.Session.Path,
		CallbackURL:      d.CallbackURL(t.PlaceholderID),
		ExternalID:       t.Session.ExternalSessionID,
		ExternalIDCompat: t.Session.ExternalSessionID,
	}
	for _, att := range t.Attachments {
		p.Attachments = append(p.Attachments, attachmentPayload{
			FileName: att.FileName,
			MimeType: att.MimeType,
			Data:     att.Data,
		})
	}
	return p
}

// Notify posts the turn to the workflow engine. Every failure path logs and
// returns; no error reaches the caller because by the time dispatch runs,
// the client-facing request has already been answered.
func (d *Dispatcher) Notify(ctx context.Context, t Turn) {
	if !d.Enabled() {
		slog.Debug("Dispatch disabled, skipping webhook", "message_id", t.PlaceholderID)
		return
	}

	body, err := json.Marshal(d.buildPayload(t))
	if err != nil {
		slog.Error("Failed to encode webhook payload", "error", err, "message_id", t.PlaceholderID)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to build webhook request", "error", err, "message_id", t.PlaceholderID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("Webhook dispatch failed, placeholder stays pending",
			"error", err, "session_id", t.Session.ID, "message_id", t.PlaceholderID)
		return
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			slog.Debug("Failed to drain webhook response", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close webhook response", "error", err)
		}
	}()

	if resp.StatusCode >= 300 {
		slog.Warn("Webhook dispatch rejected",
			"status", resp.StatusCode, "session_id", t.Session.ID, "message_id", t.PlaceholderID)
		return
	}

	slog.Info("Webhook dispatched",
		"session_id", t.Session.ID, "message_id", t.PlaceholderID, "resume", t.Resume)
}
