package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Niceiyke/Code-cli/internal/live"
	"github.com/Niceiyke/Code-cli/internal/resolve"
	"github.com/Niceiyke/Code-cli/internal/shared"
	"github.com/go-chi/chi/v5"
)

// maxCallbackBody bounds how much of a callback payload is read.
const maxCallbackBody = 10 << 20 // 10 MiB

// CallbackHandler accepts asynchronous results from the workflow engine and
// resolves pending placeholder messages.
type CallbackHandler struct {
	*Handler
	hub *live.Hub
}

// NewCallbackHandler creates a new callback handler.
func NewCallbackHandler(base *Handler, hub *live.Hub) *CallbackHandler {
	return &CallbackHandler{Handler: base, hub: hub}
}

// RegisterRoutes registers the callback route.
func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/callback/{messageID}", h.Resolve)
}

// Resolve maps the callback onto its placeholder message. Routing trusts
// only the message id in the URL, never the body. Once the message is
// found the call always acknowledges success: extraction failures degrade
// content, they do not fail the HTTP exchange. Duplicate callbacks simply
// overwrite (last write wins).
func (h *CallbackHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	ctx := r.Context()

	msg, err := h.repo.GetMessage(ctx, messageID)
	if err != nil {
		slog.Error("Failed to get message for callback", "error", err, "message_id", messageID)
		Error(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		Error(w, http.StatusNotFound, "Message not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		slog.Warn("Failed to read callback body", "error", err, "message_id", messageID)
		body = nil
	}

	result := resolve.Resolve(body)

	if err := h.updateContentWithRetry(r, messageID, result.Content); err != nil {
		slog.Error("Failed to store resolved content", "error", err, "message_id", messageID)
		Error(w, http.StatusInternalServerError, "failed to store content")
		return
	}

	if result.ExternalSessionID != "" {
		if err := h.repo.SetExternalSessionID(ctx, msg.SessionID, result.ExternalSessionID); err != nil {
			// Continuity id is best-effort; the resolved content already
			// landed.
			slog.Warn("Failed to store external session id",
				"error", err, "session_id", msg.SessionID)
		}
	}

	msg.Content = result.Content
	h.hub.Publish(msg.SessionID, live.Event{Type: live.EventMessageUpdated, Message: msg})

	slog.Info("Callback resolved",
		"message_id", messageID, "session_id", msg.SessionID, "kind", result.Kind)
	JSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// updateContentWithRetry writes the resolved content with exponential
// backoff on SQLITE_BUSY, which can surface when a callback races a client
// request on the same session.
func (h *CallbackHandler) updateContentWithRetry(r *http.Request, messageID, content string) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = h.repo.UpdateMessageContent(r.Context(), messageID, content)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Database locked during callback write, retrying",
			"message_id", messageID, "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return err
}
