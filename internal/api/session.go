package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Niceiyke/Code-cli/internal/dispatch"
	"github.com/Niceiyke/Code-cli/internal/domain"
	"github.com/Niceiyke/Code-cli/internal/live"
	"github.com/Niceiyke/Code-cli/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles session and message endpoints.
type SessionHandler struct {
	*Handler
	dispatcher  *dispatch.Dispatcher
	hub         *live.Hub
	defaultPath string
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler, dispatcher *dispatch.Dispatcher, hub *live.Hub, defaultPath string) *SessionHandler {
	return &SessionHandler{
		Handler:     base,
		dispatcher:  dispatcher,
		hub:         hub,
		defaultPath: defaultPath,
	}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{sessionID}", h.GetSession)
		r.Patch("/{sessionID}", h.UpdateSession)
		r.Delete("/{sessionID}", h.DeleteSession)
		r.Post("/{sessionID}/messages", h.SendMessage)
	})
}

type sessionRequest struct {
	Title string `json:"title"`
	CLIID string `json:"cli_id"`
	Path  string `json:"path"`
}

// CreateSession creates a new chat session.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Path == "" {
		req.Path = h.defaultPath
	}

	session, err := h.repo.CreateSession(r.Context(), store.SessionParams{
		Title: req.Title,
		CLIID: req.CLIID,
		Path:  req.Path,
	})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Session created", "session_id", session.ID, "path", session.Path)
	JSON(w, http.StatusOK, session)
}

// ListSessions returns all sessions, newest first.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

// GetSession returns one session with its messages in creation order.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.repo.GetSessionWithMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if session.Messages == nil {
		session.Messages = []*domain.Message{}
	}
	JSON(w, http.StatusOK, session)
}

// UpdateSession applies a partial update; only non-empty fields overwrite.
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.repo.UpdateSession(r.Context(), sessionID, store.SessionPatch{
		Title: req.Title,
		CLIID: req.CLIID,
		Path:  req.Path,
	})
	if err != nil {
		slog.Error("Failed to update session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	JSON(w, http.StatusOK, session)
}

// DeleteSession removes a session and all of its messages.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := h.repo.DeleteSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to delete session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}

	slog.Info("Session deleted", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type messageRequest struct {
	Content     string `json:"content"`
	Attachments []struct {
		FileName string `json:"file_name"`
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"attachments"`
}

// SendMessage appends a user message, creates the pending "ai" placeholder,
// triggers the webhook dispatch in the background, and returns the
// placeholder immediately. The response never waits on, nor reflects, the
// dispatch outcome.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	session, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}

	// Resume signals the engine that this session has prior AI turns; count
	// before the new pair is inserted so the fresh placeholder doesn't flip
	// the flag on its own turn.
	priorAI, err := h.repo.CountAIMessages(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to count ai messages", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to prepare turn")
		return
	}

	var atts []store.AttachmentParams
	for _, a := range req.Attachments {
		atts = append(atts, store.AttachmentParams{
			FileName: a.FileName,
			MimeType: a.MimeType,
			Data:     a.Data,
		})
	}

	userMsg, placeholder, err := h.repo.CreateTurn(ctx, sessionID, req.Content, atts)
	if err != nil {
		slog.Error("Failed to create turn", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	if userMsg == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}

	h.hub.Publish(sessionID, live.Event{Type: live.EventMessageCreated, Message: userMsg})
	h.hub.Publish(sessionID, live.Event{Type: live.EventMessageCreated, Message: placeholder})

	h.dispatchTurn(session, userMsg, placeholder, priorAI > 0)

	JSON(w, http.StatusOK, placeholder)
}

// dispatchTurn spawns the fire-and-forget webhook notification. It loads
// the CLI label and full attachments with the request context, then detaches
// the network call with its own bounded timeout.
func (h *SessionHandler) dispatchTurn(session *domain.Session, userMsg, placeholder *domain.Message, resume bool) {
	if !h.dispatcher.Enabled() {
		slog.Debug("Webhook not configured, placeholder stays pending", "message_id", placeholder.ID)
		return
	}

	turn := dispatch.Turn{
		CLIName:       domain.DefaultCLIName,
		Session:       session,
		Prompt:        userMsg.Content,
		Resume:        resume,
		PlaceholderID: placeholder.ID,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.dispatcher.Timeout()+time.Second)
		defer cancel()

		if session.CLIID != "" {
			if cli, err := h.repo.GetCLI(ctx, session.CLIID); err != nil {
				slog.Warn("Failed to resolve CLI profile, using default label",
					"error", err, "cli_id", session.CLIID)
			} else if cli != nil {
				turn.CLIName = cli.Name
			}
		}

		if len(userMsg.Attachments) > 0 {
			atts, err := h.repo.ListAttachments(ctx, userMsg.ID)
			if err != nil {
				slog.Warn("Failed to load attachments for dispatch",
					"error", err, "message_id", userMsg.ID)
			} else {
				turn.Attachments = atts
			}
		}

		h.dispatcher.Notify(ctx, turn)
	}()
}
