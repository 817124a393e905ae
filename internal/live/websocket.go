package live

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Niceiyke/Code-cli/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler upgrades chat clients onto a session's event feed.
type WebSocketHandler struct {
	repo store.Repository
	hub  *Hub
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo store.Repository, hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{repo: repo, hub: hub}
}

// RegisterRoutes registers the live-feed route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{sessionID}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session for live feed", "error", err, "session_id", sessionID)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("WebSocket close error", "error", closeErr)
		}
	}()

	// The feed is write-only; CloseRead watches for client disconnect and
	// cancels the context.
	ctx := ws.CloseRead(r.Context())

	ch := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(sessionID, ch)

	slog.Info("Live feed connected", "session_id", sessionID, "ip", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				slog.Error("Failed to encode live event", "error", err, "session_id", sessionID)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, body); err != nil {
				slog.Debug("Live feed write failed, dropping subscriber",
					"error", err, "session_id", sessionID)
				return
			}
		}
	}
}
