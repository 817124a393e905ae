package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Niceiyke/Code-cli/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CLIHandler handles CLI-profile endpoints.
type CLIHandler struct {
	*Handler
}

// NewCLIHandler creates a new CLI-profile handler.
func NewCLIHandler(base *Handler) *CLIHandler {
	return &CLIHandler{Handler: base}
}

// RegisterRoutes registers CLI-profile routes.
func (h *CLIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clis", func(r chi.Router) {
		r.Post("/", h.CreateCLI)
		r.Get("/", h.ListCLIs)
		r.Get("/{cliID}", h.GetCLI)
		r.Delete("/{cliID}", h.DeleteCLI)
	})
}

// CreateCLI creates a new CLI profile.
func (h *CLIHandler) CreateCLI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	cli, err := h.repo.CreateCLI(r.Context(), req.Name, req.Description)
	if err != nil {
		slog.Error("Failed to create cli profile", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create cli")
		return
	}
	JSON(w, http.StatusOK, cli)
}

// ListCLIs returns all CLI profiles, newest first.
func (h *CLIHandler) ListCLIs(w http.ResponseWriter, r *http.Request) {
	clis, err := h.repo.ListCLIs(r.Context())
	if err != nil {
		slog.Error("Failed to list cli profiles", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list clis")
		return
	}
	if clis == nil {
		clis = []*domain.CLI{}
	}
	JSON(w, http.StatusOK, clis)
}

// GetCLI returns one CLI profile.
func (h *CLIHandler) GetCLI(w http.ResponseWriter, r *http.Request) {
	cliID := chi.URLParam(r, "cliID")

	cli, err := h.repo.GetCLI(r.Context(), cliID)
	if err != nil {
		slog.Error("Failed to get cli profile", "error", err, "cli_id", cliID)
		Error(w, http.StatusInternalServerError, "failed to get cli")
		return
	}
	if cli == nil {
		Error(w, http.StatusNotFound, "CLI not found")
		return
	}
	JSON(w, http.StatusOK, cli)
}

// DeleteCLI removes a CLI profile.
func (h *CLIHandler) DeleteCLI(w http.ResponseWriter, r *http.Request) {
	cliID := chi.URLParam(r, "cliID")

	deleted, err := h.repo.DeleteCLI(r.Context(), cliID)
	if err != nil {
		slog.Error("Failed to delete cli profile", "error", err, "cli_id", cliID)
		Error(w, http.StatusInternalServerError, "failed to delete cli")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "CLI not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}
