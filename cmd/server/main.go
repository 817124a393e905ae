// Code-CLI - chat persistence and relay backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Niceiyke/Code-cli/internal/api"
	"github.com/Niceiyke/Code-cli/internal/config"
	"github.com/Niceiyke/Code-cli/internal/dispatch"
	"github.com/Niceiyke/Code-cli/internal/live"
	"github.com/Niceiyke/Code-cli/internal/middleware"
	"github.com/Niceiyke/Code-cli/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dispatch_enabled", cfg.DispatchEnabled())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	dispatcher := dispatch.New(dispatch.Config{
		WebhookURL:      cfg.WebhookURL,
		CallbackBaseURL: cfg.CallbackBaseURL,
		Timeout:         cfg.DispatchTimeout,
	})
	if !dispatcher.Enabled() {
		slog.Info("Outbound dispatch disabled (N8N_WEBHOOK_URL not set)")
	}

	hub := live.NewHub()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo)
	healthHandler := api.NewHealthHandler(repo)
	sessionHandler := api.NewSessionHandler(baseHandler, dispatcher, hub, cfg.DefaultPath)
	callbackHandler := api.NewCallbackHandler(baseHandler, hub)
	cliHandler := api.NewCLIHandler(baseHandler)
	wsHandler := live.NewWebSocketHandler(repo, hub)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	callbackHandler.RegisterRoutes(r)
	cliHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Create server. WriteTimeout stays 0 so WebSocket feeds are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
