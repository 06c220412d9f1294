// Easely - Canvas assignment assistant for Messenger
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/easely-bot/internal/api"
	"github.com/ashureev/easely-bot/internal/canvas"
	"github.com/ashureev/easely-bot/internal/config"
	"github.com/ashureev/easely-bot/internal/console"
	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/convlog"
	"github.com/ashureev/easely-bot/internal/identity"
	"github.com/ashureev/easely-bot/internal/messenger"
	"github.com/ashureev/easely-bot/internal/middleware"
	"github.com/ashureev/easely-bot/internal/store"
	"github.com/ashureev/easely-bot/internal/syncer"
	"github.com/ashureev/easely-bot/internal/timewindow"
	"github.com/ashureev/easely-bot/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"timezone", cfg.Timezone,
		"messenger", cfg.MessengerEnabled(),
		"console", cfg.ConsoleEnabled)

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

	loc, err := timewindow.ParseZone(cfg.Timezone)
	if err != nil {
		slog.Error("Failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	lms, err := canvas.NewClient(cfg.Canvas, logger)
	if err != nil {
		slog.Error("Failed to initialize Canvas client", "error", err)
		os.Exit(1)
	}
	slog.Info("Canvas client initialized", "base_url", cfg.Canvas.BaseURL, "max_attempts", cfg.Canvas.Retry.MaxAttempts)

	transcript, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	source := syncer.New(lms, repo, logger)
	window := timewindow.New(loc)
	engine := conversation.New(cfg.Conversation, repo, source, lms, window, logger,
		conversation.WithTranscript(transcript))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.StartSweeper(ctx, cfg.SweepInterval)

	limiter := middleware.NewRateLimiter(5, 20, 10*time.Minute)
	limiter.StartEviction(ctx)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	if cfg.FrontendURL != "" {
		r.Use(middleware.CORS([]string{cfg.FrontendURL}))
	}

	api.NewHealthHandler(repo, 5*time.Second).RegisterHealth(r)
	api.NewDiagnosticsHandler(repo, cfg.AdminToken, limiter).RegisterRoutes(r)

	var webhook *api.WebhookHandler
	if cfg.MessengerEnabled() {
		out := messenger.NewClient(messenger.Config{
			GraphAPIURL:     cfg.Messenger.GraphAPIURL,
			PageAccessToken: cfg.Messenger.PageAccessToken,
		}, nil, logger)
		webhook = api.NewWebhookHandler(engine, out, cfg.Messenger.VerifyToken, cfg.Messenger.AppSecret, logger)
		webhook.RegisterRoutes(r)
		slog.Info("Messenger webhook mounted", "signature_check", cfg.Messenger.AppSecret != "")
	}

	sessions := console.NewSessionManager(logger)
	if cfg.ConsoleEnabled {
		wsHandler := console.NewWebSocketHandler(engine, sessions, cfg.FrontendURL, cfg.IsDevelopment(), logger)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter, identity.IPFromRequest))
			r.Use(identity.Middleware(cfg.IsDevelopment()))
			r.Get("/console/ws", wsHandler.ServeHTTP)
		})
		r.Handle("/console", http.RedirectHandler("/console/", http.StatusFound))
		r.Handle("/console/*", http.StripPrefix("/console", web.ConsoleHandler()))
		slog.Info("Developer console mounted", "path", "/console/")
	}

	// Create server.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // console WebSockets stay open
		IdleTimeout:       120 * time.Second,
	}

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

	sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if webhook != nil {
		webhook.Wait()
	}
	engine.Close()

	slog.Info("Server stopped successfully")
}
