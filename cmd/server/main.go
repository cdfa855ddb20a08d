// meshchat - chat conversation session service for the mesh console
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

	"github.com/ashureev/meshchat/internal/api"
	"github.com/ashureev/meshchat/internal/config"
	"github.com/ashureev/meshchat/internal/events"
	"github.com/ashureev/meshchat/internal/identity"
	"github.com/ashureev/meshchat/internal/middleware"
	"github.com/ashureev/meshchat/internal/store"
	"github.com/ashureev/meshchat/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"chat_api", cfg.Chat.APIURL,
		"provider", cfg.Chat.Provider,
		"model", cfg.Chat.Model,
		"mock_api", cfg.Chat.MockAPI,
	)

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

	reg := workspace.NewRegistry(repo, workspace.Settings{
		APIURL:         cfg.Chat.APIURL,
		APIToken:       cfg.Chat.APIToken,
		Provider:       cfg.Chat.Provider,
		Model:          cfg.Chat.Model,
		RequestTimeout: cfg.Chat.RequestTimeout,
		RateLimitGrace: cfg.Chat.RateLimitGrace,
		SlowNotice:     cfg.Chat.SlowNotice,
		MockAPI:        cfg.Chat.MockAPI,
		BotName:        cfg.Chat.BotName,
		BotAvatar:      cfg.Chat.BotAvatar,
		UserAvatar:     cfg.Chat.UserAvatar,
	}, logger)
	defer reg.CloseAll()

	baseHandler := api.NewHandler(repo, reg)
	healthHandler := api.NewHealthHandler(repo)
	chatHandler := api.NewChatHandler(baseHandler)
	prefsHandler := api.NewPreferencesHandler(baseHandler)
	wsHandler := events.NewHandler(reg, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Health checks do not create browser sessions.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		prefsHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// No WriteTimeout: /ws/chat connections are long lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workspace.RunTTLWorker(gctx, repo, reg, cfg.SessionTTL, func(userID, sessionID string) {
			slog.Info("Browser session expired", "user_id", userID, "session_id", sessionID)
		})
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		reg.CloseAll()
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
