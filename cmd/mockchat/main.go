// mockchat - local stand-in for the chat backend
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

	"github.com/ashureev/meshchat/internal/config"
	"github.com/ashureev/meshchat/internal/mockchat"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	mock := mockchat.New(mockchat.Config{
		RateLimitRequests: cfg.Mock.RateLimitRequests,
		RateLimitWindow:   cfg.Mock.RateLimitWindow,
		SlowDelay:         cfg.Mock.SlowDelay,
		Logger:            logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Mount("/", mock.Router())

	srv := &http.Server{
		Addr:              ":" + cfg.Mock.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mock.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("Mock chat backend listening", "addr", srv.Addr,
			"rate_limit", cfg.Mock.RateLimitRequests, "window", cfg.Mock.RateLimitWindow)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Mock chat backend stopped with error", "error", err)
		os.Exit(1)
	}
}
