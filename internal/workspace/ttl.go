package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/meshchat/internal/store"
)

const ttlWorkerInterval = 5 * time.Minute

// CleanupCallback is called for each browser session removed by the TTL worker.
type CleanupCallback func(userID, sessionID string)

// RunTTLWorker periodically closes browser sessions idle for longer than
// ttl and deletes their persisted conversations. It returns when ctx is done.
func RunTTLWorker(ctx context.Context, repo store.Repository, reg *Registry, ttl time.Duration, onCleanup CleanupCallback) error {
	return runTTLWorker(ctx, repo, reg, ttl, ttlWorkerInterval, onCleanup)
}

func runTTLWorker(ctx context.Context, repo store.Repository, reg *Registry, ttl, interval time.Duration, onCleanup CleanupCallback) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			CleanupExpiredSessions(ctx, repo, reg, ttl, onCleanup)
		case <-ctx.Done():
			slog.Info("TTL worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// CleanupExpiredSessions runs one sweep and returns the number of sessions removed.
func CleanupExpiredSessions(ctx context.Context, repo store.Repository, reg *Registry, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := repo.GetExpiredBrowserSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.Info("TTL worker found expired sessions", "count", len(expired))

	cleaned := 0
	for _, sess := range expired {
		if reg != nil {
			reg.Close(ctx, sess.UserID, sess.SessionID)
		}

		if err := repo.DeleteBrowserSession(ctx, sess.UserID, sess.SessionID); err != nil {
			if ctx.Err() != nil {
				slog.Debug("TTL worker: context canceled during cleanup", "user_id", sess.UserID, "error", err)
				return cleaned
			}
			slog.Warn("TTL worker failed to delete browser session after retries",
				"error", err,
				"user_id", sess.UserID,
				"session_id", sess.SessionID)
			continue
		}

		if onCleanup != nil {
			onCleanup(sess.UserID, sess.SessionID)
		}
		cleaned++
	}

	slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	return cleaned
}
