package daemon

import (
	"context"
	"log/slog"
	"time"
)

// SessionStore is the slice of the store the cleanup loop needs.
type SessionStore interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// SessionCleanup periodically removes expired bearer sessions so the
// sessions table does not grow without bound.
func SessionCleanup(logger *slog.Logger, store SessionStore, interval time.Duration) Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deleted, err := store.DeleteExpiredSessions(ctx)
				if err != nil {
					logger.Error("session cleanup failed", slog.String("error", err.Error()))
					continue
				}
				if deleted > 0 {
					logger.Info("expired sessions removed", slog.Int64("count", deleted))
				}
			}
		}
	}
}
