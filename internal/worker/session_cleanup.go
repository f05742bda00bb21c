package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/pkg/logger"
)

const DefaultCleanupInterval = time.Hour

// SessionCleanupWorker prunes expired rows from session stores that have no
// native expiry.
type SessionCleanupWorker struct {
	pruner   repository.SessionPruner
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewSessionCleanupWorker(pruner repository.SessionPruner, interval time.Duration, log *logger.Logger) *SessionCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SessionCleanupWorker{
		pruner:   pruner,
		interval: interval,
		logger:   log.With("session_cleanup"),
		now:      time.Now,
	}
}

// Start runs one pass immediately and then one per interval until ctx is done
func (w *SessionCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting session cleanup", "interval", w.interval.String())
	if _, err := w.Cleanup(ctx); err != nil {
		w.logger.Error(err, "Failed to clean up sessions")
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down session cleanup")
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Failed to clean up sessions")
			}
		}
	}
}

// Cleanup deletes every session that expired before now
func (w *SessionCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC()

	rows, err := w.pruner.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	if rows > 0 {
		w.logger.Info("Cleaned up expired sessions", "count", rows, "before", cutoff.Format(time.RFC3339))
	}
	return rows, nil
}
