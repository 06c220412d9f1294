package conversation

import (
	"context"
	"time"
)

// Sweep deletes expired session rows and drops stale drafts and cached states.
func (e *Engine) Sweep(ctx context.Context) {
	removed, err := e.store.CleanupExpiredSessions(ctx)
	if err != nil {
		e.logger.Error("Session sweeper failed to delete expired sessions", "error", err)
	}

	drafts := e.drafts.Prune(e.window.Now().Add(-e.cfg.DraftTTL))
	states := e.states.Prune()

	if removed > 0 || drafts > 0 || states > 0 {
		e.logger.Info("Session sweep completed",
			"sessions_removed", removed,
			"drafts_removed", drafts,
			"cached_states_removed", states)
	}
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		e.logger.Info("Session sweeper started", "interval", interval, "draft_ttl", e.cfg.DraftTTL)

		for {
			select {
			case <-ticker.C:
				e.Sweep(ctx)
			case <-ctx.Done():
				e.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
