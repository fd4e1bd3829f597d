package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/postflow/pkg/queue"
)

// SweepTaskName is the periodic task name for the proactive refresh sweep
const SweepTaskName = "credential_refresh_sweep"

// sweepBatchSize bounds one sweep run so a large account base spreads
// refreshes across runs instead of bursting the platforms' token endpoints.
const sweepBatchSize = 100

// SweepHandler returns the queue handler for the periodic refresh sweep.
// Register it on the worker and add SweepTaskName to the Scheduler.
func (m *Manager) SweepHandler() queue.Handler {
	return queue.NewPeriodicTaskHandler(SweepTaskName, m.sweep)
}

// sweep proactively refreshes tokens nearing expiry so publish jobs rarely
// pay the refresh latency. Accounts whose grant is revoked get deactivated
// by the refresh path, so they never re-enter the expiring list and the
// sweep cannot loop on them.
func (m *Manager) sweep(ctx context.Context) error {
	accounts, err := m.repo.ListExpiring(ctx, time.Now().Add(DefaultExpiryBuffer), sweepBatchSize)
	if err != nil {
		return err
	}

	var refreshed, deactivated, failed int
	for i := range accounts {
		acc := &accounts[i]

		if _, err := m.refresh(ctx, acc); err != nil {
			switch {
			case errors.Is(err, ErrReauthRequired):
				deactivated++
			default:
				failed++
				m.logger.WarnContext(ctx, "sweep refresh failed, will retry next run",
					slog.String("account_id", acc.ID.String()),
					slog.String("platform", acc.Platform),
					slog.String("error", err.Error()))
			}
			continue
		}
		refreshed++
	}

	m.logger.InfoContext(ctx, "credential sweep finished",
		slog.Int("checked", len(accounts)),
		slog.Int("refreshed", refreshed),
		slog.Int("deactivated", deactivated),
		slog.Int("failed", failed))

	return nil
}
