package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/workspace"
)

// eventPruner is the part of the event store maintenance needs.
type eventPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Maintenance removes stale staging workspaces and old build events.
type Maintenance struct {
	StagingDir string
	MaxAge     time.Duration
	Events     eventPruner
	Now        func() time.Time
}

// MaintenanceReport counts what one pass removed.
type MaintenanceReport struct {
	Workspaces int
	Events     int64
}

// Run performs one maintenance pass. Failures are logged and the pass
// continues with the next task.
func (m *Maintenance) Run(ctx context.Context) MaintenanceReport {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	at := now()

	var report MaintenanceReport
	n, err := workspace.Prune(m.StagingDir, m.MaxAge, at)
	if err != nil {
		slog.Warn("Failed to prune staging workspaces", logfields.Path(m.StagingDir), logfields.Error(err))
	}
	report.Workspaces = n

	if m.Events != nil {
		deleted, err := m.Events.DeleteBefore(ctx, at.Add(-m.MaxAge))
		if err != nil {
			slog.Warn("Failed to prune build events", logfields.Error(err))
		}
		report.Events = deleted
	}

	slog.Info("Maintenance finished",
		slog.Int("workspaces_removed", report.Workspaces),
		slog.Int64("events_removed", report.Events))
	return report
}
