// Package daemon runs webapk as a long-lived build service: the HTTP API in
// front of the build coordinator, periodic maintenance and configuration
// hot reload.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/server/httpserver"
	"git.home.luguber.info/inful/webapk/internal/version"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ShutdownTimeout bounds Stop when Run's context ends.
var ShutdownTimeout = 30 * time.Second

// Daemon represents the main daemon service
type Daemon struct {
	config         *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time
	mu             sync.Mutex

	components  *Components
	httpServer  *httpserver.Server
	scheduler   *Scheduler
	maintenance *Maintenance
	watcher     *config.Watcher
}

// New assembles the daemon. configPath may be empty, which disables hot
// reload.
func New(ctx context.Context, cfg *config.Config, configPath string, opts ComponentOptions) (*Daemon, error) {
	components, err := NewComponents(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		config:         cfg,
		configFilePath: configPath,
		components:     components,
		maintenance: &Maintenance{
			StagingDir: cfg.Content.StagingDir,
			MaxAge:     cfg.MaintenanceMaxAge(),
			Events:     components.Events,
		},
	}
	d.status.Store(StatusStopped)

	d.httpServer = httpserver.New(components.Coordinator, components.Resolver, httpserver.Options{
		Listen:         cfg.Server.Listen,
		Version:        version.Version,
		StagingDir:     cfg.Content.StagingDir,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Registry:       components.Registry,
	})

	d.scheduler, err = NewScheduler()
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	if _, err := d.scheduler.ScheduleEvery("maintenance", cfg.MaintenanceInterval(), func() {
		d.maintenance.Run(context.Background())
	}); err != nil {
		_ = components.Close()
		return nil, err
	}

	if configPath != "" {
		d.watcher, err = config.NewWatcher(configPath, d.ReloadConfig)
		if err != nil {
			slog.Warn("Config hot reload disabled", logfields.Path(configPath), logfields.Error(err))
			d.watcher = nil
		}
	}
	return d, nil
}

// Components exposes the wired object graph.
func (d *Daemon) Components() *Components { return d.components }

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string { return d.httpServer.Addr() }

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// Start reconciles the project tree, then starts the coordinator, the API,
// the scheduler and the config watcher. It returns once everything runs.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GetStatus() != StatusStopped {
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting webapk daemon", slog.String("version", version.Version))

	report, err := d.components.Supervisor.Reconcile(ctx)
	if err != nil {
		d.status.Store(StatusError)
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	slog.Info("Project tree reconciled",
		logfields.AppID(report.AppID),
		slog.Bool("repaired", report.Repaired))

	d.components.Coordinator.Start(ctx)

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusError)
		_ = d.components.Coordinator.Stop(ctx)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.scheduler.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		} else {
			slog.Info("Config watcher started", logfields.Path(d.configFilePath))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("webapk daemon started",
		slog.String("listen", d.httpServer.Addr()),
		logfields.Path(d.components.Tree.Root()),
		slog.String("output_dir", d.config.Output.Directory),
		slog.String("staging_dir", d.config.Content.StagingDir))
	return nil
}

// Run starts the daemon and blocks until ctx ends, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// Stop gracefully shuts down the daemon. The build in flight is allowed to
// finish; queued builds are canceled.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping webapk daemon")

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.scheduler.Stop(); err != nil {
		slog.Error("Failed to stop scheduler", logfields.Error(err))
	}
	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Error("Failed to stop HTTP server", logfields.Error(err))
	}

	var stopErr error
	if err := d.components.Coordinator.Stop(ctx); err != nil {
		stopErr = fmt.Errorf("build queue did not drain: %w", err)
	}
	if err := d.components.Close(); err != nil {
		slog.Error("Failed to close components", logfields.Error(err))
	}

	d.status.Store(StatusStopped)
	slog.Info("webapk daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return stopErr
}

// ReloadConfig applies the settings that can change at runtime. Only the
// build timeout is hot reloadable; other changes are logged and need a
// restart.
func (d *Daemon) ReloadConfig(_ context.Context, newConfig *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldTimeout := d.components.Executor.Timeout()
	newTimeout := newConfig.BuildTimeout()
	if oldTimeout != newTimeout {
		d.components.Executor.SetTimeout(newTimeout)
		slog.Info("Build timeout updated",
			slog.Duration("old", oldTimeout),
			slog.Duration("new", newTimeout))
	}
	if newConfig.Server.Listen != d.config.Server.Listen || newConfig.Project.Root != d.config.Project.Root {
		slog.Warn("Configuration change requires a restart",
			slog.String("listen", newConfig.Server.Listen),
			logfields.Path(newConfig.Project.Root))
	}
	d.config.Build.Timeout = newConfig.Build.Timeout
	return nil
}
