package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/webapk/internal/baseline"
	"git.home.luguber.info/inful/webapk/internal/build"
	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/content"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
	"git.home.luguber.info/inful/webapk/internal/git"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/notify"
	"git.home.luguber.info/inful/webapk/internal/output"
	"git.home.luguber.info/inful/webapk/internal/patch"
	"git.home.luguber.info/inful/webapk/internal/pipeline"
	"git.home.luguber.info/inful/webapk/internal/project"
	"git.home.luguber.info/inful/webapk/internal/recovery"
	"git.home.luguber.info/inful/webapk/internal/retry"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

// Components is the process-lifetime object graph shared by the CLI and the
// daemon. Everything is created once from configuration and on-disk state.
type Components struct {
	Config      *config.Config
	Registry    *prom.Registry
	Tree        *project.Tree
	Baseline    *baseline.Store
	Supervisor  *recovery.Supervisor
	Executor    *build.Executor
	Output      *output.Store
	Coordinator *queue.Coordinator
	Resolver    *content.Resolver
	Events      *eventstore.SQLiteStore
	History     *eventstore.BuildHistoryProjection
	Notifier    *notify.Notifier // nil unless events.nats is configured
}

// ComponentOptions adjusts how NewComponents assembles the graph.
type ComponentOptions struct {
	// Toolchain replaces the configured build command when set.
	Toolchain toolchain.Toolchain
	// SkipNotifier disables the NATS notifier even when configured.
	SkipNotifier bool
}

// NewComponents wires the build pipeline, the coordinator and the content
// resolver. The returned value must be closed.
func NewComponents(ctx context.Context, cfg *config.Config, opts ComponentOptions) (*Components, error) {
	tree, err := project.Open(project.LayoutFromConfig(cfg.Project))
	if err != nil {
		return nil, fmt.Errorf("open android project: %w", err)
	}

	c := &Components{Config: cfg, Registry: prom.NewRegistry(), Tree: tree}
	recorder := metrics.NewPrometheusRecorder(c.Registry)

	c.Baseline = baseline.NewStore(cfg.State.Directory)
	c.Supervisor = recovery.NewSupervisor(tree, c.Baseline)
	c.Supervisor.SetRecorder(recorder)
	engine := patch.NewEngine(tree, c.Baseline, patch.Options{
		NameKey:       cfg.Project.NameKey,
		EntryConstant: cfg.Project.EntryConstant,
	})

	c.Output = output.NewStore(cfg.Output.Directory)
	if cfg.Output.S3 != nil {
		mirror, err := output.NewS3Mirror(ctx, cfg.Output.S3)
		if err != nil {
			return nil, fmt.Errorf("configure artifact mirror: %w", err)
		}
		c.Output.SetMirror(mirror)
	}

	tc := opts.Toolchain
	if tc == nil {
		tc = toolchain.NewCommandToolchain(cfg)
	}
	c.Executor = build.NewExecutor(tree, tc, c.Output, cfg.Build.CacheDir, cfg.BuildTimeout())

	runner := pipeline.New(c.Baseline, c.Supervisor, engine, c.Executor)
	runner.SetRecorder(recorder)

	if err := c.openEvents(ctx); err != nil {
		return nil, err
	}
	emitters := queue.MultiEmitter{eventstore.NewEmitter(c.Events, c.History)}
	if cfg.Events.NATS != nil && !opts.SkipNotifier {
		n, err := notify.Connect(cfg.Events.NATS)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("connect notifier: %w", err)
		}
		c.Notifier = n
		emitters = append(emitters, n)
	}

	c.Coordinator = queue.NewCoordinator(runner, queue.Options{
		QueueSize:   cfg.Build.QueueSize,
		HistorySize: cfg.Build.HistorySize,
	})
	c.Coordinator.SetEventEmitter(emitters)
	c.Coordinator.SetRecorder(recorder)

	policy := retry.FromContentConfig(cfg.Content)
	c.Resolver = content.NewResolver(cfg.Content.StagingDir, git.NewClient(cfg.Build.CacheDir, cfg.Content.GitDepth, policy))
	c.Resolver.SetRecorder(recorder)
	return c, nil
}

func (c *Components) openEvents(ctx context.Context) error {
	path := c.Config.State.EventDB
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create event store directory: %w", err)
		}
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	c.Events = store
	c.History = eventstore.NewBuildHistoryProjection(store, c.Config.Build.HistorySize)
	if err := c.History.Rebuild(ctx); err != nil {
		slog.Warn("Failed to rebuild build history", logfields.Error(err))
	}
	return nil
}

// Close releases the notifier connection and the event store.
func (c *Components) Close() error {
	var firstErr error
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Events != nil {
		if err := c.Events.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
