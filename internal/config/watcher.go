package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// ReloadFunc receives every successfully loaded configuration after a change.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// Watcher monitors the configuration file and invokes a ReloadFunc on change.
type Watcher struct {
	configPath   string
	onReload     ReloadFunc
	watcher      *fsnotify.Watcher
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher for configPath.
func NewWatcher(configPath string, onReload ReloadFunc) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &Watcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      w,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: time.Second,
	}, nil
}

// SetDebounce overrides the delay between the last file event and the reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounceTime = d
	}
}

// Start begins monitoring. The directory is watched because editors often
// replace the file instead of writing it in place.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	slog.Info("Starting configuration watcher", logfields.Path(w.configPath))

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop ends monitoring; it is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Error(err))
		}
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(w.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Config file change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.triggerReload()
			case event.Has(fsnotify.Remove):
				slog.Warn("Config file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() {
				if err := w.performReload(ctx); err != nil {
					slog.Error("Failed to reload configuration", logfields.Error(err))
				}
			})
		}
	}
}

func (w *Watcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
		// reload already pending
	}
}

func (w *Watcher) performReload(ctx context.Context) error {
	slog.Info("Reloading configuration", logfields.Path(w.configPath))

	cfg, err := Load(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if w.onReload == nil {
		return nil
	}
	if err := w.onReload(ctx, cfg); err != nil {
		return fmt.Errorf("failed to apply new configuration: %w", err)
	}
	slog.Info("Configuration reloaded")
	return nil
}
