// Package commands implements the webapk command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/errors"
)

// Global carries values shared by every subcommand.
type Global struct {
	Stdout io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"webapk.yaml" env:"WEBAPK_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build one APK and exit"`
	Serve   ServeCmd   `cmd:"" help:"Run the build service (HTTP API, queue, maintenance)"`
	Recover RecoverCmd `cmd:"" help:"Reconcile the Android project tree with the recorded baseline"`
	History HistoryCmd `cmd:"" help:"List recent builds from the event store"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// LoadConfig loads the configuration named by --config. A missing file
// yields the defaults so a one-shot build works without one.
func LoadConfig(root *CLI) (*config.Config, error) {
	if _, err := os.Stat(root.Config); os.IsNotExist(err) {
		slog.Info("No configuration file found, using defaults", slog.String("path", root.Config))
		cfg := config.Default()
		configureLogging(cfg, root.Verbose)
		return cfg, nil
	}
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to load configuration").
			WithContext("path", root.Config).
			Build()
	}
	configureLogging(cfg, root.Verbose)
	return cfg, nil
}

// configureLogging replaces the bootstrap logger with the configured one.
// --verbose always wins over the configured level.
func configureLogging(cfg *config.Config, verbose bool) {
	level := cfg.Logging.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
