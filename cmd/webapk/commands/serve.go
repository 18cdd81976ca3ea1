package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/webapk/internal/daemon"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Listen   string `short:"l" help:"Override server.listen"`
	NoReload bool   `name:"no-reload" help:"Do not watch the configuration file"`
}

func (s *ServeCmd) Run(_ *Global, root *CLI) error {
	cfg, err := LoadConfig(root)
	if err != nil {
		return err
	}
	if s.Listen != "" {
		cfg.Server.Listen = s.Listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := root.Config
	if s.NoReload {
		configPath = ""
	}
	d, err := daemon.New(ctx, cfg, configPath, daemon.ComponentOptions{})
	if err != nil {
		return err
	}
	slog.Info("Daemon starting, waiting for shutdown signal...")
	return d.Run(ctx)
}
