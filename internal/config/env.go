package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// envFiles are tried in order; the first one that parses wins.
var envFiles = []string{".env", ".env.local"}

// loadEnvFile loads KEY=VALUE pairs from the first readable env file.
// Existing process environment variables are never overwritten.
func loadEnvFile() error {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to parse env file", logfields.Path(name), logfields.Error(err))
			continue
		}
		slog.Debug("Loaded environment variables", logfields.Path(name))
		return nil
	}
	return errors.New("no .env file found")
}
