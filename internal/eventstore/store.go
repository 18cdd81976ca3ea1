package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append persists an event.
	Append(ctx context.Context, event Event) error

	// GetByBuildID retrieves all events for a specific build.
	GetByBuildID(ctx context.Context, buildID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// DeleteBefore removes events older than cutoff and returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
