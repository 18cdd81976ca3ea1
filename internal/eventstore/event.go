package eventstore

import (
	"encoding/json"
	"time"
)

// Build lifecycle event types.
const (
	TypeBuildQueued    = "BuildQueued"
	TypeBuildStarted   = "BuildStarted"
	TypeBuildCompleted = "BuildCompleted"
	TypeBuildFailed    = "BuildFailed"
	TypeBuildCanceled  = "BuildCanceled"
)

// Event represents a domain event in the build lifecycle.
type Event interface {
	// ID returns the store-assigned identifier (zero before persisting).
	ID() int64
	// BuildID returns the build identifier this event belongs to.
	BuildID() string
	// Type returns the event type name.
	Type() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// Payload returns the JSON-encoded event data.
	Payload() []byte
	// Metadata returns optional event metadata.
	Metadata() map[string]string
}

// BaseEvent provides a default implementation of Event.
type BaseEvent struct {
	EventID        int64
	EventBuildID   string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
	EventMetadata  map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) BuildID() string             { return e.EventBuildID }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }

// Decode unmarshals an event payload into v.
func Decode(e Event, v any) error {
	if err := json.Unmarshal(e.Payload(), v); err != nil {
		return wrap(ErrUnmarshalPayloadFailed, err)
	}
	return nil
}
