// Package notify publishes build lifecycle events to NATS.
//
// Every event is published as a JSON Message on <subject>.<kind>, where kind
// is one of queued, started, completed, failed or canceled, so subscribers
// can listen to webapk.builds.> or to a single transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// Message is the JSON document published for each event.
type Message struct {
	Type      string          `json:"type"`
	BuildID   string          `json:"build_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// publisher is the subset of *nats.Conn the notifier needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier implements queue.BuildEventEmitter on top of a NATS connection.
type Notifier struct {
	pub     publisher
	subject string
	conn    *nats.Conn
}

// Connect dials the configured NATS server.
func Connect(cfg *config.NATSConfig) (*Notifier, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("webapk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = config.DefaultNATSSubject
	}
	n := newNotifier(conn, subject)
	n.conn = conn
	slog.Info("NATS notifier connected", logfields.URL(cfg.URL), slog.String("subject", subject))
	return n, nil
}

func newNotifier(pub publisher, subject string) *Notifier {
	return &Notifier{pub: pub, subject: subject}
}

// Close drains the connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Subject returns the subject an event type is published on.
func (n *Notifier) Subject(eventType string) string {
	kind := strings.ToLower(strings.TrimPrefix(eventType, "Build"))
	return n.subject + "." + kind
}

func (n *Notifier) publish(ctx context.Context, e eventstore.Event, err error) error {
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		Type:      e.Type(),
		BuildID:   e.BuildID(),
		Timestamp: e.Timestamp(),
		Data:      e.Payload(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	subject := n.Subject(e.Type())
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	slog.DebugContext(ctx, "Published build event", slog.String("subject", subject), logfields.JobID(e.BuildID()))
	return nil
}

func (n *Notifier) EmitBuildQueued(ctx context.Context, buildID string, meta eventstore.BuildQueuedMeta) error {
	e, err := eventstore.NewBuildQueued(buildID, meta)
	return n.publish(ctx, e, err)
}

func (n *Notifier) EmitBuildStarted(ctx context.Context, buildID string, meta eventstore.BuildStartedMeta) error {
	e, err := eventstore.NewBuildStarted(buildID, meta)
	return n.publish(ctx, e, err)
}

func (n *Notifier) EmitBuildCompleted(ctx context.Context, buildID string, meta eventstore.BuildCompletedMeta) error {
	e, err := eventstore.NewBuildCompleted(buildID, meta)
	return n.publish(ctx, e, err)
}

func (n *Notifier) EmitBuildFailed(ctx context.Context, buildID string, meta eventstore.BuildFailedMeta) error {
	e, err := eventstore.NewBuildFailed(buildID, meta)
	return n.publish(ctx, e, err)
}

func (n *Notifier) EmitBuildCanceled(ctx context.Context, buildID string, meta eventstore.BuildCanceledMeta) error {
	e, err := eventstore.NewBuildCanceled(buildID, meta)
	return n.publish(ctx, e, err)
}
