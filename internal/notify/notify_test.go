package notify

import (
	"encoding/json"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webapk/internal/build/queue"
	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
)

var _ queue.BuildEventEmitter = (*Notifier)(nil)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestNotifierPublishesLifecycle(t *testing.T) {
	pub := &fakePublisher{}
	n := newNotifier(pub, "webapk.builds")
	ctx := t.Context()

	require.NoError(t, n.EmitBuildQueued(ctx, "b1", eventstore.BuildQueuedMeta{AppID: "demo", Position: 1}))
	require.NoError(t, n.EmitBuildStarted(ctx, "b1", eventstore.BuildStartedMeta{AppID: "demo", WorkerID: "worker-0"}))
	require.NoError(t, n.EmitBuildCompleted(ctx, "b1", eventstore.BuildCompletedMeta{AppID: "demo", ArtifactPath: "/out/demo/demo.apk", DurationMS: 1200}))
	require.NoError(t, n.EmitBuildFailed(ctx, "b2", eventstore.BuildFailedMeta{AppID: "other", Stage: "build", Error: "exit 1"}))
	require.NoError(t, n.EmitBuildCanceled(ctx, "b3", eventstore.BuildCanceledMeta{AppID: "third"}))

	subjects := make([]string, 0, len(pub.msgs))
	for _, m := range pub.msgs {
		subjects = append(subjects, m.subject)
	}
	assert.Equal(t, []string{
		"webapk.builds.queued",
		"webapk.builds.started",
		"webapk.builds.completed",
		"webapk.builds.failed",
		"webapk.builds.canceled",
	}, subjects)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.msgs[2].data, &msg))
	assert.Equal(t, eventstore.TypeBuildCompleted, msg.Type)
	assert.Equal(t, "b1", msg.BuildID)
	assert.False(t, msg.Timestamp.IsZero())

	var meta eventstore.BuildCompletedMeta
	require.NoError(t, json.Unmarshal(msg.Data, &meta))
	assert.Equal(t, "/out/demo/demo.apk", meta.ArtifactPath)
	assert.EqualValues(t, 1200, meta.DurationMS)
}

func TestNotifierPublishError(t *testing.T) {
	n := newNotifier(&fakePublisher{err: stdErrors.New("nats: connection closed")}, "x")
	err := n.EmitBuildCanceled(t.Context(), "b1", eventstore.BuildCanceledMeta{AppID: "demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.canceled")
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(nil)
	require.Error(t, err)
	_, err = Connect(&config.NATSConfig{})
	require.Error(t, err)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, newNotifier(&fakePublisher{}, "x").Close())
}
