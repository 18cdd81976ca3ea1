package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithBuildID(t *testing.T) {
	ctx := WithBuildID(context.Background(), "build-123")

	lc := extractLogContext(ctx)
	if lc.BuildID != "build-123" {
		t.Errorf("expected build-123, got %s", lc.BuildID)
	}
}

func TestContextValuesAccumulate(t *testing.T) {
	ctx := WithBuildID(context.Background(), "b1")
	ctx = WithAppID(ctx, "demo")
	ctx = WithStage(ctx, "patch")

	lc := extractLogContext(ctx)
	if lc.BuildID != "b1" || lc.AppID != "demo" || lc.Stage != "patch" {
		t.Fatalf("unexpected log context: %+v", lc)
	}

	ctx = WithStage(ctx, "build")
	if extractLogContext(ctx).Stage != "build" {
		t.Fatalf("stage should be overwritten")
	}
}

func TestInfoContextIncludesAttributes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithStage(WithBuildID(context.Background(), "b42"), "recovery")
	InfoContext(ctx, "tree reconciled", slog.String("app", "demo"))

	out := buf.String()
	for _, want := range []string{"build.id=b42", "stage=recovery", "app=demo", "tree reconciled"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output: %s", want, out)
		}
	}
}
