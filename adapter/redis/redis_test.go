package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/types"
)

func testEvent() *types.EventEnvelope {
	return &types.EventEnvelope{
		EventID:       "evt-001",
		Ts:            "2026-02-07T12:00:00.000Z",
		SchemaVersion: types.SchemaVersion,
		SessionID:     "sess-1",
		RunID:         "run-001",
		EventType:     types.EventTypeArtifact,
		Level:         types.LevelInfo,
		Msg:           "Artifact produced: report.md",
		ArtifactRefs:  []types.ArtifactRef{{Path: "~/report.md", Type: "file", Hash: "sha256:ab"}},
		Hash:          "cafe",
	}
}

// subscribe listens on channel and forwards the first message. miniredis
// delivers synchronously, so the reader must be running before Publish.
func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string) <-chan miniredis.PubsubMessage {
	t.Helper()
	sub := mr.NewSubscriber()
	t.Cleanup(sub.Close)
	sub.Subscribe(channel)
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() { ch <- <-sub.Messages() }()
	return ch
}

func receive(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no pub/sub message")
	}
	return miniredis.PubsubMessage{}
}

func TestPublish(t *testing.T) {
	for _, channel := range []string{"", "custom:notifications"} {
		want := channel
		if want == "" {
			want = DefaultChannel
		}
		t.Run(want, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: channel, Retries: 1})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer func() { _ = a.Close() }()
			if a.Channel() != want {
				t.Fatalf("Channel() = %q, want %q", a.Channel(), want)
			}

			ch := subscribe(t, mr, want)
			if err := a.Publish(t.Context(), testEvent()); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			msg := receive(t, ch)
			if msg.Channel != want {
				t.Errorf("channel = %q", msg.Channel)
			}

			var n adapter.Notification
			if err := json.Unmarshal([]byte(msg.Message), &n); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if n.EventID != "evt-001" || n.RunID != "run-001" || n.EventType != "artifact" {
				t.Errorf("notification = %+v", n)
			}
			if len(n.Artifacts) != 1 || n.Artifacts[0] != "~/report.md" {
				t.Errorf("artifacts = %v", n.Artifacts)
			}
		})
	}
}

func TestPublish_Unreachable(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second, Backoff: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestPublish_AfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3, Backoff: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A closed client is not retried, so the hour-long backoff never runs.
	err = a.Publish(t.Context(), testEvent())
	if err == nil {
		t.Fatal("expected error after close")
	}
	if !errors.Is(err, goredis.ErrClosed) {
		t.Errorf("err = %v, want closed client", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"bad url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		if _, err := New(tt.cfg); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	a, err := New(Config{URL: "redis://localhost:6379"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()
	if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout {
		t.Errorf("defaults = %q %v", a.config.Channel, a.config.Timeout)
	}
}
