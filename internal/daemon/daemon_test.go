package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/call"
	"github.com/pcarvalho-dev/pigeon/internal/config"
	"github.com/pcarvalho-dev/pigeon/internal/lock"
	"github.com/pcarvalho-dev/pigeon/internal/media"
	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"github.com/pcarvalho-dev/pigeon/internal/store"
	intsync "github.com/pcarvalho-dev/pigeon/internal/sync"
	"github.com/pcarvalho-dev/pigeon/internal/transport"
	"go.uber.org/zap"
)

func TestComponentLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "pigeon-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "pigeon.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	ts := transport.NewSession("ws://127.0.0.1:1/ws", b, logger)

	engine := intsync.NewEngine(db, b, ts, nil, intsync.Config{Username: "alice"}, logger)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer engine.Stop()

	factory, devices := media.Unavailable()
	calls := call.NewEngine(b, ts, factory, devices, nil, logger)
	if err := calls.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer calls.Stop()

	// Inbound frames route through the shared bus to the sync engine.
	updates, unsub := b.Subscribe("message.", 16)
	defer unsub()
	b.Publish(bus.Event{
		Kind:      "frame.message",
		Timestamp: time.Now(),
		Payload: &protocol.Message{
			ID:             "m1",
			ConversationID: "c1",
			Sender:         &protocol.Sender{Username: "bob"},
			Text:           "wired",
			Timestamp:      1,
		},
	})
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("sync engine did not process the routed frame")
	}

	// Without a media binding call setup fails cleanly back to Idle.
	if err := calls.Originate(context.Background(), "c1", false); err == nil {
		t.Fatal("expected media setup to fail without a platform binding")
	}
	if st := calls.State(); st != call.Idle {
		t.Fatalf("call state = %s, want %s", st, call.Idle)
	}

	// A second daemon against the same session is refused.
	if _, err := lock.Acquire(sessionDir); err == nil {
		t.Fatal("second lock acquisition should fail")
	}
}

func TestWebsocketURLDerivation(t *testing.T) {
	cases := []struct {
		cfg  config.Config
		want string
	}{
		{config.Config{ServerURL: "https://chat.example.com"}, "wss://chat.example.com/ws"},
		{config.Config{ServerURL: "http://localhost:8080/"}, "ws://localhost:8080/ws"},
		{config.Config{ServerURL: "https://x", WebsocketURL: "wss://override/rt"}, "wss://override/rt"},
	}
	for _, tc := range cases {
		if got := websocketURL(&tc.cfg); got != tc.want {
			t.Errorf("websocketURL(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}
