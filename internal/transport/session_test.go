package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"go.uber.org/zap"
)

// testServer upgrades incoming connections and exposes the frames it
// receives plus a way to push frames to the client.
type testServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.received <- data
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) push(t *testing.T, frame string) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		t.Fatal("no server-side connection")
	}
	conn := ts.conns[len(ts.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = c.Close()
	}
	ts.conns = nil
}

func newTestSession(t *testing.T, ts *testServer, b *bus.Bus) *Session {
	t.Helper()
	s := NewSession(ts.url(), b, zap.NewNop())
	s.ReconnectDelay = 50 * time.Millisecond
	s.SetToken("test-token")
	t.Cleanup(s.Close)
	return s
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event %q", kind)
		}
	}
}

func TestConnectRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	s := NewSession(ts.url(), bus.New(), zap.NewNop())
	defer s.Close()

	if err := s.Connect(); err != ErrNoToken {
		t.Errorf("Connect() error = %v, want ErrNoToken", err)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected", s.State())
	}
}

func TestConnectPublishesConnected(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 16)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}

	waitEvent(t, ch, "transport.connected")
	if s.State() != Connected {
		t.Errorf("state = %v, want Connected", s.State())
	}
}

func TestConnectSingleFlight(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, bus.New())

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	// Second connect while open is a no-op.
	if err := s.Connect(); err != nil {
		t.Errorf("second Connect() error = %v, want nil no-op", err)
	}

	time.Sleep(100 * time.Millisecond)
	ts.mu.Lock()
	n := len(ts.conns)
	ts.mu.Unlock()
	if n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestSendFrame(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, bus.New())
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}

	if err := s.Send(protocol.NewSendMessage("42", "hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-ts.received:
		var frame struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversation_id"`
			Text           string `json:"text"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		if frame.Type != "message" || frame.ConversationID != "42" || frame.Text != "hello" {
			t.Errorf("frame = %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, bus.New())

	if err := s.Send(protocol.NewTyping("42")); err != ErrNotConnected {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestInboundFramePublished(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("frame.", 16)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}

	ts.push(t, `{"message":{"id":"9001","conversation_id":"42","text":"hi","timestamp":1}}`)

	evt := waitEvent(t, ch, "frame.message")
	msg, ok := evt.Payload.(*protocol.Message)
	if !ok {
		t.Fatalf("payload type = %T", evt.Payload)
	}
	if msg.ID != "9001" || msg.ConversationRef() != "42" {
		t.Errorf("message = %+v", msg)
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("frame.", 16)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}

	ts.push(t, `{"type":"server_gossip"}`)
	ts.push(t, `{"type":"call_ended","conversation_id":"42"}`)

	// Only the known frame comes through; the unknown one is dropped.
	evt := waitEvent(t, ch, "frame.call_ended")
	if _, ok := evt.Payload.(*protocol.CallEnded); !ok {
		t.Errorf("payload type = %T", evt.Payload)
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 32)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ch, "transport.connected")

	ts.dropAll()
	waitEvent(t, ch, "transport.disconnected")

	// Exactly one reconnect attempt fires after the fixed delay.
	waitEvent(t, ch, "transport.connected")
	if s.State() != Connected {
		t.Errorf("state = %v, want Connected after reconnect", s.State())
	}
}

func TestNoReconnectAfterTokenCleared(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 32)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ch, "transport.connected")

	s.SetToken("")
	ts.dropAll()
	waitEvent(t, ch, "transport.disconnected")

	time.Sleep(200 * time.Millisecond)
	if s.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected (no token, no reconnect)", s.State())
	}
}

func TestCloseIsIntentional(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 32)
	defer unsub()

	s := newTestSession(t, ts, b)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ch, "transport.connected")

	s.Close()
	time.Sleep(200 * time.Millisecond)
	if s.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected after Close", s.State())
	}

	ts.mu.Lock()
	n := len(ts.conns)
	ts.mu.Unlock()
	if n != 1 {
		t.Errorf("server saw %d connections, want 1 (no reconnect after Close)", n)
	}
}
