// Package transport maintains the single logical WebSocket connection to
// the server. It owns connect/reconnect policy and frame encode/decode;
// reliability beyond that is the sync engine's job (outbox + reconcile),
// not the transport's. There is no acknowledgment layer.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"go.uber.org/zap"
)

// State represents the connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

const (
	// DefaultReconnectDelay is the fixed delay before the single automatic
	// reconnect attempt after an unexpected close.
	DefaultReconnectDelay = 10 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrNoToken is returned by Connect when no auth token is set.
	ErrNoToken = errors.New("transport: no auth token")
	// ErrNotConnected is returned by Send when the session is not open.
	// Callers treat it as transient and fall back to the outbox.
	ErrNotConnected = errors.New("transport: not connected")
)

// Session is a single logical connection to the server with automatic
// reconnection. Inbound frames are decoded and published on the bus under
// the "frame." namespace; connection changes under "transport.".
type Session struct {
	url    string
	bus    *bus.Bus
	logger *zap.Logger
	dialer *websocket.Dialer

	// ReconnectDelay may be lowered in tests. Read once per close.
	ReconnectDelay time.Duration

	mu        sync.Mutex
	token     string
	state     State
	conn      *websocket.Conn
	gen       uint64 // bumped per open and per intentional close; stales old read loops
	reconnect *time.Timer
}

// NewSession creates a session for the given websocket URL. No connection
// is attempted until Connect.
func NewSession(url string, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		url:            url,
		bus:            b,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		ReconnectDelay: DefaultReconnectDelay,
		state:          Disconnected,
	}
}

// SetToken sets or clears the auth token. Clearing it suppresses any
// pending reconnect at fire time.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the session. It is a no-op if a session is already open or
// opening, and fails fast when no token is present.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	if s.token == "" {
		s.mu.Unlock()
		return ErrNoToken
	}
	s.state = Connecting
	token := s.token
	s.mu.Unlock()
	s.publishState(Connecting)

	header := map[string][]string{"Authorization": {"Bearer " + token}}
	conn, _, err := s.dialer.Dial(s.url, header)

	s.mu.Lock()
	if err != nil {
		s.state = Disconnected
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.publishState(Disconnected)
		s.logger.Warn("websocket dial failed", zap.Error(err))
		return err
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.conn = conn
	s.state = Connected
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.publishState(Connected)
	s.bus.Publish(bus.Event{Kind: "transport.connected", Timestamp: time.Now()})
	s.logger.Info("websocket connected", zap.String("url", s.url))

	go s.readLoop(conn, gen)
	go s.pingLoop(conn, gen)
	return nil
}

// Close tears the session down intentionally. No reconnect is scheduled.
func (s *Session) Close() {
	s.mu.Lock()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	conn := s.conn
	s.conn = nil
	wasOpen := s.state != Disconnected
	s.state = Disconnected
	s.gen++ // stale any running read loop
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasOpen {
		s.publishState(Disconnected)
	}
}

// Send encodes and writes a frame. Fire-and-forget: a nil return means the
// frame was handed to the socket, not that the server processed it.
func (s *Session) Send(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		kind, payload, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.UnknownFrameError
			if errors.As(err, &unknown) {
				s.logger.Warn("ignoring unknown frame", zap.String("type", unknown.Type))
			} else {
				s.logger.Warn("malformed frame", zap.Error(err))
			}
			continue
		}
		s.bus.Publish(bus.Event{
			Kind:      "frame." + kind,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		stale := s.gen != gen || s.conn != conn
		s.mu.Unlock()
		if stale {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// handleClose processes an unexpected close from the read loop.
func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		// Intentional close or a newer session superseded this one.
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = Disconnected
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.logger.Warn("websocket closed", zap.Error(err))
	s.publishState(Disconnected)
	s.bus.Publish(bus.Event{Kind: "transport.disconnected", Timestamp: time.Now()})
}

// scheduleReconnectLocked arms the single reconnect timer. A timer that is
// already pending is left alone, so close storms never stack attempts.
func (s *Session) scheduleReconnectLocked() {
	if s.reconnect != nil {
		return
	}
	s.reconnect = time.AfterFunc(s.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		skip := s.token == "" || s.state != Disconnected
		s.mu.Unlock()
		if skip {
			return
		}
		if err := s.Connect(); err != nil {
			s.logger.Warn("reconnect attempt failed", zap.Error(err))
		}
	})
}

func (s *Session) publishState(st State) {
	s.bus.Publish(bus.Event{
		Kind:      "transport.state_changed",
		Timestamp: time.Now(),
		Payload:   st,
	})
}
