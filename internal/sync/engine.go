// Package sync reconciles the local message model with the server: it
// drains the outbox on reconnect, absorbs inbound deltas (new messages,
// edits, deletes, reactions, receipts), and keeps the durable store and
// the in-memory model in agreement. It subscribes to "frame." and
// "transport." events on the bus and processes them one at a time, so no
// two mutations ever interleave.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"github.com/pcarvalho-dev/pigeon/internal/rest"
	"github.com/pcarvalho-dev/pigeon/internal/store"
	"go.uber.org/zap"
)

// Sender sends a frame to the server. Implemented by transport.Session;
// a send failure is transient and falls back to the outbox.
type Sender interface {
	Send(frame any) error
}

// Notifier is invoked for inbound messages and reactions when the target
// conversation is not the active one. Implemented by the platform
// notification facility; nil disables notifications.
type Notifier interface {
	NotifyMessage(conv store.Conversation, msg store.Message)
	NotifyReaction(conv store.Conversation, msg store.Message, emoji string)
}

// Config carries per-user engine settings.
type Config struct {
	// Username of the local user; inbound senders matching it normalize
	// to store.SenderMe.
	Username string
	// SendReadReceipts gates outbound mark_read frames.
	SendReadReceipts bool
}

// Engine is the message sync engine.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	sender   Sender
	api      *rest.Client
	notifier Notifier
	cfg      Config
	logger   *zap.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
	active        string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a sync engine. api and notifier may be nil in tests.
func NewEngine(db *store.DB, b *bus.Bus, sender Sender, api *rest.Client, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:            db,
		bus:           b,
		sender:        sender,
		api:           api,
		cfg:           cfg,
		logger:        logger,
		conversations: make(map[string]*Conversation),
	}
}

// SetNotifier wires the platform notification facility.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

// Start loads the durable model and subscribes to transport events.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.load(); err != nil {
		return err
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("frame.", 256)
	tch, tunsub := e.bus.Subscribe("transport.connected", 8)

	go func() {
		defer unsub()
		defer tunsub()
		for {
			select {
			case evt := <-ch:
				e.handleFrame(evt)
			case <-tch:
				e.DrainOutbox()
			case <-e.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleFrame(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *protocol.Message:
		e.Reconcile(p)
	case *protocol.MessageEdited:
		e.ApplyEdit(p)
	case *protocol.MessageDeleted:
		e.ApplyDelete(p)
	case *protocol.MessageReaction:
		e.ApplyReaction(p)
	case *protocol.MessageRead:
		e.ApplyReceipt(p.ConversationID, p.MessageID, true)
	case *protocol.MessageDelivered:
		e.ApplyReceipt(p.ConversationID, p.MessageID, false)
	case *protocol.UserTyping:
		e.bus.Publish(bus.Event{Kind: "conversation.typing", Timestamp: time.Now(), Payload: p})
	case *protocol.UserStatus:
		e.bus.Publish(bus.Event{Kind: "conversation.presence", Timestamp: time.Now(), Payload: p})
	}
}

// persistMessage writes a message to the store. Failures are logged and
// swallowed; the in-memory model stays authoritative for this process.
func (e *Engine) persistMessage(m *store.Message) {
	if err := e.db.UpsertMessage(m); err != nil {
		e.logger.Warn("persist message failed",
			zap.String("conversation_id", m.ConversationID),
			zap.String("message_id", m.ID),
			zap.Error(err))
	}
}

// persistConversation writes a conversation snapshot to the store with the
// same best-effort policy as persistMessage.
func (e *Engine) persistConversation(c *store.Conversation) {
	if err := e.db.UpsertConversation(c); err != nil {
		e.logger.Warn("persist conversation failed",
			zap.String("conversation_id", c.ID),
			zap.Error(err))
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
