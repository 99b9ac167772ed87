package sync

import (
	"context"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"github.com/pcarvalho-dev/pigeon/internal/store"
	"go.uber.org/zap"
)

// Reconcile ingests an inbound message frame. It is idempotent: replaying
// the same frame leaves exactly one stored message with that server id.
// A pending self-sent message with matching text is replaced in place so
// the optimistic copy never duplicates the server echo.
func (e *Engine) Reconcile(wire *protocol.Message) {
	convID := wire.ConversationRef()
	if convID == "" || wire.ID == "" {
		e.logger.Warn("message frame missing conversation or id, dropping",
			zap.String("message_id", wire.ID))
		return
	}

	sender := store.SenderThem
	if wire.Sender != nil && wire.Sender.Username == e.cfg.Username {
		sender = store.SenderMe
	}

	e.mu.Lock()
	conv := e.conversationLocked(convID)
	if conv == nil {
		conv = e.synthesizePlaceholderLocked(convID)
	}

	msg := wireToStore(wire, convID, sender)

	var changed *store.Message
	if existing := e.findMessageLocked(convID, msg.ID); existing != nil {
		// Duplicate delivery; idempotence guarantee.
		e.mu.Unlock()
		return
	} else if pending := oldestPendingLocked(conv, msg.Text); pending != nil && sender == store.SenderMe {
		// Server echo of an optimistic send: swap the id in place,
		// preserving the message's position in the sequence.
		localID := pending.ID
		pending.ID = msg.ID
		pending.Timestamp = msg.Timestamp
		pending.Pending = false
		pending.Unsent = false
		pending.IsDelivered = msg.IsDelivered
		pending.IsRead = msg.IsRead
		if err := e.db.ReplaceMessageID(convID, localID, msg.ID); err != nil {
			e.logger.Warn("reconcile id swap failed",
				zap.String("local_id", localID),
				zap.String("server_id", msg.ID),
				zap.Error(err))
		}
		changed = pending
	} else {
		conv.Messages = append([]*store.Message{msg}, conv.Messages...)
		changed = msg
	}
	e.persistMessage(changed)

	conv.LastMessage = previewText(changed)
	conv.LastMessageTime = changed.Timestamp

	isActive := e.active == convID
	if sender == store.SenderThem && !isActive {
		conv.UnreadCount++
	}
	e.persistConversation(&conv.Conversation)

	notifier := e.notifier
	notifyConv := conv.Conversation
	notifyMsg := *changed
	e.mu.Unlock()

	e.publish("message.upserted", notifyMsg)
	e.publish("conversation.updated", notifyConv)

	if sender == store.SenderThem {
		// Acknowledge delivery; the read receipt is sent only for the
		// open conversation and only if the privacy setting permits.
		e.send(protocol.NewMarkDelivered(convID, notifyMsg.ID))
		if isActive && e.cfg.SendReadReceipts {
			e.send(protocol.NewMarkRead(convID))
		}
		if !isActive && !notifyConv.Muted && notifier != nil {
			notifier.NotifyMessage(notifyConv, notifyMsg)
		}
	}
}

// synthesizePlaceholderLocked creates a stub conversation for a message
// that references an unknown id. Ingestion never blocks on metadata; a
// background refetch fills in the name and avatar.
func (e *Engine) synthesizePlaceholderLocked(convID string) *Conversation {
	conv := &Conversation{Conversation: store.Conversation{
		ID:   convID,
		Name: placeholderName,
	}}
	e.conversations[convID] = conv
	e.persistConversation(&conv.Conversation)
	e.logger.Info("synthesized placeholder conversation", zap.String("conversation_id", convID))
	if e.api != nil {
		go e.refetchConversation(convID)
	}
	return conv
}

func (e *Engine) refetchConversation(convID string) {
	ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
	defer cancel()
	fetched, err := e.api.FetchConversation(ctx, convID)
	if err != nil {
		e.logger.Warn("conversation refetch failed",
			zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	e.mu.Lock()
	conv := e.conversationLocked(convID)
	if conv == nil {
		e.mu.Unlock()
		return
	}
	conv.Name = fetched.Name
	conv.Avatar = fetched.Avatar
	conv.Muted = fetched.Muted
	e.persistConversation(&conv.Conversation)
	snapshot := conv.Conversation
	e.mu.Unlock()
	e.publish("conversation.updated", snapshot)
}

// ApplyEdit replaces a message's text in place.
func (e *Engine) ApplyEdit(p *protocol.MessageEdited) {
	e.mutateMessage(p.ConversationID, p.MessageID, "edit", func(m *store.Message) {
		m.Text = p.Text
	})
}

// ApplyDelete tombstones a message: the row is kept, with content
// cleared, so ordering and reply references to it stay intact.
func (e *Engine) ApplyDelete(p *protocol.MessageDeleted) {
	e.mutateMessage(p.ConversationID, p.MessageID, "delete", func(m *store.Message) {
		m.Deleted = true
		m.Text = ""
		m.File = ""
		m.FileType = ""
		m.FileName = ""
		m.Reactions = nil
	})
}

// ApplyReaction replaces a message's reaction set with the server's
// authoritative set (last writer wins).
func (e *Engine) ApplyReaction(p *protocol.MessageReaction) {
	var emoji string
	if n := len(p.Reactions); n > 0 {
		emoji = p.Reactions[n-1].Emoji
	}
	updated := e.mutateMessage(p.ConversationID, p.MessageID, "reaction", func(m *store.Message) {
		m.Reactions = make([]store.Reaction, len(p.Reactions))
		for i, r := range p.Reactions {
			m.Reactions[i] = store.Reaction{Emoji: r.Emoji, Username: r.Username}
		}
	})
	if updated == nil || emoji == "" {
		return
	}

	e.mu.Lock()
	conv := e.conversationLocked(p.ConversationID)
	notifier := e.notifier
	isActive := e.active == p.ConversationID
	var snapshot store.Conversation
	if conv != nil {
		snapshot = conv.Conversation
	}
	e.mu.Unlock()

	if conv != nil && !isActive && !snapshot.Muted && notifier != nil {
		notifier.NotifyReaction(snapshot, *updated, emoji)
	}
}

// ApplyReceipt marks a message read or delivered.
func (e *Engine) ApplyReceipt(conversationID, messageID string, read bool) {
	kind := "delivered"
	if read {
		kind = "read"
	}
	e.mutateMessage(conversationID, messageID, kind, func(m *store.Message) {
		if read {
			m.IsRead = true
		}
		m.IsDelivered = true
	})
}

// mutateMessage locates a message, applies fn, persists, and publishes.
// A miss is a safe no-op: receipts and edits can race local deletion.
func (e *Engine) mutateMessage(conversationID, messageID, what string, fn func(*store.Message)) *store.Message {
	e.mu.Lock()
	m := e.findMessageLocked(conversationID, messageID)
	if m == nil {
		e.mu.Unlock()
		e.logger.Warn("delta for unknown message, ignoring",
			zap.String("kind", what),
			zap.String("conversation_id", conversationID),
			zap.String("message_id", messageID))
		return nil
	}
	fn(m)
	e.persistMessage(m)
	snapshot := *m
	e.mu.Unlock()
	e.publish("message.updated", snapshot)
	return &snapshot
}

func wireToStore(wire *protocol.Message, convID, sender string) *store.Message {
	m := &store.Message{
		ID:             wire.ID,
		ConversationID: convID,
		Sender:         sender,
		Text:           wire.Text,
		File:           wire.File,
		FileType:       wire.FileType,
		FileName:       wire.FileName,
		Timestamp:      wire.Timestamp,
		IsRead:         wire.IsRead,
		IsDelivered:    wire.IsDelivered,
	}
	if wire.ReplyTo != nil {
		m.ReplyTo = &store.ReplyRef{ID: wire.ReplyTo.ID, Text: wire.ReplyTo.Text, Sender: wire.ReplyTo.Sender}
	}
	for _, r := range wire.Reactions {
		m.Reactions = append(m.Reactions, store.Reaction{Emoji: r.Emoji, Username: r.Username})
	}
	return m
}

func previewText(m *store.Message) string {
	switch {
	case m.Deleted:
		return ""
	case m.Text != "":
		return m.Text
	case m.FileName != "":
		return m.FileName
	default:
		return m.File
	}
}
