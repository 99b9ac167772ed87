package sync

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"github.com/pcarvalho-dev/pigeon/internal/store"
	"github.com/pcarvalho-dev/pigeon/internal/transport"
	"go.uber.org/zap"
)

// Send sends a text message, optionally as a reply. With the transport
// open the frame goes straight out and no local row is created; the
// server echo materializes the message. Offline, an optimistic pending
// message is queued in the outbox instead.
func (e *Engine) Send(conversationID, text, replyToID string) error {
	frame := protocol.NewSendMessage(conversationID, text)
	if replyToID != "" {
		frame.ReplyTo = e.replyRef(conversationID, replyToID)
	}
	err := e.sender.Send(frame)
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrNotConnected) {
		return err
	}
	e.enqueue(conversationID, frame)
	return nil
}

// SendAttachment uploads a file over HTTP, then sends a message frame
// referencing the stored path. Uploads require connectivity, so there is
// no offline path here.
func (e *Engine) SendAttachment(ctx context.Context, conversationID, caption, fileName string, content io.Reader) error {
	res, err := e.api.UploadFile(ctx, fileName, content)
	if err != nil {
		return err
	}
	frame := protocol.NewSendMessage(conversationID, caption)
	frame.File = res.FilePath
	frame.FileType = res.FileType
	frame.FileName = fileName
	return e.sender.Send(frame)
}

// enqueue creates the optimistic local message backing an offline send.
func (e *Engine) enqueue(conversationID string, frame *protocol.SendMessage) {
	now := time.Now().UnixMilli()
	m := &store.Message{
		ID:             store.NewLocalID(),
		ConversationID: conversationID,
		Sender:         store.SenderMe,
		Text:           frame.Text,
		File:           frame.File,
		FileType:       frame.FileType,
		FileName:       frame.FileName,
		Timestamp:      now,
		Pending:        true,
		Unsent:         true,
	}
	if frame.ReplyTo != nil {
		m.ReplyTo = &store.ReplyRef{ID: frame.ReplyTo.ID, Text: frame.ReplyTo.Text, Sender: frame.ReplyTo.Sender}
	}

	e.mu.Lock()
	conv := e.conversationLocked(conversationID)
	if conv == nil {
		conv = e.synthesizePlaceholderLocked(conversationID)
	}
	conv.Messages = append([]*store.Message{m}, conv.Messages...)
	conv.LastMessage = previewText(m)
	conv.LastMessageTime = now
	e.persistMessage(m)
	e.persistConversation(&conv.Conversation)
	msgSnap := *m
	convSnap := conv.Conversation
	e.mu.Unlock()

	e.publish("message.upserted", msgSnap)
	e.publish("conversation.updated", convSnap)
}

// DrainOutbox sends queued messages oldest first. Each successful send
// clears the outbox flag but keeps the message pending, so the server
// echo replaces it in place rather than duplicating it. The drain stops
// at the first failure; the next reconnect picks up from there.
func (e *Engine) DrainOutbox() {
	queued, err := e.db.ListOutbox()
	if err != nil {
		e.logger.Error("outbox list failed", zap.Error(err))
		return
	}
	for i := range queued {
		m := &queued[i]
		frame := protocol.NewSendMessage(m.ConversationID, m.Text)
		frame.File = m.File
		frame.FileType = m.FileType
		frame.FileName = m.FileName
		if m.ReplyTo != nil {
			frame.ReplyTo = &protocol.ReplyRef{ID: m.ReplyTo.ID, Text: m.ReplyTo.Text, Sender: m.ReplyTo.Sender}
		}
		if err := e.sender.Send(frame); err != nil {
			e.logger.Warn("outbox drain interrupted",
				zap.String("message_id", m.ID),
				zap.Int("remaining", len(queued)-i),
				zap.Error(err))
			return
		}
		if err := e.db.MarkOutboxSent(m.ConversationID, m.ID); err != nil {
			e.logger.Warn("outbox flag clear failed",
				zap.String("message_id", m.ID), zap.Error(err))
		}
		e.mu.Lock()
		if local := e.findMessageLocked(m.ConversationID, m.ID); local != nil {
			local.Unsent = false
		}
		e.mu.Unlock()
	}
	if len(queued) > 0 {
		e.logger.Info("outbox drained", zap.Int("sent", len(queued)))
	}
}

// EditMessage rewrites a sent message's text locally and on the server.
func (e *Engine) EditMessage(conversationID, messageID, text string) error {
	e.mutateMessage(conversationID, messageID, "edit", func(m *store.Message) {
		m.Text = text
	})
	return e.send(protocol.NewEditMessage(conversationID, messageID, text))
}

// DeleteMessage tombstones a message locally and asks the server to
// delete it for everyone.
func (e *Engine) DeleteMessage(conversationID, messageID string) error {
	e.mutateMessage(conversationID, messageID, "delete", func(m *store.Message) {
		m.Deleted = true
		m.Text = ""
		m.File = ""
		m.FileType = ""
		m.FileName = ""
		m.Reactions = nil
	})
	return e.send(protocol.NewDeleteMessage(conversationID, messageID))
}

// React toggles the local user's reaction on a message. The server
// answers with the authoritative reaction set.
func (e *Engine) React(conversationID, messageID, emoji string) error {
	return e.send(protocol.NewReactMessage(conversationID, messageID, emoji))
}

// Pin pins a message.
func (e *Engine) Pin(conversationID, messageID string) error {
	e.mutateMessage(conversationID, messageID, "pin", func(m *store.Message) {
		m.Pinned = true
	})
	return e.send(protocol.NewPinMessage(conversationID, messageID))
}

// Unpin unpins a message.
func (e *Engine) Unpin(conversationID, messageID string) error {
	e.mutateMessage(conversationID, messageID, "unpin", func(m *store.Message) {
		m.Pinned = false
	})
	return e.send(protocol.NewUnpinMessage(conversationID, messageID))
}

// Typing notifies the peer that the local user is typing. Best effort.
func (e *Engine) Typing(conversationID string) {
	e.send(protocol.NewTyping(conversationID))
}

// MarkRead zeroes the unread count locally, always, and reports the read
// to the server only when the privacy setting allows it.
func (e *Engine) MarkRead(conversationID string) error {
	e.mu.Lock()
	conv := e.conversationLocked(conversationID)
	if conv == nil {
		e.mu.Unlock()
		return nil
	}
	conv.UnreadCount = 0
	for _, m := range conv.Messages {
		if m.Sender == store.SenderThem && !m.IsRead {
			m.IsRead = true
			e.persistMessage(m)
		}
	}
	e.persistConversation(&conv.Conversation)
	snapshot := conv.Conversation
	e.mu.Unlock()

	e.publish("conversation.updated", snapshot)
	if !e.cfg.SendReadReceipts {
		return nil
	}
	return e.send(protocol.NewMarkRead(conversationID))
}

// ClearConversation deletes a conversation's message history locally.
func (e *Engine) ClearConversation(conversationID string) error {
	e.mu.Lock()
	conv := e.conversationLocked(conversationID)
	if conv == nil {
		e.mu.Unlock()
		return nil
	}
	conv.Messages = nil
	conv.LastMessage = ""
	conv.UnreadCount = 0
	if err := e.db.ClearConversation(conversationID); err != nil {
		e.mu.Unlock()
		return err
	}
	e.persistConversation(&conv.Conversation)
	snapshot := conv.Conversation
	e.mu.Unlock()
	e.publish("conversation.updated", snapshot)
	return nil
}

// DeleteConversation removes a conversation and its messages locally.
func (e *Engine) DeleteConversation(conversationID string) error {
	e.mu.Lock()
	delete(e.conversations, conversationID)
	err := e.db.DeleteConversation(conversationID)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.publish("conversation.deleted", conversationID)
	return nil
}

// Refresh pages through the server's conversation list and merges the
// metadata into the local model. Messages are left alone; the realtime
// stream and FetchOlder own those.
func (e *Engine) Refresh(ctx context.Context) error {
	for page := 1; ; page++ {
		res, err := e.api.FetchConversations(ctx, page)
		if err != nil {
			return err
		}
		for _, rc := range res.Conversations {
			e.mu.Lock()
			conv := e.conversationLocked(rc.ID)
			if conv == nil {
				conv = &Conversation{}
				e.conversations[rc.ID] = conv
			}
			conv.ID = rc.ID
			conv.Name = rc.Name
			conv.Avatar = rc.Avatar
			conv.Muted = rc.Muted
			conv.UnreadCount = rc.UnreadCount
			if rc.LastMessageTime >= conv.LastMessageTime {
				conv.LastMessage = rc.LastMessage
				conv.LastMessageTime = rc.LastMessageTime
			}
			e.persistConversation(&conv.Conversation)
			snapshot := conv.Conversation
			e.mu.Unlock()
			e.publish("conversation.updated", snapshot)
		}
		if !res.HasMore {
			return nil
		}
	}
}

// FetchOlder loads the next page of a conversation's history and appends
// it past the oldest message held locally.
func (e *Engine) FetchOlder(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	conv := e.conversationLocked(conversationID)
	if conv == nil {
		e.mu.Unlock()
		return nil
	}
	// Page size is server-defined; the next page index follows from how
	// many messages are already held.
	page := len(conv.Messages)/50 + 1
	e.mu.Unlock()

	res, err := e.api.FetchMessages(ctx, conversationID, page)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for i := range res.Messages {
		wire := &res.Messages[i]
		if e.findMessageLocked(conversationID, wire.ID) != nil {
			continue
		}
		sender := store.SenderThem
		if wire.Sender != nil && wire.Sender.Username == e.cfg.Username {
			sender = store.SenderMe
		}
		m := wireToStore(wire, conversationID, sender)
		conv.Messages = append(conv.Messages, m)
		e.persistMessage(m)
	}
	conv.HasMore = res.HasMore
	e.persistConversation(&conv.Conversation)
	snapshot := conv.Conversation
	e.mu.Unlock()

	e.publish("conversation.updated", snapshot)
	return nil
}

// replyRef snapshots the replied-to message for denormalized rendering.
func (e *Engine) replyRef(conversationID, messageID string) *protocol.ReplyRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.findMessageLocked(conversationID, messageID)
	if m == nil {
		return &protocol.ReplyRef{ID: messageID}
	}
	return &protocol.ReplyRef{ID: m.ID, Text: m.Text, Sender: m.Sender}
}

// send delivers a frame, logging transient failures instead of surfacing
// them. Delta frames are not queued; state converges from the server.
func (e *Engine) send(frame any) error {
	if err := e.sender.Send(frame); err != nil {
		e.logger.Warn("frame send failed", zap.Error(err))
		return err
	}
	return nil
}
