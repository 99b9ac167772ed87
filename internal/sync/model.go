package sync

import (
	"sort"

	"github.com/pcarvalho-dev/pigeon/internal/store"
)

// Conversation is the in-memory projection of a conversation plus its
// message sequence. Messages are held newest-first (insertion order);
// durable reads sort by timestamp instead.
type Conversation struct {
	store.Conversation
	Messages []*store.Message
}

// placeholderName marks a conversation synthesized from a message whose
// conversation is unknown locally, pending an async metadata refetch.
const placeholderName = "Loading..."

// load populates the in-memory model from the durable store. Store
// messages arrive timestamp-ascending; the model keeps newest first.
func (e *Engine) load() error {
	convs, err := e.db.ListConversations()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range convs {
		c := &Conversation{Conversation: convs[i]}
		msgs, err := e.db.ListMessages(c.ID)
		if err != nil {
			return err
		}
		for j := len(msgs) - 1; j >= 0; j-- {
			m := msgs[j]
			c.Messages = append(c.Messages, &m)
		}
		e.conversations[c.ID] = c
	}
	return nil
}

// Conversations returns a snapshot of all conversations sorted by last
// message time descending.
func (e *Engine) Conversations() []store.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]store.Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		out = append(out, c.Conversation)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	return out
}

// Messages returns a snapshot of a conversation's messages, newest first.
func (e *Engine) Messages(conversationID string) []store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conversations[conversationID]
	if c == nil {
		return nil
	}
	out := make([]store.Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = *m
	}
	return out
}

// Search runs a full-text query over stored messages. conversationID
// narrows the search to one conversation when non-empty.
func (e *Engine) Search(query, conversationID string, limit int) ([]store.SearchResult, error) {
	return e.db.SearchMessages(query, conversationID, limit)
}

// SetActiveConversation marks the conversation currently open in the UI.
// Unread counting is suppressed for it. Empty id means none is open.
func (e *Engine) SetActiveConversation(conversationID string) {
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()
}

// conversationLocked returns the tracked conversation, or nil.
func (e *Engine) conversationLocked(id string) *Conversation {
	return e.conversations[id]
}

// findMessageLocked locates a message by id within a conversation.
func (e *Engine) findMessageLocked(conversationID, messageID string) *store.Message {
	c := e.conversations[conversationID]
	if c == nil {
		return nil
	}
	for _, m := range c.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// oldestPendingLocked finds the oldest unconfirmed self-sent message with
// the given text. Messages are newest-first, so the scan runs backwards.
func oldestPendingLocked(c *Conversation, text string) *store.Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Pending && m.Sender == store.SenderMe && m.Text == text {
			return m
		}
	}
	return nil
}
