package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, name, avatar, last_message, last_message_time, unread_count, muted, has_more, user_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			unread_count = excluded.unread_count,
			muted = excluded.muted,
			has_more = excluded.has_more,
			user_id = excluded.user_id,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Avatar, c.LastMessage, c.LastMessageTime, c.UnreadCount, c.Muted, c.HasMore, c.UserID, now)
	return err
}

// ListConversations returns conversations sorted by last message time descending.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, name, avatar, last_message, last_message_time, unread_count, muted, has_more, user_id
		FROM conversations
		ORDER BY last_message_time DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Avatar, &c.LastMessage, &c.LastMessageTime, &c.UnreadCount, &c.Muted, &c.HasMore, &c.UserID); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, name, avatar, last_message, last_message_time, unread_count, muted, has_more, user_id
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Avatar, &c.LastMessage, &c.LastMessageTime, &c.UnreadCount, &c.Muted, &c.HasMore, &c.UserID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes a conversation and all of its messages.
// Only explicit user action reaches this; sync never deletes conversations.
func (db *DB) DeleteConversation(id string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
