package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		reactions = []byte("[]")
	}
	var replyTo []byte
	if m.ReplyTo != nil {
		replyTo, _ = json.Marshal(m.ReplyTo)
	}
	_, err = db.Exec(`
		INSERT INTO messages (id, conversation_id, sender, text, file, file_type, file_name, timestamp,
			is_read, is_delivered, is_pending, is_unsent, is_deleted, pinned, reactions, reply_to_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO UPDATE SET
			text = excluded.text,
			file = excluded.file,
			file_type = excluded.file_type,
			file_name = excluded.file_name,
			is_read = excluded.is_read,
			is_delivered = excluded.is_delivered,
			is_pending = excluded.is_pending,
			is_unsent = excluded.is_unsent,
			is_deleted = excluded.is_deleted,
			pinned = excluded.pinned,
			reactions = excluded.reactions,
			reply_to_json = excluded.reply_to_json`,
		m.ID, m.ConversationID, m.Sender, m.Text, m.File, m.FileType, m.FileName, m.Timestamp,
		m.IsRead, m.IsDelivered, m.Pending, m.Unsent, m.Deleted, m.Pinned, string(reactions), string(replyTo), now)
	return err
}

const messageColumns = `id, conversation_id, sender, text, file, file_type, file_name, timestamp,
	is_read, is_delivered, is_pending, is_unsent, is_deleted, pinned, reactions, reply_to_json`

func scanMessage(scan func(...any) error) (*Message, error) {
	var m Message
	var reactions, replyTo string
	if err := scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &m.File, &m.FileType, &m.FileName, &m.Timestamp,
		&m.IsRead, &m.IsDelivered, &m.Pending, &m.Unsent, &m.Deleted, &m.Pinned, &reactions, &replyTo); err != nil {
		return nil, err
	}
	if reactions != "" {
		_ = json.Unmarshal([]byte(reactions), &m.Reactions)
	}
	if replyTo != "" {
		var ref ReplyRef
		if err := json.Unmarshal([]byte(replyTo), &ref); err == nil {
			m.ReplyTo = &ref
		}
	}
	return &m, nil
}

// ListMessages returns all messages for a conversation ordered by timestamp ascending.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message, or nil if absent.
func (db *DB) GetMessage(conversationID, id string) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReplaceMessageID swaps a local message id for the server-assigned one,
// keeping the row (and therefore its position in timestamp order) intact.
func (db *DB) ReplaceMessageID(conversationID, localID, serverID string) error {
	_, err := db.Exec(`
		UPDATE messages SET id = ?, is_pending = 0, is_unsent = 0
		WHERE conversation_id = ? AND id = ?`, serverID, conversationID, localID)
	return err
}

// DeleteMessage removes a message row. Tombstoning is the sync engine's
// job; this is for outbox drain and explicit purges only.
func (db *DB) DeleteMessage(conversationID, id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, id)
	return err
}

// ClearConversation removes all messages for a conversation but keeps the
// conversation row.
func (db *DB) ClearConversation(conversationID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
