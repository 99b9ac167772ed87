package store

// The outbox is not a separate table: a message row with is_unsent = 1 is
// an outbox entry. Draining clears the flag on the same row, so membership
// and the optimistic message can never disagree after a crash.

// ListOutbox returns unsent messages in creation order.
func (db *DB) ListOutbox() ([]Message, error) {
	rows, err := db.Query(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE is_unsent = 1
		ORDER BY timestamp ASC`)
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

// MarkOutboxSent clears outbox membership after a successful send. The
// message stays pending until the server echo reconciles it.
func (db *DB) MarkOutboxSent(conversationID, id string) error {
	_, err := db.Exec(`UPDATE messages SET is_unsent = 0 WHERE conversation_id = ? AND id = ?`, conversationID, id)
	return err
}

// OutboxCount returns the number of queued outbox entries.
func (db *DB) OutboxCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE is_unsent = 1`).Scan(&count)
	return count, err
}
