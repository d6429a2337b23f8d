package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertMessage persists a message. A collision on the provider-assigned id
// returns ErrUniqueViolation; callers treat that as "already recorded".
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, session_id, from_number, to_number, body, timestamp, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.FromNumber, m.ToNumber, m.Body, m.Timestamp, m.IsRead, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", classify(err))
	}
	return nil
}

// GetMessage returns a message by provider id, or ErrNotFound.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, session_id, from_number, to_number, body, timestamp, is_read
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.SessionID, &m.FromNumber, &m.ToNumber, &m.Body, &m.Timestamp, &m.IsRead)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a session's messages, newest first.
func (db *DB) ListMessages(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, session_id, from_number, to_number, body, timestamp, is_read
		FROM messages WHERE session_id = ?
		ORDER BY timestamp DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// ListConversation returns messages exchanged with one peer number, newest
// first. Matches the peer on either side of the exchange.
func (db *DB) ListConversation(sessionID, peerNumber string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, session_id, from_number, to_number, body, timestamp, is_read
		FROM messages
		WHERE session_id = ? AND (from_number = ? OR to_number = ?)
		ORDER BY timestamp DESC LIMIT ?`, sessionID, peerNumber, peerNumber, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// LatestMessageTimestamp returns the timestamp of the most recently
// persisted message for a session, or 0 if none. This is the catch-up sync
// watermark.
func (db *DB) LatestMessageTimestamp(sessionID string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MAX(timestamp) FROM messages WHERE session_id = ?`, sessionID).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// MarkConversationRead flags all unread inbound messages from one peer as
// read. Returns the number of rows updated.
func (db *DB) MarkConversationRead(sessionID, peerNumber string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE session_id = ? AND from_number = ? AND is_read = 0`,
		sessionID, peerNumber)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageCount returns the number of messages stored for a session.
func (db *DB) MessageCount(sessionID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromNumber, &m.ToNumber, &m.Body, &m.Timestamp, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
