package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateSession persists a new session row.
func (db *DB) CreateSession(s *Session) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (id, owner_id, name, status, qr_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, s.Name, s.Status, s.QRCode, now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", classify(err))
	}
	return nil
}

// GetSession returns a session by id, or ErrNotFound.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, owner_id, name, status, qr_code FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.OwnerID, &s.Name, &s.Status, &s.QRCode)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionsByOwner returns all sessions belonging to an owner, newest first.
func (db *DB) ListSessionsByOwner(ownerID string) ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, owner_id, name, status, qr_code FROM sessions
		WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

// SessionsByStatus returns all sessions currently in the given status.
// Used at boot to find sessions worth reconnecting.
func (db *DB) SessionsByStatus(statusValue string) ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, owner_id, name, status, qr_code FROM sessions WHERE status = ?`, statusValue)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

// UpdateSessionStatus persists a status transition. Updating a missing row
// is a no-op, not an error (a hard-deleted session may still emit a late
// disconnect).
func (db *DB) UpdateSessionStatus(id, statusValue string) error {
	_, err := db.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		statusValue, time.Now().UnixMilli(), id)
	return err
}

// UpdateSessionQR persists the latest pairing QR code.
func (db *DB) UpdateSessionQR(id, qr string) error {
	_, err := db.Exec(`UPDATE sessions SET qr_code = ?, updated_at = ? WHERE id = ?`,
		qr, time.Now().UnixMilli(), id)
	return err
}

// DeleteSession removes a session row permanently. Contacts and messages
// cascade. Returns ErrNotFound if no row was deleted.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Status, &s.QRCode); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
