package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation triage statuses a contact can be in. New contacts start in
// "waiting"; transitions are explicit-only, never inferred from traffic.
const (
	StatusOpen     = "open"
	StatusWaiting  = "waiting"
	StatusResolved = "resolved"
)

// ValidConversationStatus reports whether s is an accepted triage status.
func ValidConversationStatus(s string) bool {
	return s == StatusOpen || s == StatusWaiting || s == StatusResolved
}

// UpsertContact creates or updates a contact by its (session_id, number)
// natural key and returns the stored row. An update never touches
// conversation_status. A concurrent create racing on the unique index is
// resolved by re-reading and updating the winner's row.
func (db *DB) UpsertContact(c *Contact) (*Contact, error) {
	existing, err := db.GetContactByNumber(c.SessionID, c.Number)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return db.updateContact(existing.ID, c)
	}

	id := uuid.New().String()
	statusValue := c.ConversationStatus
	if statusValue == "" {
		statusValue = StatusWaiting
	}
	_, err = db.Exec(`
		INSERT INTO contacts (id, session_id, name, number, profile_pic_url, is_group, conversation_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.SessionID, c.Name, c.Number, c.ProfilePicURL, c.IsGroup, statusValue, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(classify(err), ErrUniqueViolation) {
			winner, ferr := db.GetContactByNumber(c.SessionID, c.Number)
			if ferr != nil {
				return nil, ferr
			}
			return db.updateContact(winner.ID, c)
		}
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return db.GetContact(id)
}

func (db *DB) updateContact(id string, c *Contact) (*Contact, error) {
	_, err := db.Exec(`
		UPDATE contacts SET
			name = CASE WHEN ? != '' THEN ? ELSE name END,
			profile_pic_url = CASE WHEN ? != '' THEN ? ELSE profile_pic_url END,
			is_group = ?,
			updated_at = ?
		WHERE id = ?`,
		c.Name, c.Name, c.ProfilePicURL, c.ProfilePicURL, c.IsGroup, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return db.GetContact(id)
}

// GetContact returns a contact by surrogate id, or ErrNotFound.
func (db *DB) GetContact(id string) (*Contact, error) {
	return db.scanContactRow(db.QueryRow(`
		SELECT id, session_id, name, number, profile_pic_url, is_group, conversation_status
		FROM contacts WHERE id = ?`, id))
}

// GetContactByNumber returns a contact by its natural key, or ErrNotFound.
func (db *DB) GetContactByNumber(sessionID, number string) (*Contact, error) {
	return db.scanContactRow(db.QueryRow(`
		SELECT id, session_id, name, number, profile_pic_url, is_group, conversation_status
		FROM contacts WHERE session_id = ? AND number = ?`, sessionID, number))
}

// ListContacts returns the contacts of a session, optionally filtered by
// conversation status (empty = all).
func (db *DB) ListContacts(sessionID, statusValue string) ([]Contact, error) {
	q := `
		SELECT id, session_id, name, number, profile_pic_url, is_group, conversation_status
		FROM contacts WHERE session_id = ?`
	args := []any{sessionID}
	if statusValue != "" {
		q += ` AND conversation_status = ?`
		args = append(args, statusValue)
	}
	q += ` ORDER BY name`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Name, &c.Number, &c.ProfilePicURL, &c.IsGroup, &c.ConversationStatus); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// UpdateContactStatus sets the conversation status and returns the updated
// contact, or ErrNotFound.
func (db *DB) UpdateContactStatus(id, statusValue string) (*Contact, error) {
	res, err := db.Exec(`UPDATE contacts SET conversation_status = ?, updated_at = ? WHERE id = ?`,
		statusValue, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return db.GetContact(id)
}

func (db *DB) scanContactRow(row *sql.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.SessionID, &c.Name, &c.Number, &c.ProfilePicURL, &c.IsGroup, &c.ConversationStatus)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
