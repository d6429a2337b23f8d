package store

// SearchMessages performs a full-text search on message bodies. A non-empty
// sessionID restricts results to that session.
func (db *DB) SearchMessages(query string, sessionID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.session_id, m.from_number, m.to_number, m.body,
		       m.timestamp, m.is_read,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if sessionID != "" {
		q += " AND m.session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.SessionID, &r.Message.FromNumber,
			&r.Message.ToNumber, &r.Message.Body, &r.Message.Timestamp,
			&r.Message.IsRead, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
