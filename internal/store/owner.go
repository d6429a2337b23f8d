package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResolveOwner finds an owner by name, creating one if absent. Concurrent
// creates of the same name are resolved by the unique index: the loser
// re-reads the winner's row.
func (db *DB) ResolveOwner(name string) (*Owner, error) {
	o, err := db.ownerByName(name)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.New().String()
	_, err = db.Exec(`INSERT INTO owners (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(classify(err), ErrUniqueViolation) {
			return db.ownerByName(name)
		}
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	return &Owner{ID: id, Name: name}, nil
}

// GetOwner returns an owner by id.
func (db *DB) GetOwner(id string) (*Owner, error) {
	var o Owner
	err := db.QueryRow(`SELECT id, name FROM owners WHERE id = ?`, id).Scan(&o.ID, &o.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (db *DB) ownerByName(name string) (*Owner, error) {
	var o Owner
	err := db.QueryRow(`SELECT id, name FROM owners WHERE name = ?`, name).Scan(&o.ID, &o.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
