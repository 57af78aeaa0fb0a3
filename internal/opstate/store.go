// Package opstate persists small pieces of operational state in a
// namespaced key-value table: the review poller's per-mailbox
// high-water marks and each project's last view event. Domain data
// with real structure (checkpoints, usage records) gets its own store
// instead.
package opstate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS opstate (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Store is a namespaced key-value store backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) an operational state store at
// dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open opstate database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate opstate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under namespace/key, or "" with a nil
// error when the key is absent. Callers treat absence and empty the
// same way, so the two are deliberately indistinguishable.
func (s *Store) Get(namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM opstate WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set upserts namespace/key to value, refreshing the updated_at stamp.
func (s *Store) Set(namespace, key, value string) error {
	if _, err := s.db.Exec(
		`INSERT INTO opstate (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes one entry. Deleting an absent key is not an error.
func (s *Store) Delete(namespace, key string) error {
	if _, err := s.db.Exec(
		`DELETE FROM opstate WHERE namespace = ? AND key = ?`,
		namespace, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace removes every entry in a namespace, e.g. when a
// project is deleted and its view state goes with it.
func (s *Store) DeleteNamespace(namespace string) error {
	if _, err := s.db.Exec(
		`DELETE FROM opstate WHERE namespace = ?`, namespace,
	); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

// List returns every key/value pair in a namespace. The map is non-nil
// even when the namespace is empty.
func (s *Store) List(namespace string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM opstate WHERE namespace = ?`, namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		entries[k] = v
	}
	return entries, rows.Err()
}
