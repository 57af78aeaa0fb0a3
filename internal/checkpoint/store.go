package checkpoint

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Store handles checkpoint persistence. One row per project; saving
// upserts inside a transaction so a crash mid-write leaves the prior
// snapshot intact.
type Store struct {
	db *sql.DB
}

// NewStore creates a checkpoint store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			project       TEXT PRIMARY KEY,
			updated_at    TEXT NOT NULL,
			state_gz      BLOB NOT NULL,
			byte_size     INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			step          INTEGER NOT NULL
		);
	`)
	return err
}

// Save replaces the project's checkpoint with the given run state.
func (s *Store) Save(project string, state *RunState) error {
	if project == "" {
		return fmt.Errorf("save checkpoint: empty project")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	_, err = s.db.Exec(`
		INSERT INTO run_checkpoints (project, updated_at, state_gz, byte_size, message_count, step)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project) DO UPDATE
		SET updated_at = excluded.updated_at,
		    state_gz = excluded.state_gz,
		    byte_size = excluded.byte_size,
		    message_count = excluded.message_count,
		    step = excluded.step
	`, project, time.Now().UTC().Format(time.RFC3339), compressed, len(compressed), len(state.Messages), state.Step)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Resume loads the project's checkpoint. Returns nil with no error
// when no checkpoint exists; a corrupt snapshot is reported as an
// error so the caller can decide to proceed empty.
func (s *Store) Resume(project string) (*RunState, error) {
	var stateGz []byte
	err := s.db.QueryRow(
		`SELECT state_gz FROM run_checkpoints WHERE project = ?`, project,
	).Scan(&stateGz)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	gr, err := gzip.NewReader(bytes.NewReader(stateGz))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the project's checkpoint. No error if none exists.
func (s *Store) Delete(project string) error {
	if _, err := s.db.Exec(`DELETE FROM run_checkpoints WHERE project = ?`, project); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// List returns metadata for all stored checkpoints, newest first.
func (s *Store) List() ([]*Meta, error) {
	rows, err := s.db.Query(`
		SELECT project, updated_at, byte_size, message_count, step
		FROM run_checkpoints
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var metas []*Meta
	for rows.Next() {
		var m Meta
		var updatedStr string
		if err := rows.Scan(&m.Project, &updatedStr, &m.ByteSize, &m.MessageCount, &m.Step); err != nil {
			return nil, err
		}
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
		metas = append(metas, &m)
	}
	return metas, rows.Err()
}
