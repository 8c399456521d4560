// Package journal persists applied edits per image so a reopened image keeps
// its editing context across daemon restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	lightart "github.com/Paranoid-AF/lightart"
)

// Store records applied edits in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init journal: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS edits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		instruction TEXT NOT NULL,
		applied_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS edits_image ON edits (image_id, id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Record appends an applied edit for imageID. A zero AppliedAt is set to now.
func (s *Store) Record(ctx context.Context, imageID, sessionID string, e lightart.EditDescriptor) error {
	if imageID == "" {
		return &lightart.ValidationError{Field: "image_id", Reason: "must not be empty"}
	}
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edits (image_id, session_id, kind, instruction, applied_at) VALUES (?, ?, ?, ?, ?)`,
		imageID, sessionID, e.Kind, e.Instruction, e.AppliedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert edit: %w", err)
	}
	return nil
}

// Recent returns the last limit edits for imageID, oldest first.
func (s *Store) Recent(ctx context.Context, imageID string, limit int) ([]lightart.EditDescriptor, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, instruction, applied_at FROM (
			SELECT id, kind, instruction, applied_at FROM edits
			WHERE image_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, imageID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edits []lightart.EditDescriptor
	for rows.Next() {
		var (
			e         lightart.EditDescriptor
			appliedAt string
		)
		if err := rows.Scan(&e.Kind, &e.Instruction, &appliedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, appliedAt); err == nil {
			e.AppliedAt = t
		}
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edits, nil
}

// Forget deletes every edit recorded for imageID.
func (s *Store) Forget(ctx context.Context, imageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM edits WHERE image_id = ?`, imageID)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
