package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLite keeps the token in a single-row table. Useful when the client
// already carries a local database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("tokenstore: sqlite path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open DB: %w", err)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tokenstore: %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS auth_token (
		id         INTEGER PRIMARY KEY CHECK(id = 1),
		token      TEXT    NOT NULL,
		updated_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, "SELECT token FROM auth_token WHERE id = 1").Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: load: %w", err)
	}
	return token, nil
}

func (s *SQLite) Save(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_token (id, token, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, time.Now().UTC().Format(dbTimeLayout))
	if err != nil {
		return fmt.Errorf("tokenstore: save: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_token"); err != nil {
		return fmt.Errorf("tokenstore: clear: %w", err)
	}
	return nil
}

// UpdatedAt reports when the token was last saved. Zero when empty.
func (s *SQLite) UpdatedAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM auth_token WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("tokenstore: updated_at: %w", err)
	}
	return time.Parse(dbTimeLayout, raw)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
