package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store is the dev server's SQLite database: users, per-user conversation
// and group unread counters, push tokens and revoked sessions.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) a SQLite database and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("devserver: open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("devserver: %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("devserver: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY CHECK(length(id) > 0 AND length(id) <= 64),
		name       TEXT NOT NULL DEFAULT '',
		avatar     TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT    NOT NULL,
		user_id      TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		partner_id   TEXT    NOT NULL,
		unread_count INTEGER NOT NULL DEFAULT 0 CHECK(unread_count >= 0),
		PRIMARY KEY (id, user_id)
	);

	CREATE TABLE IF NOT EXISTS groups (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id     TEXT    NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id      TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		unread_count INTEGER NOT NULL DEFAULT 0 CHECK(unread_count >= 0),
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS push_tokens (
		user_id    TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		token      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti        TEXT PRIMARY KEY,
		expires_at TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertUser creates the user or refreshes its profile fields.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	if err := model.ValidateUserID(u.ID); err != nil {
		return fmt.Errorf("devserver: upsert user: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, avatar, email, phone) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar = excluded.avatar,
		 email = excluded.email, phone = excluded.phone`,
		u.ID, u.Name, u.Avatar, u.Email, u.Phone)
	if err != nil {
		return fmt.Errorf("devserver: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns nil without error when the user does not exist.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, avatar, email, phone FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &u.Avatar, &u.Email, &u.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devserver: get user %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, avatar, email, phone FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("devserver: list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.Email, &u.Phone); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetConversation writes userID's view of a direct conversation.
func (s *Store) SetConversation(ctx context.Context, userID string, c model.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, partner_id, unread_count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id, user_id) DO UPDATE SET partner_id = excluded.partner_id,
		 unread_count = excluded.unread_count`,
		c.ID, userID, c.PartnerID, c.UnreadCount)
	if err != nil {
		return fmt.Errorf("devserver: set conversation %s: %w", c.ID, err)
	}
	return nil
}

// Conversations lists userID's direct conversations.
func (s *Store) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, partner_id, unread_count FROM conversations WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("devserver: list conversations: %w", err)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.PartnerID, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// IncrementUnread bumps the receiver's counter for a direct conversation,
// creating the row on first message.
func (s *Store) IncrementUnread(ctx context.Context, conversationID, receiverID, senderID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, partner_id, unread_count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(id, user_id) DO UPDATE SET unread_count = unread_count + 1`,
		conversationID, receiverID, senderID)
	if err != nil {
		return fmt.Errorf("devserver: increment unread: %w", err)
	}
	return nil
}

// SetGroup creates the group if needed and sets userID's unread counter in it.
func (s *Store) SetGroup(ctx context.Context, userID string, g model.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("devserver: set group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO groups (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		g.ID, g.Name); err != nil {
		return fmt.Errorf("devserver: set group %s: %w", g.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, unread_count) VALUES (?, ?, ?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET unread_count = excluded.unread_count`,
		g.ID, userID, g.UnreadCount); err != nil {
		return fmt.Errorf("devserver: set group member %s: %w", g.ID, err)
	}
	return tx.Commit()
}

// Groups lists the groups userID belongs to, with that user's counters.
func (s *Store) Groups(ctx context.Context, userID string) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name, m.unread_count FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = ? ORDER BY g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("devserver: list groups: %w", err)
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.UnreadCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) SetPushToken(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens (user_id, token, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		userID, token)
	if err != nil {
		return fmt.Errorf("devserver: set push token: %w", err)
	}
	return nil
}

// PushToken returns "" when none is registered.
func (s *Store) PushToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, "SELECT token FROM push_tokens WHERE user_id = ?", userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("devserver: get push token: %w", err)
	}
	return token, nil
}

// Revoke marks a token id as logged out until it would have expired anyway.
func (s *Store) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)",
		jti, expiresAt.UTC().Format(dbTimeLayout))
	if err != nil {
		return fmt.Errorf("devserver: revoke token: %w", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?", jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("devserver: check revoked: %w", err)
	}
	return n > 0, nil
}

// PruneRevoked drops revocations whose tokens have expired.
func (s *Store) PruneRevoked(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at < ?", now.UTC().Format(dbTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("devserver: prune revoked: %w", err)
	}
	return res.RowsAffected()
}
