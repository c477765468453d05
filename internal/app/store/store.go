/*
Package store implements the durable persistence layer for users and the
message log.

Storage is a single SQLite database file under the configured data folder.
The schema is managed with embedded goose migrations. Credentials are stored
as bcrypt hashes; Authenticate only ever reports match or no-match.

The store performs no locking of its own: all mutating calls are serialized
by the session manager, which is what guarantees strictly increasing message
ids in acceptance order.
*/
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	"messenger/internal/app/message"
	"messenger/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store provides query and insert operations over the users and messages tables.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its parent folder) if needed, applies
// pending migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY; writes are serialized by the
	// session manager anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.")
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Authenticate reports whether the stored user matches the supplied secret.
// The returned bool is false both for an unknown name and a wrong secret, so
// callers cannot distinguish which part failed.
func (s *Store) Authenticate(ctx context.Context, name, secret string) (message.User, bool, error) {
	var storedHash string
	err := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE name = ?", name).Scan(&storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return message.User{}, false, nil
	}
	if err != nil {
		return message.User{}, false, fmt.Errorf("failed to query user %q: %w", name, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) != nil {
		return message.User{}, false, nil
	}

	return message.User{Name: name}, true, nil
}

// CreateUser persists a new user with a bcrypt-hashed secret. It fails with a
// unique violation (see IsUniqueViolation) when the name already exists; the
// storage-level constraint is the second line of defense behind the session
// manager's own check.
func (s *Store) CreateUser(ctx context.Context, name, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password for %q: %w", name, err)
	}

	if _, err := s.db.ExecContext(ctx, "INSERT INTO users(name, password) VALUES(?, ?)", name, string(hash)); err != nil {
		return fmt.Errorf("failed to insert user %q: %w", name, err)
	}
	return nil
}

// UserExists reports whether a user with the given name is stored.
func (s *Store) UserExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user %q: %w", name, err)
	}
	return exists, nil
}

// EnsureUser creates the user if it does not exist yet. Used to seed the
// reserved server account at startup without rehashing its password on every
// boot.
func (s *Store) EnsureUser(ctx context.Context, name, secret string) error {
	exists, err := s.UserExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.CreateUser(ctx, name, secret)
}

// InsertMessage appends a message row and returns its assigned id. Ids are
// strictly increasing and never reused.
func (s *Store) InsertMessage(ctx context.Context, sender, content string, timestamp int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages(message, timestamp, sender) VALUES(?, ?, ?)",
		content, timestamp, sender,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message from %q: %w", sender, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted message id: %w", err)
	}
	return id, nil
}

// RecentMessages returns at most limit rows ordered by id descending
// (newest first); the session manager reverses them for display.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, message, timestamp, sender FROM messages ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var result []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent messages: %w", err)
	}
	return result, nil
}

// LatestMessage returns the single most recently inserted message. The bool
// is false when the log is empty.
func (s *Store) LatestMessage(ctx context.Context) (message.Message, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, message, timestamp, sender FROM messages ORDER BY id DESC LIMIT 1",
	)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, false, nil
	}
	if err != nil {
		return message.Message{}, false, err
	}
	return m, true, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage converts a database row into a Message record.
func scanMessage(row rowScanner) (message.Message, error) {
	var m message.Message
	var sender string

	if err := row.Scan(&m.ID, &m.Content, &m.Timestamp, &sender); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, err
		}
		return message.Message{}, fmt.Errorf("failed to scan message row: %w", err)
	}

	m.Sender = message.User{Name: sender}
	return m, nil
}
