package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	// DefaultHistoryLimit caps ListMessages when the caller passes no limit.
	DefaultHistoryLimit = 200
)

// Store is the SQLite-backed persistence for accounts, login sessions and
// channel history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Name is what other users see.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Session is a persisted login token.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Message is one stored chat message.
type Message struct {
	ID           string
	ChannelID    string
	Kind         string
	Sender       string
	SenderName   string
	Receiver     string
	ReceiverName string
	RoomName     string
	Body         string
	DisplayTime  string
	CreatedAt    time.Time
}

var (
	ErrUserExists      = errors.New("user already exists")
	ErrMessageExists   = errors.New("message already stored")
	ErrMissingChannel  = errors.New("message has no channel")
	ErrMissingIdentity = errors.New("message has no id")
)

// NewStore opens the SQLite database at path. Call Migrate before use and
// Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "livechat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			sender TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			receiver TEXT NOT NULL DEFAULT '',
			receiver_name TEXT NOT NULL DEFAULT '',
			room_name TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			display_time TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_channel_created ON messages(channel_id, created_at);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new account. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username, displayName string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, display_name, password_hash) VALUES(?, ?, ?)`,
		username, displayName, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername returns nil without error when no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// GetSession returns the session for token, or nil when it is unknown or
// expired. Expired rows are removed on sight.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		if err := s.DeleteSession(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &sess, nil
}

// DeleteSession removes a token (logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// SaveMessage persists a message that already carries its server id and
// creation time.
func (s *Store) SaveMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return ErrMissingIdentity
	}
	if msg.ChannelID == "" {
		return ErrMissingChannel
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(id, channel_id, kind, sender, sender_name, receiver, receiver_name,
			room_name, body, display_time, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.Kind, msg.Sender, msg.SenderName, msg.Receiver, msg.ReceiverName,
		msg.RoomName, msg.Body, msg.DisplayTime, msg.CreatedAt.UTC())
	if err != nil {
		if isConstraintError(err) {
			return ErrMessageExists
		}
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns the newest limit messages of a channel, oldest first.
func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, kind, sender, sender_name, receiver, receiver_name,
			room_name, body, display_time, created_at
		FROM (
			SELECT rowid AS seq, * FROM messages
			WHERE channel_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Kind, &m.Sender, &m.SenderName, &m.Receiver,
			&m.ReceiverName, &m.RoomName, &m.Body, &m.DisplayTime, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChannelExists reports whether any message was stored for channelID.
func (s *Store) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE channel_id = ?`, channelID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
