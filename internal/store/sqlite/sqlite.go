package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/teamline-app/realtime/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	sender_id   INTEGER NOT NULL REFERENCES users(id),
	receiver_id INTEGER NOT NULL REFERENCES users(id),
	content     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'SENT',
	type        TEXT NOT NULL DEFAULT 'TEXT',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (sender_id, receiver_id, created_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, display_name)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, username)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, display_name, avatar_url, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, display_name, avatar_url, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and returns the server-confirmed record.
// The server assigns the id and creation timestamp.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, receiverID int64, content, msgType string) (*store.Message, error) {
	if msgType == "" {
		msgType = "TEXT"
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Status:     "SENT",
		Type:       msgType,
		CreatedAt:  time.Now().UTC(),
	}

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, status, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Status, msg.Type, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListConversation returns all messages between two users, ascending by
// creation time.
func (s *SQLiteStore) ListConversation(ctx context.Context, userID, peerID int64) ([]*store.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, status, type, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, peerID, peerID, userID)
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID, &msg.SenderID, &msg.ReceiverID,
			&msg.Content, &msg.Status, &msg.Type, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// MarkConversationRead advances every message the peer sent to the owner to
// READ. Status only moves forward, so already-read rows are untouched.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, ownerID, peerID int64) error {
	query := `
		UPDATE messages
		SET status = 'READ'
		WHERE receiver_id = ? AND sender_id = ? AND status != 'READ'
	`
	if _, err := s.db.ExecContext(ctx, query, ownerID, peerID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ListContacts returns every other user with the conversation's last-message
// time and the owner's unread count, most recently active first.
func (s *SQLiteStore) ListContacts(ctx context.Context, ownerID int64) ([]*store.Contact, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.avatar_url,
			(SELECT MAX(m.created_at) FROM messages m
			 WHERE (m.sender_id = u.id AND m.receiver_id = ?)
			    OR (m.sender_id = ? AND m.receiver_id = u.id)) AS last_message_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.sender_id = u.id AND m.receiver_id = ? AND m.status != 'READ') AS unread
		FROM users u
		WHERE u.id != ?
		ORDER BY last_message_at IS NULL, last_message_at DESC, u.username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID, ownerID, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*store.Contact
	for rows.Next() {
		var c store.Contact
		var last sql.NullTime
		if err := rows.Scan(&c.UserID, &c.Username, &c.DisplayName, &c.AvatarURL, &last, &c.Unread); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if last.Valid {
			t := last.Time
			c.LastMessageAt = &t
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
