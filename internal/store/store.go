package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	CreatedAt    time.Time
}

// Message represents a persisted conversation message.
// Status is one of SENT, DELIVERED, READ and only moves forward.
type Message struct {
	ID         string
	SenderID   int64
	ReceiverID int64
	Content    string
	Status     string
	Type       string
	CreatedAt  time.Time
}

// Contact is a conversation counterpart as listed in the contact panel:
// last-activity ordering plus the unread count for the owning user.
type Contact struct {
	UserID        int64
	Username      string
	DisplayName   string
	AvatarURL     string
	LastMessageAt *time.Time
	Unread        int
}

// UserStore provides user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore provides message persistence for the transport contract:
// create returns the server-confirmed record, history is ascending by
// creation time, mark-read advances status for one conversation side.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID int64, content, msgType string) (*Message, error)
	ListConversation(ctx context.Context, userID, peerID int64) ([]*Message, error)
	MarkConversationRead(ctx context.Context, ownerID, peerID int64) error
	ListContacts(ctx context.Context, ownerID int64) ([]*Contact, error)
}

// Store combines all persistence interfaces.
type Store interface {
	UserStore
	MessageStore
	Close() error
}
