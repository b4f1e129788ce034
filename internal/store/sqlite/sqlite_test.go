package sqlite

import (
	"context"
	"testing"

	"github.com/teamline-app/realtime/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) []*store.User {
	t.Helper()

	ctx := context.Background()
	users := make([]*store.User, 0, len(names))
	for _, name := range names {
		u, err := s.CreateUser(ctx, name, "hash")
		if err != nil {
			t.Fatalf("failed to create user %s: %v", name, err)
		}
		users = append(users, u)
	}
	return users
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if created.ID == 0 || created.Username != "alice" {
		t.Fatalf("unexpected user: %+v", created)
	}

	byID, err := s.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("expected alice, got %s", byID.Username)
	}

	if _, err := s.GetUserByID(ctx, 9999); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetUserByUsername(ctx, "ghost"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessageAssignsServerFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")

	msg, err := s.CreateMessage(ctx, users[0].ID, users[1].ID, "hello", "")
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected server-assigned id")
	}
	if msg.Status != "SENT" || msg.Type != "TEXT" {
		t.Fatalf("unexpected defaults: status=%s type=%s", msg.Status, msg.Type)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("expected server-assigned timestamp")
	}
}

func TestListConversationBothDirectionsAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "charlie")
	alice, bob, charlie := users[0].ID, users[1].ID, users[2].ID

	for _, m := range []struct {
		from, to int64
		content  string
	}{
		{alice, bob, "one"},
		{bob, alice, "two"},
		{alice, bob, "three"},
		{alice, charlie, "other conversation"},
	} {
		if _, err := s.CreateMessage(ctx, m.from, m.to, m.content, ""); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := s.ListConversation(ctx, alice, bob)
	if err != nil {
		t.Fatalf("ListConversation failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("messages not ascending at index %d", i)
		}
	}
	if messages[0].Content != "one" {
		t.Fatalf("expected 'one' first, got %q", messages[0].Content)
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	alice, bob := users[0].ID, users[1].ID

	if _, err := s.CreateMessage(ctx, bob, alice, "unread one", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if _, err := s.CreateMessage(ctx, bob, alice, "unread two", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	// A message alice sent must stay untouched.
	if _, err := s.CreateMessage(ctx, alice, bob, "outbound", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if err := s.MarkConversationRead(ctx, alice, bob); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}

	messages, err := s.ListConversation(ctx, alice, bob)
	if err != nil {
		t.Fatalf("ListConversation failed: %v", err)
	}
	for _, m := range messages {
		if m.SenderID == bob && m.Status != "READ" {
			t.Fatalf("expected READ for inbound message, got %s", m.Status)
		}
		if m.SenderID == alice && m.Status != "SENT" {
			t.Fatalf("outbound message status changed: %s", m.Status)
		}
	}
}

func TestListContactsOrderAndUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "charlie", "dave")
	alice, bob, charlie := users[0].ID, users[1].ID, users[2].ID

	// bob talked to alice first, then charlie; charlie's thread is fresher.
	if _, err := s.CreateMessage(ctx, bob, alice, "from bob", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if _, err := s.CreateMessage(ctx, charlie, alice, "from charlie", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if _, err := s.CreateMessage(ctx, charlie, alice, "again", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	contacts, err := s.ListContacts(ctx, alice)
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != 3 {
		t.Fatalf("expected 3 contacts, got %d", len(contacts))
	}

	// Conversations with history come first, most recent leading; dave, with
	// no history, trails.
	if contacts[0].Username != "charlie" || contacts[1].Username != "bob" || contacts[2].Username != "dave" {
		names := []string{contacts[0].Username, contacts[1].Username, contacts[2].Username}
		t.Fatalf("unexpected order: %v", names)
	}
	if contacts[0].Unread != 2 {
		t.Fatalf("expected 2 unread from charlie, got %d", contacts[0].Unread)
	}
	if contacts[2].LastMessageAt != nil {
		t.Fatal("expected no last-message time for dave")
	}

	if err := s.MarkConversationRead(ctx, alice, charlie); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	contacts, err = s.ListContacts(ctx, alice)
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if contacts[0].Unread != 0 {
		t.Fatalf("expected 0 unread after mark-read, got %d", contacts[0].Unread)
	}
}
