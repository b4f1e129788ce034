// Package chat caches per-conversation message lists on the client and keeps
// them synchronized with the server. Every conversation list is duplicate-free
// and ordered ascending by creation time after every mutation.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/client/transport"
	"github.com/teamline-app/realtime/internal/proto"
)

// defaultFetchCooldown rate-limits history fetches per conversation. It is
// not a cache-validity window, only a floor on fetch frequency.
const defaultFetchCooldown = 2 * time.Second

// API is the server surface the store synchronizes against. *transport.Client
// implements it.
type API interface {
	FetchMessages(ctx context.Context, peerID int64) ([]*proto.Message, error)
	MarkRead(ctx context.Context, peerID int64) error
	FetchContacts(ctx context.Context) (*transport.ContactList, error)
}

// Config configures a Store.
type Config struct {
	API API

	// FetchCooldown defaults to 2s.
	FetchCooldown time.Duration
	Logger        *zerolog.Logger

	// now is swapped by tests.
	now func() time.Time
}

// Store is the client-side message cache. Conversations are keyed by the
// counterpart's user id.
type Store struct {
	api      API
	log      zerolog.Logger
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	selected      int64
	conversations map[int64][]*proto.Message
	lastFetch     map[int64]time.Time
	inFlight      map[int64]bool
	contacts      []transport.Contact
}

// NewStore creates an empty store with no conversation selected.
func NewStore(cfg Config) *Store {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	cooldown := cfg.FetchCooldown
	if cooldown <= 0 {
		cooldown = defaultFetchCooldown
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}
	return &Store{
		api:           cfg.API,
		log:           logger,
		cooldown:      cooldown,
		now:           now,
		conversations: make(map[int64][]*proto.Message),
		lastFetch:     make(map[int64]time.Time),
		inFlight:      make(map[int64]bool),
	}
}

// SetSelected makes peerID the active conversation and fetches its history
// when the cooldown allows. Re-selecting the current conversation is a no-op.
func (s *Store) SetSelected(ctx context.Context, peerID int64) error {
	s.mu.Lock()
	if s.selected == peerID {
		s.mu.Unlock()
		return nil
	}
	s.selected = peerID
	s.mu.Unlock()

	if peerID != 0 && s.CanFetch(peerID) {
		return s.Fetch(ctx, peerID)
	}
	return nil
}

// Selected returns the active conversation's counterpart id, zero when none.
func (s *Store) Selected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// CanFetch reports whether a history fetch for peerID is allowed: false only
// while a fetch completed within the cooldown window.
func (s *Store) CanFetch(peerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastFetch[peerID]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.cooldown
}

// Fetch retrieves the server's history for one conversation and merges it with
// the local list. Local entries the server does not know yet, typically
// optimistic sends, survive the merge. Concurrent fetches for the same
// conversation collapse into one.
func (s *Store) Fetch(ctx context.Context, peerID int64) error {
	s.mu.Lock()
	if s.inFlight[peerID] {
		s.mu.Unlock()
		return nil
	}
	s.inFlight[peerID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight[peerID] = false
		s.mu.Unlock()
	}()

	fetched, err := s.api.FetchMessages(ctx, peerID)
	if err != nil {
		s.log.Warn().Err(err).Int64("peer_id", peerID).Msg("history fetch failed")
		return err
	}

	s.mu.Lock()
	s.conversations[peerID] = mergeMessages(s.conversations[peerID], fetched)
	s.lastFetch[peerID] = s.now()
	s.mu.Unlock()
	return nil
}

// Add inserts a message into the conversation with peerID, filling defaults
// for missing fields. A message whose id is already present is ignored, so
// the server echo of an optimistic send never duplicates. The filled record
// is returned.
func (s *Store) Add(peerID int64, msg *proto.Message) *proto.Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.Status == "" {
		msg.Status = proto.StatusSent
	}
	if msg.Type == "" {
		msg.Type = proto.MessageTypeText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conversations[peerID] {
		if existing.ID == msg.ID {
			return existing
		}
	}
	list := append(s.conversations[peerID], msg)
	sortMessages(list)
	s.conversations[peerID] = list

	s.touchContact(peerID, msg)
	return msg
}

// MarkRead zeroes the unread indicator for peerID optimistically, then
// confirms with the server. On failure the contact list is re-synced from the
// server rather than rolled back locally.
func (s *Store) MarkRead(ctx context.Context, peerID int64) error {
	return s.optimistic(ctx,
		func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i := range s.contacts {
				if s.contacts[i].UserID == peerID {
					s.contacts[i].Unread = 0
				}
			}
		},
		func(ctx context.Context) error {
			return s.api.MarkRead(ctx, peerID)
		},
	)
}

// optimistic applies a local mutation immediately, attempts the remote
// confirmation, and compensates a remote failure by re-syncing the contact
// list from the server.
func (s *Store) optimistic(ctx context.Context, apply func(), confirm func(context.Context) error) error {
	apply()
	err := confirm(ctx)
	if err == nil {
		return nil
	}
	s.log.Warn().Err(err).Msg("remote confirmation failed, re-syncing contacts")
	if syncErr := s.SyncContacts(ctx); syncErr != nil {
		s.log.Warn().Err(syncErr).Msg("contact re-sync failed")
	}
	return err
}

// SyncContacts replaces the cached contact list with the server's.
func (s *Store) SyncContacts(ctx context.Context) error {
	list, err := s.api.FetchContacts(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.contacts = list.Contacts
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of one conversation's list, ascending by creation
// time.
func (s *Store) Messages(peerID int64) []*proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*proto.Message(nil), s.conversations[peerID]...)
}

// Contacts returns a copy of the cached contact list.
func (s *Store) Contacts() []transport.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Contact(nil), s.contacts...)
}

// touchContact bumps the conversation's last-message timestamp and, for an
// inbound message into a conversation that is not on screen, its unread
// counter. Callers hold s.mu.
func (s *Store) touchContact(peerID int64, msg *proto.Message) {
	inbound := msg.SenderID == peerID
	for i := range s.contacts {
		if s.contacts[i].UserID != peerID {
			continue
		}
		at := msg.CreatedAt
		s.contacts[i].LastMessageAt = &at
		if inbound && s.selected != peerID {
			s.contacts[i].Unread++
		}
		return
	}
}

// mergeMessages folds a fetched server list into the local one: the server
// list wins on shared ids, local-only entries are preserved, and the result
// is duplicate-free and sorted ascending.
func mergeMessages(local, fetched []*proto.Message) []*proto.Message {
	seen := make(map[string]struct{}, len(fetched))
	merged := make([]*proto.Message, 0, len(fetched)+len(local))
	for _, msg := range fetched {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}
	for _, msg := range local {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}
	sortMessages(merged)
	return merged
}

func sortMessages(list []*proto.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
