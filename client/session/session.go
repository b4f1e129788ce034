// Package session is the composition point a client application depends on:
// it wires the push-stream transport into the message store and the call
// state machine, and owns the two pieces of presence bookkeeping (the online
// set and the per-sender typing indicators). It holds no logic of its own
// beyond wiring and defaulting.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/client/call"
	"github.com/teamline-app/realtime/client/chat"
	"github.com/teamline-app/realtime/client/transport"
	"github.com/teamline-app/realtime/internal/proto"
)

// defaultTypingTTL is how long a typing indicator stays lit without renewal.
const defaultTypingTTL = 3 * time.Second

// Config configures a Session.
type Config struct {
	SelfID    int64
	Transport *transport.Client
	Store     *chat.Store
	Calls     *call.Machine

	// TypingTTL defaults to 3s.
	TypingTTL time.Duration
	Logger    *zerolog.Logger
}

// Session glues the SDK components together for one signed-in user.
type Session struct {
	selfID    int64
	transport *transport.Client
	store     *chat.Store
	calls     *call.Machine
	log       zerolog.Logger
	typingTTL time.Duration

	mu       sync.Mutex
	online   map[int64]struct{}
	typing   map[int64]*time.Timer
	onChange func()
	closed   bool
}

// New wires the transport's event dispatch into the store and call machine.
// The caller still owns Connect and Close on the session.
func New(cfg Config) *Session {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ttl := cfg.TypingTTL
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}

	s := &Session{
		selfID:    cfg.SelfID,
		transport: cfg.Transport,
		store:     cfg.Store,
		calls:     cfg.Calls,
		log:       logger,
		typingTTL: ttl,
		online:    make(map[int64]struct{}),
		typing:    make(map[int64]*time.Timer),
	}

	s.transport.On(proto.TypeMessage, s.handleMessage)
	s.transport.On(proto.TypeTyping, s.handleTyping)
	s.transport.On(proto.TypeUserStatus, s.handleUserStatus)
	for _, t := range []string{
		proto.TypeCallInitiate,
		proto.TypeCallAccept,
		proto.TypeCallICE,
		proto.TypeCallReject,
		proto.TypeCallEnd,
	} {
		s.transport.On(t, s.handleCallEvent)
	}

	return s
}

// SetOnChange registers the observer invoked after presence or typing state
// changes.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Connect opens the push stream.
func (s *Session) Connect() { s.transport.Connect() }

// Close tears down the transport, any in-flight call and the typing timers.
func (s *Session) Close() {
	s.transport.Close()
	s.calls.Close()

	s.mu.Lock()
	s.closed = true
	for id, timer := range s.typing {
		timer.Stop()
		delete(s.typing, id)
	}
	s.mu.Unlock()
}

// SendMessage persists a draft addressed to peerID and caches the stored
// record. The server echo of the fan-out deduplicates against it by id.
func (s *Session) SendMessage(ctx context.Context, peerID int64, content string) (*proto.Message, error) {
	env := &proto.Envelope{
		Type:       proto.TypeNewMessage,
		SenderID:   s.selfID,
		ReceiverID: peerID,
		Message: &proto.Message{
			SenderID:   s.selfID,
			ReceiverID: peerID,
			Content:    content,
			Type:       proto.MessageTypeText,
		},
	}
	stored, err := s.transport.Send(ctx, env)
	if err != nil {
		return nil, err
	}
	s.store.Add(peerID, stored)
	return stored, nil
}

// SendTyping notifies peerID that this user is typing.
func (s *Session) SendTyping(ctx context.Context, peerID int64) error {
	_, err := s.transport.Send(ctx, &proto.Envelope{
		Type:       proto.TypeTyping,
		SenderID:   s.selfID,
		ReceiverID: peerID,
	})
	return err
}

// SelectChat re-exports the store's conversation selection.
func (s *Session) SelectChat(ctx context.Context, peerID int64) error {
	return s.store.SetSelected(ctx, peerID)
}

// Messages returns the selected conversation's list, empty when nothing is
// selected.
func (s *Session) Messages() []*proto.Message {
	selected := s.store.Selected()
	if selected == 0 {
		return nil
	}
	return s.store.Messages(selected)
}

// MarkRead re-exports the store's optimistic mark-as-read.
func (s *Session) MarkRead(ctx context.Context, peerID int64) error {
	return s.store.MarkRead(ctx, peerID)
}

// Contacts re-exports the cached contact list.
func (s *Session) Contacts() []transport.Contact { return s.store.Contacts() }

// StartCall, AcceptCall, RejectCall and EndCall re-export the call machine's
// controls.
func (s *Session) StartCall(ctx context.Context, peerID int64, callType string) error {
	return s.calls.Initiate(ctx, peerID, callType)
}

func (s *Session) AcceptCall(ctx context.Context) error { return s.calls.Accept(ctx) }
func (s *Session) RejectCall(ctx context.Context) error { return s.calls.Reject(ctx) }
func (s *Session) EndCall(ctx context.Context) error    { return s.calls.End(ctx) }

// CallState re-exports the call machine's current state.
func (s *Session) CallState() call.State { return s.calls.State() }

// Online returns the sorted online user ids.
func (s *Session) Online() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsOnline reports whether peerID is in the online set.
func (s *Session) IsOnline(peerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[peerID]
	return ok
}

// IsTyping reports whether peerID has sent a typing signal within the TTL.
func (s *Session) IsTyping(peerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[peerID]
	return ok
}

func (s *Session) handleMessage(env *proto.Envelope) {
	if env.Message == nil {
		return
	}
	// Conversations are keyed by the counterpart, whichever direction the
	// message traveled.
	peer := env.Message.SenderID
	if peer == s.selfID {
		peer = env.Message.ReceiverID
	}
	s.store.Add(peer, env.Message)
	s.notify()
}

// handleTyping lights the sender's typing indicator for the TTL; a renewed
// signal resets the clock instead of stacking timers.
func (s *Session) handleTyping(env *proto.Envelope) {
	sender := env.SenderID
	if sender == 0 || sender == s.selfID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if timer, ok := s.typing[sender]; ok {
		timer.Reset(s.typingTTL)
		s.mu.Unlock()
		return
	}
	s.typing[sender] = time.AfterFunc(s.typingTTL, func() {
		s.mu.Lock()
		delete(s.typing, sender)
		s.mu.Unlock()
		s.notify()
	})
	s.mu.Unlock()
	s.notify()
}

// handleUserStatus replaces the online set wholesale with the envelope's
// list; it is never patched incrementally.
func (s *Session) handleUserStatus(env *proto.Envelope) {
	next := make(map[int64]struct{}, len(env.Online))
	for _, id := range env.Online {
		next[id] = struct{}{}
	}

	s.mu.Lock()
	s.online = next
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleCallEvent(env *proto.Envelope) {
	s.calls.HandleEvent(context.Background(), env)
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
