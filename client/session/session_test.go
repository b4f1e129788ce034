package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/teamline-app/realtime/client/call"
	"github.com/teamline-app/realtime/client/chat"
	"github.com/teamline-app/realtime/client/rtc"
	"github.com/teamline-app/realtime/client/transport"
	"github.com/teamline-app/realtime/internal/proto"
)

type stubAPI struct{}

func (stubAPI) FetchMessages(ctx context.Context, peerID int64) ([]*proto.Message, error) {
	return nil, nil
}
func (stubAPI) MarkRead(ctx context.Context, peerID int64) error { return nil }
func (stubAPI) FetchContacts(ctx context.Context) (*transport.ContactList, error) {
	return &transport.ContactList{}, nil
}

type stubPeer struct{}

func (stubPeer) Start(bool, int64, func(*proto.ICECandidate)) (*rtc.LocalStream, error) {
	return &rtc.LocalStream{}, nil
}
func (stubPeer) CreateOffer() (*proto.SessionDescription, error) {
	return &proto.SessionDescription{Type: "offer"}, nil
}
func (stubPeer) HandleOffer(*proto.SessionDescription) (*proto.SessionDescription, error) {
	return &proto.SessionDescription{Type: "answer"}, nil
}
func (stubPeer) HandleAnswer(*proto.SessionDescription) error { return nil }
func (stubPeer) AddCandidate(*proto.ICECandidate) error       { return nil }
func (stubPeer) OnConnectionStateChange(rtc.StateHandler)     {}
func (stubPeer) ConnectionState() (rtc.ConnectionState, bool) { return rtc.StateNew, true }
func (stubPeer) Cleanup()                                     {}

type stubSignaler struct {
	mu   sync.Mutex
	sent []*proto.Envelope
}

func (s *stubSignaler) Send(ctx context.Context, env *proto.Envelope) (*proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil, nil
}

func newTestSession(t *testing.T, typingTTL time.Duration) *Session {
	t.Helper()

	machine := call.NewMachine(call.Config{
		SelfID:   1,
		SelfName: "alice",
		Peer:     stubPeer{},
		Signaler: &stubSignaler{},
	})

	s := New(Config{
		SelfID:    1,
		Transport: transport.New(transport.Config{BaseURL: "http://127.0.0.1:0", Token: "t"}),
		Store:     chat.NewStore(chat.Config{API: stubAPI{}}),
		Calls:     machine,
		TypingTTL: typingTTL,
	})
	t.Cleanup(s.Close)
	return s
}

func TestUserStatusReplacesOnlineSetWholesale(t *testing.T) {
	s := newTestSession(t, 0)

	s.handleUserStatus(&proto.Envelope{Type: proto.TypeUserStatus, Online: []int64{5, 2, 3}})
	got := s.Online()
	if len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("expected sorted [2 3 5], got %v", got)
	}

	// The next broadcast replaces, never patches.
	s.handleUserStatus(&proto.Envelope{Type: proto.TypeUserStatus, Online: []int64{7}})
	got = s.Online()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected [7], got %v", got)
	}
	if s.IsOnline(2) {
		t.Fatal("stale presence survived replacement")
	}

	s.handleUserStatus(&proto.Envelope{Type: proto.TypeUserStatus})
	if len(s.Online()) != 0 {
		t.Fatalf("expected empty set, got %v", s.Online())
	}
}

func TestTypingIndicatorExpires(t *testing.T) {
	s := newTestSession(t, 50*time.Millisecond)

	s.handleTyping(&proto.Envelope{Type: proto.TypeTyping, SenderID: 2})
	if !s.IsTyping(2) {
		t.Fatal("expected typing indicator lit")
	}

	deadline := time.Now().Add(time.Second)
	for s.IsTyping(2) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.IsTyping(2) {
		t.Fatal("typing indicator never expired")
	}
}

func TestTypingRenewalResetsTimer(t *testing.T) {
	s := newTestSession(t, 80*time.Millisecond)

	s.handleTyping(&proto.Envelope{Type: proto.TypeTyping, SenderID: 2})
	time.Sleep(50 * time.Millisecond)
	s.handleTyping(&proto.Envelope{Type: proto.TypeTyping, SenderID: 2})
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first signal, but only 50ms after the renewal.
	if !s.IsTyping(2) {
		t.Fatal("renewed typing indicator expired early")
	}
}

func TestOwnTypingIgnored(t *testing.T) {
	s := newTestSession(t, 0)

	s.handleTyping(&proto.Envelope{Type: proto.TypeTyping, SenderID: 1})
	if s.IsTyping(1) {
		t.Fatal("own typing signal should be ignored")
	}
}

func TestInboundMessageKeyedByCounterpart(t *testing.T) {
	s := newTestSession(t, 0)

	// Inbound from bob.
	s.handleMessage(&proto.Envelope{
		Type:    proto.TypeMessage,
		Message: &proto.Message{ID: "m1", SenderID: 2, ReceiverID: 1, Content: "hi", CreatedAt: time.Now()},
	})
	// Server echo of our own message to bob.
	s.handleMessage(&proto.Envelope{
		Type:    proto.TypeMessage,
		Message: &proto.Message{ID: "m2", SenderID: 1, ReceiverID: 2, Content: "hello", CreatedAt: time.Now()},
	})

	if err := s.SelectChat(context.Background(), 2); err != nil {
		t.Fatalf("SelectChat failed: %v", err)
	}
	list := s.Messages()
	if len(list) != 2 {
		t.Fatalf("expected both directions in one conversation, got %d", len(list))
	}
}

func TestCallControlsReExported(t *testing.T) {
	s := newTestSession(t, 0)

	if err := s.StartCall(context.Background(), 2, proto.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if _, ok := s.CallState().(call.Ringing); !ok {
		t.Fatalf("expected ringing, got %T", s.CallState())
	}
	if err := s.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}
	if _, ok := s.CallState().(call.Idle); !ok {
		t.Fatalf("expected idle, got %T", s.CallState())
	}
}

func TestOnChangeNotified(t *testing.T) {
	s := newTestSession(t, 0)

	var mu sync.Mutex
	changes := 0
	s.SetOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	s.handleUserStatus(&proto.Envelope{Type: proto.TypeUserStatus, Online: []int64{2}})
	s.handleTyping(&proto.Envelope{Type: proto.TypeTyping, SenderID: 2})

	mu.Lock()
	defer mu.Unlock()
	if changes < 2 {
		t.Fatalf("expected at least 2 change notifications, got %d", changes)
	}
}
