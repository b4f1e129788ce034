package rtc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/teamline-app/realtime/internal/proto"
)

// deniedDevices simulates a host refusing capture access.
type deniedDevices struct{}

func (deniedDevices) Capture(bool) (*LocalStream, error) {
	return nil, fmt.Errorf("permission denied")
}

func newTestManager() *Manager {
	return NewManager(NullDevices{}, nil, nil)
}

func hostCandidate() *proto.ICECandidate {
	idx := uint16(0)
	return &proto.ICECandidate{
		Candidate:     "candidate:3993625329 1 udp 2113937151 127.0.0.1 56032 typ host",
		SDPMLineIndex: &idx,
	}
}

func TestCleanupIdempotent(t *testing.T) {
	m := newTestManager()

	// No connection at all.
	m.Cleanup()

	if _, err := m.Start(false, 2, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, ok := m.ConnectionState(); !ok {
		t.Fatal("expected a live session after Start")
	}

	m.Cleanup()
	m.Cleanup()

	if _, ok := m.ConnectionState(); ok {
		t.Fatal("expected no session after Cleanup")
	}
	if m.TargetID() != 0 {
		t.Fatalf("expected target cleared, got %d", m.TargetID())
	}
}

func TestOperationsWithoutConnection(t *testing.T) {
	m := newTestManager()

	if _, err := m.CreateOffer(); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
	if _, err := m.HandleOffer(&proto.SessionDescription{Type: "offer", SDP: "v=0"}); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
	if err := m.HandleAnswer(&proto.SessionDescription{Type: "answer", SDP: "v=0"}); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestOfferAnswerNegotiation(t *testing.T) {
	caller := newTestManager()
	callee := newTestManager()
	defer caller.Cleanup()
	defer callee.Cleanup()

	if _, err := caller.Start(false, 2, nil); err != nil {
		t.Fatalf("caller Start failed: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Fatalf("unexpected offer: %+v", offer)
	}

	if _, err := callee.Start(false, 1, nil); err != nil {
		t.Fatalf("callee Start failed: %v", err)
	}
	answer, err := callee.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}
	if answer.Type != "answer" || answer.SDP == "" {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	if err := caller.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer failed: %v", err)
	}
}

func TestHandleAnswerWhileNotAwaitingIsNoOp(t *testing.T) {
	m := newTestManager()
	defer m.Cleanup()

	if _, err := m.Start(false, 2, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// No local offer is pending, so the answer must be ignored, not applied
	// and not an error.
	err := m.HandleAnswer(&proto.SessionDescription{Type: "answer", SDP: "v=0\r\n"})
	if err != nil {
		t.Fatalf("expected late answer to be ignored, got %v", err)
	}
}

func TestCandidateBufferedBeforeSessionExists(t *testing.T) {
	caller := newTestManager()
	callee := newTestManager()
	defer caller.Cleanup()
	defer callee.Cleanup()

	// A callee still ringing has no session yet; candidates must buffer.
	if err := callee.AddCandidate(hostCandidate()); err != nil {
		t.Fatalf("AddCandidate before session failed: %v", err)
	}
	callee.mu.Lock()
	buffered := len(callee.pending)
	callee.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("expected 1 buffered candidate, got %d", buffered)
	}

	if _, err := caller.Start(false, 2, nil); err != nil {
		t.Fatalf("caller Start failed: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	// Accept: the buffered candidate survives Start and flushes on the
	// remote description.
	if _, err := callee.Start(false, 1, nil); err != nil {
		t.Fatalf("callee Start failed: %v", err)
	}
	callee.mu.Lock()
	carried := len(callee.pending)
	callee.mu.Unlock()
	if carried != 1 {
		t.Fatalf("expected buffered candidate to survive Start, got %d", carried)
	}

	if _, err := callee.HandleOffer(offer); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}
	callee.mu.Lock()
	remaining := len(callee.pending)
	callee.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected buffer flushed after remote description, got %d", remaining)
	}
}

func TestCandidateBufferedBeforeRemoteDescription(t *testing.T) {
	caller := newTestManager()
	callee := newTestManager()
	defer caller.Cleanup()
	defer callee.Cleanup()

	if _, err := caller.Start(false, 2, nil); err != nil {
		t.Fatalf("caller Start failed: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	if _, err := callee.Start(false, 1, nil); err != nil {
		t.Fatalf("callee Start failed: %v", err)
	}

	// Session exists but no remote description yet: still buffered.
	if err := callee.AddCandidate(hostCandidate()); err != nil {
		t.Fatalf("AddCandidate failed: %v", err)
	}
	callee.mu.Lock()
	buffered := len(callee.pending)
	callee.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("expected candidate buffered, got %d", buffered)
	}

	if _, err := callee.HandleOffer(offer); err != nil {
		t.Fatalf("HandleOffer failed: %v", err)
	}

	// After the remote description, candidates apply directly.
	if err := callee.AddCandidate(hostCandidate()); err != nil {
		t.Fatalf("AddCandidate after remote description failed: %v", err)
	}
	callee.mu.Lock()
	remaining := len(callee.pending)
	callee.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no buffering after remote description, got %d", remaining)
	}
}

func TestStartTearsDownPreviousSession(t *testing.T) {
	m := newTestManager()
	defer m.Cleanup()

	if _, err := m.Start(false, 2, nil); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if _, err := m.Start(true, 3, nil); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if m.TargetID() != 3 {
		t.Fatalf("expected target 3, got %d", m.TargetID())
	}
	if _, ok := m.ConnectionState(); !ok {
		t.Fatal("expected a live session")
	}
}

func TestMediaAccessError(t *testing.T) {
	m := NewManager(deniedDevices{}, nil, nil)

	_, err := m.Start(false, 2, nil)
	var mediaErr *MediaAccessError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected MediaAccessError, got %v", err)
	}
	if _, ok := m.ConnectionState(); ok {
		t.Fatal("expected no session after capture failure")
	}
}

func TestStateHandlerInvokedOnRegistration(t *testing.T) {
	m := newTestManager()
	defer m.Cleanup()

	if _, err := m.Start(false, 2, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	called := make(chan ConnectionState, 1)
	m.OnConnectionStateChange(func(state ConnectionState) {
		select {
		case called <- state:
		default:
		}
	})

	select {
	case state := <-called:
		if state != StateNew {
			t.Fatalf("expected new state, got %v", state)
		}
	default:
		t.Fatal("handler not invoked with current state on registration")
	}
}

func TestSampleDevicesCapture(t *testing.T) {
	audioOnly, err := SampleDevices{}.Capture(false)
	if err != nil {
		t.Fatalf("audio capture failed: %v", err)
	}
	if len(audioOnly.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(audioOnly.Tracks))
	}

	withVideo, err := SampleDevices{}.Capture(true)
	if err != nil {
		t.Fatalf("video capture failed: %v", err)
	}
	if len(withVideo.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(withVideo.Tracks))
	}
}

func TestDeadStates(t *testing.T) {
	dead := []ConnectionState{StateDisconnected, StateFailed, StateClosed}
	for _, s := range dead {
		if !s.Dead() {
			t.Errorf("expected %v to be dead", s)
		}
	}
	alive := []ConnectionState{StateNew, StateConnecting, StateConnected}
	for _, s := range alive {
		if s.Dead() {
			t.Errorf("expected %v to be alive", s)
		}
	}
}
