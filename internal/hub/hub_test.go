package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/proto"
)

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return New(&logger)
}

func mustEnvelope(t *testing.T, ch <-chan *proto.Envelope, envType string) *proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case env := <-ch:
			if env == nil {
				continue
			}
			if env.Type == envType {
				return env
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected envelope type %q not received", envType)
	return nil
}

func drainEnvelopes(ch <-chan *proto.Envelope) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestPublishRoutesToReceiver(t *testing.T) {
	h := newTestHub()

	alice := h.Subscribe(1)
	bob := h.Subscribe(2)
	defer h.Unsubscribe(alice)
	defer h.Unsubscribe(bob)
	drainEnvelopes(alice.Events)
	drainEnvelopes(bob.Events)

	h.Publish(&proto.Envelope{
		Type:       proto.TypeTyping,
		SenderID:   1,
		ReceiverID: 2,
	})

	env := mustEnvelope(t, bob.Events, proto.TypeTyping)
	if env.SenderID != 1 {
		t.Fatalf("expected sender 1, got %d", env.SenderID)
	}

	// Typing is not a message, so the sender gets no echo.
	select {
	case env := <-alice.Events:
		t.Fatalf("unexpected envelope for sender: %+v", env)
	default:
	}
}

func TestPublishEchoesMessageToSender(t *testing.T) {
	h := newTestHub()

	alice := h.Subscribe(1)
	bob := h.Subscribe(2)
	defer h.Unsubscribe(alice)
	defer h.Unsubscribe(bob)
	drainEnvelopes(alice.Events)
	drainEnvelopes(bob.Events)

	h.Publish(&proto.Envelope{
		Type:       proto.TypeMessage,
		SenderID:   1,
		ReceiverID: 2,
		Message:    &proto.Message{ID: "m1", SenderID: 1, ReceiverID: 2, Content: "hello"},
	})

	got := mustEnvelope(t, bob.Events, proto.TypeMessage)
	if got.Message == nil || got.Message.Content != "hello" {
		t.Fatalf("unexpected message for receiver: %+v", got.Message)
	}

	echo := mustEnvelope(t, alice.Events, proto.TypeMessage)
	if echo.Message == nil || echo.Message.ID != "m1" {
		t.Fatalf("unexpected echo for sender: %+v", echo.Message)
	}
}

func TestPublishToAbsentReceiverIsSilent(t *testing.T) {
	h := newTestHub()

	h.Publish(&proto.Envelope{
		Type:       proto.TypeCallInitiate,
		SenderID:   1,
		ReceiverID: 99,
	})
	// Nothing to assert beyond not panicking; the envelope is dropped.
}

func TestPresenceBroadcastOnFirstAndLastStream(t *testing.T) {
	h := newTestHub()

	alice := h.Subscribe(1)
	env := mustEnvelope(t, alice.Events, proto.TypeUserStatus)
	if len(env.Online) != 1 || env.Online[0] != 1 {
		t.Fatalf("expected online [1], got %v", env.Online)
	}

	bob := h.Subscribe(2)
	env = mustEnvelope(t, alice.Events, proto.TypeUserStatus)
	if len(env.Online) != 2 || env.Online[0] != 1 || env.Online[1] != 2 {
		t.Fatalf("expected online [1 2], got %v", env.Online)
	}

	// A second tab for bob must not re-broadcast.
	bobTab := h.Subscribe(2)
	drainEnvelopes(bobTab.Events)
	select {
	case env := <-alice.Events:
		t.Fatalf("unexpected broadcast for second stream: %+v", env)
	default:
	}

	// Closing one of bob's two streams keeps him online.
	h.Unsubscribe(bob)
	select {
	case env := <-alice.Events:
		t.Fatalf("unexpected broadcast, bob still has a stream: %+v", env)
	default:
	}

	// Closing the last one takes him offline.
	h.Unsubscribe(bobTab)
	env = mustEnvelope(t, alice.Events, proto.TypeUserStatus)
	if len(env.Online) != 1 || env.Online[0] != 1 {
		t.Fatalf("expected online [1] after bob left, got %v", env.Online)
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	h := newTestHub()

	sub := h.Subscribe(1)
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	if got := h.Online(); len(got) != 0 {
		t.Fatalf("expected nobody online, got %v", got)
	}
}

func TestSlowStreamDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub()

	bob := h.Subscribe(2)
	defer h.Unsubscribe(bob)
	drainEnvelopes(bob.Events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			h.Publish(&proto.Envelope{Type: proto.TypeTyping, SenderID: 1, ReceiverID: 2})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow stream")
	}
}

func TestOnlineSorted(t *testing.T) {
	h := newTestHub()

	for _, id := range []int64{5, 1, 3} {
		sub := h.Subscribe(id)
		defer h.Unsubscribe(sub)
	}

	got := h.Online()
	want := []int64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
