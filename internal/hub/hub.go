// Package hub routes envelopes to the open push streams of their addressed
// receivers and tracks which users currently hold at least one open stream.
package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/proto"
)

// subscriberBuffer is the per-stream event buffer. Slow consumers drop.
const subscriberBuffer = 16

// Subscriber is one open push stream belonging to a user. A user may hold
// several at once (multiple tabs); each gets its own event channel.
type Subscriber struct {
	UserID int64
	Events chan *proto.Envelope
}

// Hub fans envelopes out to subscribers and owns the online-presence set.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[*Subscriber]struct{}
	log  *zerolog.Logger
}

// New creates an empty hub.
func New(logger *zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[int64]map[*Subscriber]struct{}),
		log:  logger,
	}
}

// Subscribe registers a new stream for userID. When this is the user's first
// open stream, everyone receives a fresh presence broadcast.
func (h *Hub) Subscribe(userID int64) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		Events: make(chan *proto.Envelope, subscriberBuffer),
	}

	h.mu.Lock()
	first := len(h.subs[userID]) == 0
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	if first {
		h.broadcastPresence()
	}
	return sub
}

// Unsubscribe removes a stream. When the user's last stream closes, everyone
// receives a fresh presence broadcast. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	streams, ok := h.subs[sub.UserID]
	if ok {
		if _, exists := streams[sub]; !exists {
			ok = false
		}
		delete(streams, sub)
		if len(streams) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	last := ok && h.subs[sub.UserID] == nil
	h.mu.Unlock()

	if last {
		h.broadcastPresence()
	}
}

// Publish delivers an envelope to every open stream of its receiver.
// Message envelopes are additionally echoed to the sender's streams so all
// of the sender's tabs converge on the server-confirmed record.
func (h *Hub) Publish(env *proto.Envelope) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, 4)
	for sub := range h.subs[env.ReceiverID] {
		targets = append(targets, sub)
	}
	if env.Type == proto.TypeMessage && env.SenderID != env.ReceiverID {
		for sub := range h.subs[env.SenderID] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.Events <- env:
		default:
			// Drop if slow consumer.
			h.log.Warn().
				Int64("user_id", sub.UserID).
				Str("type", env.Type).
				Msg("dropping event for slow stream")
		}
	}
}

// Online returns the sorted ids of users with at least one open stream.
func (h *Hub) Online() []int64 {
	h.mu.RLock()
	ids := make([]int64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// broadcastPresence pushes the full online set to every open stream.
// Consumers replace their presence set wholesale, never incrementally.
func (h *Hub) broadcastPresence() {
	online := h.Online()
	env := &proto.Envelope{
		Type:      proto.TypeUserStatus,
		Timestamp: time.Now().UnixMilli(),
		Online:    online,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, streams := range h.subs {
		for sub := range streams {
			select {
			case sub.Events <- env:
			default:
			}
		}
	}
}
