// Package proto defines the wire envelope exchanged between the server and
// connected clients over the push stream and the publish endpoint.
package proto

import "time"

// Envelope types. The server routes by receiver and the client dispatches by
// Type; unknown types are ignored by both sides.
const (
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeUserStatus = "user_status"

	TypeCallInitiate = "call_initiate"
	TypeCallAccept   = "call_accept"
	TypeCallICE      = "call_ice"
	TypeCallReject   = "call_reject"
	TypeCallEnd      = "call_end"

	// TypeSignaling carries raw negotiation payloads that do not fit the
	// call lifecycle types above.
	TypeSignaling = "webrtc_signaling"

	// TypeNewMessage is a client-side send discriminator: the draft is
	// persisted first and the stored record is fanned out as TypeMessage.
	TypeNewMessage = "new_message"
)

// Message statuses, monotonically non-decreasing per message.
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// Message kinds.
const (
	MessageTypeText = "TEXT"
)

// Call media types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Call statuses. Transitions only move forward: ringing -> connected -> ended,
// or ringing -> ended on reject/cancel.
const (
	CallStatusRinging   = "ringing"
	CallStatusConnected = "connected"
	CallStatusEnded     = "ended"
)

// Envelope is the unit delivered over the push stream. SenderID, ReceiverID
// and Timestamp are always present; the payload fields depend on Type.
type Envelope struct {
	Type       string `json:"type"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Timestamp  int64  `json:"timestamp"`

	Message   *Message            `json:"message,omitempty"`
	Online    []int64             `json:"online,omitempty"`
	CallData  *CallData           `json:"callData,omitempty"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

// Message is a unit of conversation content.
type Message struct {
	ID         string    `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CallData describes one call attempt. It is session-scoped signaling state
// and is never persisted.
type CallData struct {
	ID           string              `json:"id"`
	CallerID     int64               `json:"callerId"`
	CallerName   string              `json:"callerName,omitempty"`
	CallerAvatar string              `json:"callerAvatar,omitempty"`
	ReceiverID   int64               `json:"receiverId"`
	Type         string              `json:"type"`
	Status       string              `json:"status"`
	SDP          *SessionDescription `json:"sdp,omitempty"`
	CreatedAt    int64               `json:"createdAt"`
}

// SessionDescription is an offer or answer payload.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a network-path candidate proposed by one peer.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// statusRank orders message statuses for monotonicity checks.
func statusRank(s string) int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// StatusAdvances reports whether moving from to next is a forward
// (non-decreasing) status transition.
func StatusAdvances(from, next string) bool {
	return statusRank(next) >= statusRank(from)
}
