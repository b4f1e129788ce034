package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamline-app/realtime/internal/proto"
)

// Contact is one entry of the sorted contact list.
type Contact struct {
	UserID        int64      `json:"userId"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	Unread        int        `json:"unread"`
}

// ContactList is the contact roster plus the presence seed.
type ContactList struct {
	Contacts []Contact `json:"contacts"`
	Online   []int64   `json:"online"`
}

// RTCConfig is the path-discovery server list for peer negotiation.
type RTCConfig struct {
	ICEServers []string `json:"iceServers"`
}

// FetchMessages retrieves the conversation history with one counterpart.
func (c *Client) FetchMessages(ctx context.Context, peerID int64) ([]*proto.Message, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/api/messages/%d", peerID))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch messages: unexpected status %d", resp.StatusCode)
	}

	var messages []*proto.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// MarkRead confirms the caller has read the conversation with peerID.
func (c *Client) MarkRead(ctx context.Context, peerID int64) error {
	resp, err := c.post(ctx, fmt.Sprintf("/api/messages/%d/read", peerID), struct{}{})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mark read: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FetchContacts retrieves the sorted contact list and presence seed.
func (c *Client) FetchContacts(ctx context.Context) (*ContactList, error) {
	resp, err := c.get(ctx, "/api/contacts")
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch contacts: unexpected status %d", resp.StatusCode)
	}

	var list ContactList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	return &list, nil
}

// FetchRTCConfig retrieves the STUN/TURN server list.
func (c *Client) FetchRTCConfig(ctx context.Context) (*RTCConfig, error) {
	resp, err := c.get(ctx, "/api/rtc-config")
	if err != nil {
		return nil, fmt.Errorf("fetch rtc config: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch rtc config: unexpected status %d", resp.StatusCode)
	}

	var cfg RTCConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode rtc config: %w", err)
	}
	return &cfg, nil
}
