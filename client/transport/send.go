package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teamline-app/realtime/internal/proto"
)

// DeliveryError reports a failed persistence or fan-out call. Callers must
// surface it without corrupting local state.
type DeliveryError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("delivery failed (%s): status %d", e.Op, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Send delivers an outbound payload. For new-message payloads the draft is
// first durably persisted, and the returned server-confirmed record — never
// the draft — is forwarded for fan-out; the confirmed record is returned so
// the caller can reconcile its optimistic entry. Ephemeral payloads (typing,
// ICE, call lifecycle) are forwarded directly and return a nil message.
func (c *Client) Send(ctx context.Context, env *proto.Envelope) (*proto.Message, error) {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	if env.Type != proto.TypeNewMessage {
		return nil, c.publish(ctx, env)
	}

	if env.Message == nil {
		return nil, &DeliveryError{Op: "persist", Err: fmt.Errorf("new_message envelope without message")}
	}

	stored, err := c.createMessage(ctx, env.ReceiverID, env.Message.Content, env.Message.Type)
	if err != nil {
		return nil, err
	}

	out := &proto.Envelope{
		Type:       proto.TypeMessage,
		SenderID:   stored.SenderID,
		ReceiverID: stored.ReceiverID,
		Timestamp:  stored.CreatedAt.UnixMilli(),
		Message:    stored,
	}
	if err := c.publish(ctx, out); err != nil {
		return stored, err
	}
	return stored, nil
}

// publish forwards an envelope to the fan-out endpoint.
func (c *Client) publish(ctx context.Context, env *proto.Envelope) error {
	resp, err := c.post(ctx, "/api/events", env)
	if err != nil {
		return &DeliveryError{Op: "fan-out", Err: err}
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Op: "fan-out", StatusCode: resp.StatusCode}
	}
	return nil
}

// createMessage calls the persistence endpoint and decodes the stored record.
func (c *Client) createMessage(ctx context.Context, receiverID int64, content, msgType string) (*proto.Message, error) {
	body := map[string]any{
		"receiverId": receiverID,
		"content":    content,
		"type":       msgType,
	}
	resp, err := c.post(ctx, "/api/messages", body)
	if err != nil {
		return nil, &DeliveryError{Op: "persist", Err: err}
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{Op: "persist", StatusCode: resp.StatusCode}
	}

	var stored proto.Message
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, &DeliveryError{Op: "persist", Err: fmt.Errorf("decode stored message: %w", err)}
	}
	return &stored, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.http.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.http.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
