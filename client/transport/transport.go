// Package transport implements the client side of the realtime push channel:
// one long-lived SSE stream for server-to-client events, and plain HTTP
// requests for the client-to-server direction.
package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/proto"
)

// Status is the connection state of the push stream.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// defaultReconnectDelay is the fixed pause between reconnection attempts.
// Attempts continue until Close; there is deliberately no backoff cap.
const defaultReconnectDelay = 3 * time.Second

// Handler consumes one inbound envelope.
type Handler func(*proto.Envelope)

// Config configures a transport client.
type Config struct {
	BaseURL string
	Token   string

	// HTTPClient defaults to a fresh http.Client.
	HTTPClient *http.Client
	// ReconnectDelay defaults to 3 seconds.
	ReconnectDelay time.Duration
	Logger         *zerolog.Logger
}

// Client is the single push-stream connection of one authenticated user.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	reconnectDelay time.Duration
	log            zerolog.Logger

	status atomic.Int32

	mu       sync.Mutex
	handlers map[string][]Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a client. Connect must be called to open the stream.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		http:           httpClient,
		reconnectDelay: delay,
		log:            logger,
		handlers:       make(map[string][]Handler),
	}
}

// On registers a handler for one envelope type. Envelope types without a
// registered handler are ignored, not errors.
func (c *Client) On(eventType string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], fn)
}

// Status reports the current stream status.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// Connect opens the push stream and keeps it open until Close. It is
// idempotent: a second call while the stream is running, or a call without
// credentials, is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.token == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Close tears the stream down and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run is the reconnect loop: open stream, pump events, on error wait the
// fixed delay and try again.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.status.Store(int32(StatusDisconnected))

	for {
		c.status.Store(int32(StatusConnecting))

		err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		c.status.Store(int32(StatusDisconnected))
		c.log.Warn().Err(err).Dur("retry_in", c.reconnectDelay).Msg("push stream dropped, scheduling reconnect")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) dispatch(env *proto.Envelope) {
	c.mu.Lock()
	fns := c.handlers[env.Type]
	c.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}
