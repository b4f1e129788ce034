package http

import (
	"io"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps intermediaries from reaping idle streams.
const heartbeatInterval = 25 * time.Second

// Stream serves the per-user push stream. Each request gets its own hub
// subscription; envelopes are written as SSE events named after their type,
// with the full envelope JSON as data. The stream stays open until the
// client goes away or the server shuts down.
// GET /api/events/stream
func (h *Handlers) Stream(c *gin.Context) {
	userID := currentUserID(c)

	sub := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// Open the stream immediately so the client flips to connected.
	if _, err := io.WriteString(c.Writer, ": connected\n\n"); err != nil {
		return
	}
	c.Writer.Flush()

	h.log.Debug().Int64("user_id", userID).Msg("stream opened")
	defer h.log.Debug().Int64("user_id", userID).Msg("stream closed")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case env := <-sub.Events:
			if err := sse.Encode(c.Writer, sse.Event{
				Event: env.Type,
				Data:  env,
			}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
