package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/teamline-app/realtime/internal/proto"
)

// stream opens the SSE connection and pumps events until the connection
// drops or ctx is cancelled. The wire format is standard server-sent events:
// optional "event:" line, one or more "data:" lines carrying the envelope
// JSON, a blank line terminating each event, ":" comment lines for
// heartbeats.
func (c *Client) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events/stream", nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	c.status.Store(int32(StatusConnected))
	c.log.Debug().Msg("push stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// End of event: dispatch accumulated data.
			if data.Len() > 0 {
				c.handleEventData(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry: fields carry nothing the envelope doesn't.
		}
	}
	return scanner.Err()
}

func (c *Client) handleEventData(raw string) {
	var env proto.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed stream event")
		return
	}
	c.dispatch(&env)
}
