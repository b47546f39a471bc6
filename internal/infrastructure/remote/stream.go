package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsim/joinsync/internal/application/join"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/session"
)

const (
	pongWait       = 60 * time.Second
	maxFrameBytes  = 1 << 20
	eventBufferLen = 8
)

// Subscribe opens a live stream for one topic. The channel delivers the
// snapshot first, then updates, and is closed when ctx is done or the
// stream ends.
func (c *Client) Subscribe(ctx context.Context, sessionID uuid.UUID, userID string, topic feed.Topic) (<-chan join.StreamEvent, error) {
	query := url.Values{}
	query.Set("topic", string(topic))
	if userID != "" {
		query.Set("user_id", userID)
	}
	if c.transport == TransportSSE {
		return c.subscribeSSE(ctx, c.endpoint(c.sessionPath(sessionID)+"/stream", query), topic)
	}
	return c.subscribeWS(ctx, c.endpoint(c.sessionPath(sessionID)+"/ws", query), topic)
}

func (c *Client) subscribeWS(ctx context.Context, u *url.URL, topic feed.Topic) (<-chan join.StreamEvent, error) {
	wsURL := *u
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	out := make(chan join.StreamEvent, eventBufferLen)
	logger := c.logger.With().Str("topic", string(topic)).Str("transport", "ws").Logger()

	// Closing the connection is the only way to unblock a pending read.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(out)
		defer close(stop)
		defer conn.Close()

		conn.SetReadLimit(maxFrameBytes)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		for {
			var f feed.Frame
			if err := conn.ReadJSON(&f); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("stream read ended")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if !forward(ctx, out, &f, logger) {
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) subscribeSSE(ctx context.Context, u *url.URL, topic feed.Topic) (<-chan join.StreamEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan join.StreamEvent, eventBufferLen)
	logger := c.logger.With().Str("topic", string(topic)).Str("transport", "sse").Logger()

	go func() {
		defer close(out)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), maxFrameBytes)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var f feed.Frame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			if !forward(ctx, out, &f, logger) {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			logger.Debug().Err(err).Msg("stream read ended")
		}
	}()
	return out, nil
}

// forward decodes f and hands it to the subscriber. It returns false once
// the stream should stop.
func forward(ctx context.Context, out chan<- join.StreamEvent, f *feed.Frame, logger zerolog.Logger) bool {
	ev, err := decodeFrame(f)
	if err != nil {
		logger.Warn().Err(err).Str("frame_type", string(f.Type)).Msg("dropping malformed frame")
		return true
	}
	select {
	case out <- ev:
	case <-ctx.Done():
		return false
	}
	return f.Type != feed.FrameAccess
}

func decodeFrame(f *feed.Frame) (join.StreamEvent, error) {
	ev := join.StreamEvent{Topic: f.Topic, Snapshot: f.Type == feed.FrameSnapshot}
	switch f.Type {
	case feed.FrameAccess:
		if f.Reason == "" {
			return ev, errors.New("access frame without reason")
		}
		ev.Denied = f.Reason
		return ev, nil
	case feed.FrameSnapshot, feed.FrameUpdate:
	default:
		return ev, fmt.Errorf("unknown frame type %q", f.Type)
	}

	switch f.Topic {
	case feed.TopicSession:
		var s *session.Session
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return ev, err
		}
		ev.Session = s
	case feed.TopicParticipant:
		var p *participant.Participant
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Participant = p
	case feed.TopicRoster:
		var r *roster.Snapshot
		if err := json.Unmarshal(f.Data, &r); err != nil {
			return ev, err
		}
		ev.Roster = r
	default:
		return ev, fmt.Errorf("%w: %q", feed.ErrUnknownTopic, f.Topic)
	}
	return ev, nil
}
