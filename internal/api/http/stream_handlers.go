package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/session"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// streamRequest is one validated stream subscription.
type streamRequest struct {
	visit  *Visit
	topics []feed.Topic
	userID string
}

// frameSink writes frames to one transport. ping keeps an idle connection
// alive.
type frameSink struct {
	send func(*feed.Frame) error
	ping func() error
}

func (s *Server) parseStreamRequest(w http.ResponseWriter, r *http.Request) (*streamRequest, bool) {
	v := visitFromContext(r.Context())
	topics, err := feed.ParseTopics(splitCSV(r.URL.Query().Get("topic")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return nil, false
	}
	return &streamRequest{
		visit:  v,
		topics: topics,
		userID: strings.TrimSpace(r.URL.Query().Get("user_id")),
	}, true
}

func (s *Server) sseStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseStreamRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	s.pump(r.Context(), req, frameSink{
		send: func(f *feed.Frame) error {
			payload, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		ping: func() error {
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	})
}

func (s *Server) wsStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseStreamRequest(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only handles control frames and notices the peer going
	// away.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.pump(ctx, req, frameSink{
		send: func(f *feed.Frame) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(f)
		},
		ping: func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		},
	})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// pump registers a hub subscriber, sends the current snapshots and then
// forwards updates until the client leaves, the hub drops the subscriber or
// the visit loses access. Every session update re-runs the access guard,
// whether or not the client asked for the session topic.
func (s *Server) pump(ctx context.Context, req *streamRequest, sink frameSink) {
	sid := req.visit.Session.SessionID
	wanted := make(map[feed.Topic]bool, len(req.topics))
	for _, t := range req.topics {
		wanted[t] = true
	}
	topics := req.topics
	if !wanted[feed.TopicSession] {
		topics = append(append([]feed.Topic(nil), topics...), feed.TopicSession)
	}

	sub := feed.NewSubscriber(sid, req.userID, topics, s.streamBuffer)
	s.hub.Register(sub)
	defer s.hub.Unregister(sub.ID)

	logger := s.logger.With().
		Str("subscriber_id", sub.ID).
		Str("session_id", sid.String()).
		Str("user_id", req.userID).
		Logger()
	logger.Debug().Int("topics", len(req.topics)).Msg("stream opened")
	defer func() { logger.Debug().Msg("stream closed") }()

	if err := s.sendSnapshots(ctx, req, sink); err != nil {
		logger.Warn().Err(err).Msg("failed to send snapshots")
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		case msg := <-sub.C:
			if msg == nil {
				logger.Info().Msg("stream dropped by hub")
				return
			}
			payload := msg.Payload
			if msg.Topic == feed.TopicSession {
				sess, _ := payload.(*session.Session)
				decision := access.Evaluate(sess, req.visit.Token)
				if decision.IsAccessError() {
					logger.Info().Str("reason", string(decision.Reason)).Msg("stream access revoked")
					_ = sink.send(feed.AccessFrame(decision.Reason))
					return
				}
				if !wanted[feed.TopicSession] {
					continue
				}
				payload = redactSession(sess, req.visit.Token)
			}
			frame, err := feed.EncodeFrame(feed.FrameUpdate, msg.Topic, payload)
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode frame")
				continue
			}
			if err := sink.send(frame); err != nil {
				return
			}
		}
	}
}

// sendSnapshots reads every record after the subscriber is registered, so
// a change racing the connect shows up either here or as an update.
func (s *Server) sendSnapshots(ctx context.Context, req *streamRequest, sink frameSink) error {
	sid := req.visit.Session.SessionID
	for _, topic := range req.topics {
		var payload any
		switch topic {
		case feed.TopicSession:
			sess, err := s.sessionSvc.Get(ctx, sid)
			if err != nil {
				return err
			}
			payload = req.visit.SessionView(sess)
		case feed.TopicParticipant:
			if req.userID == "" {
				continue
			}
			p, err := s.participantSvc.Get(ctx, sid, req.userID)
			if err != nil && !errors.Is(err, participant.ErrNotFound) {
				return err
			}
			payload = p
		case feed.TopicRoster:
			snap, err := s.rosterSvc.Snapshot(ctx, sid)
			if err != nil {
				return err
			}
			payload = snap
		}
		frame, err := feed.EncodeFrame(feed.FrameSnapshot, topic, payload)
		if err != nil {
			return err
		}
		if err := sink.send(frame); err != nil {
			return err
		}
	}
	return nil
}
