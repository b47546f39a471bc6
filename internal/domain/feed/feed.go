package feed

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsim/joinsync/internal/domain/access"
)

// Topic names one of the three record streams of a session.
type Topic string

const (
	TopicSession     Topic = "session"
	TopicParticipant Topic = "participant"
	TopicRoster      Topic = "roster"
)

// FrameType distinguishes what a stream frame carries.
type FrameType string

const (
	FrameSnapshot FrameType = "snapshot"
	FrameUpdate   FrameType = "update"
	FrameAccess   FrameType = "access"
)

var ErrUnknownTopic = errors.New("unknown feed topic")

// ParseTopics parses a list of topic names. An empty list selects every
// topic.
func ParseTopics(names []string) ([]Topic, error) {
	if len(names) == 0 {
		return []Topic{TopicSession, TopicParticipant, TopicRoster}, nil
	}
	out := make([]Topic, 0, len(names))
	for _, n := range names {
		t := Topic(n)
		switch t {
		case TopicSession, TopicParticipant, TopicRoster:
			out = append(out, t)
		default:
			return nil, ErrUnknownTopic
		}
	}
	return out, nil
}

// Message is one record change published to a session's subscribers.
// Payload is the record itself; UserID is set for participant messages.
type Message struct {
	Topic       Topic
	SessionID   uuid.UUID
	UserID      string
	Payload     any
	PublishedAt time.Time
}

// NewMessage builds a message stamped with the current time.
func NewMessage(topic Topic, sessionID uuid.UUID, userID string, payload any) *Message {
	return &Message{
		Topic:       topic,
		SessionID:   sessionID,
		UserID:      userID,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
}

// Frame is the wire shape of every stream message.
type Frame struct {
	Type   FrameType       `json:"type"`
	Topic  Topic           `json:"topic,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason access.Reason   `json:"reason,omitempty"`
}

// EncodeFrame marshals payload into a frame.
func EncodeFrame(typ FrameType, topic Topic, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: typ, Topic: topic, Data: data}, nil
}

// AccessFrame reports a terminal access decision to a stream.
func AccessFrame(reason access.Reason) *Frame {
	return &Frame{Type: FrameAccess, Reason: reason}
}

// Subscriber is one live stream attached to a session.
type Subscriber struct {
	ID          string
	SessionID   uuid.UUID
	UserID      string
	ConnectedAt time.Time
	C           chan *Message

	topics map[Topic]struct{}
	once   sync.Once
}

// NewSubscriber creates a subscriber with a buffered message channel. An
// empty userID receives participant messages for every user.
func NewSubscriber(sessionID uuid.UUID, userID string, topics []Topic, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	set := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return &Subscriber{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		C:           make(chan *Message, buffer),
		topics:      set,
	}
}

// Wants reports whether msg is addressed to this subscriber.
func (s *Subscriber) Wants(msg *Message) bool {
	if msg == nil || msg.SessionID != s.SessionID {
		return false
	}
	if !s.HasTopic(msg.Topic) {
		return false
	}
	if msg.Topic == TopicParticipant && s.UserID != "" && msg.UserID != s.UserID {
		return false
	}
	return true
}

// HasTopic reports whether the subscriber selected topic.
func (s *Subscriber) HasTopic(topic Topic) bool {
	_, ok := s.topics[topic]
	return ok
}

// Close closes the message channel. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.C) })
}

// Publisher is implemented by anything that fans messages out.
type Publisher interface {
	Publish(msg *Message)
}

// Hub manages live subscribers.
type Hub interface {
	Publisher
	Register(sub *Subscriber)
	Unregister(id string)
	Count(sessionID uuid.UUID) int
	Stop()
}
