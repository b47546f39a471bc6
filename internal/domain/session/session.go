package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a simulation session.
type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidStatus = errors.New("invalid session status")
	ErrInvalidInput  = errors.New("invalid session input")
)

// Session is the shared record describing one simulation session. It is
// written by the administrator and read by participants.
type Session struct {
	ID                  int64      `json:"-"`
	SessionID           uuid.UUID  `json:"sessionId"`
	Name                string     `json:"name"`
	ScenarioID          uuid.UUID  `json:"scenarioId"`
	Status              Status     `json:"status"`
	InvitationToken     string     `json:"invitationToken"`
	RoleSelectionLocked bool       `json:"roleSelectionLocked"`
	CountdownEndTime    *time.Time `json:"countdownEndTime,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// ValidateStatus reports whether status is one of the known lifecycle states.
func ValidateStatus(status Status) error {
	switch status {
	case StatusPending, StatusOpen, StatusActive, StatusPaused, StatusEnded:
		return nil
	default:
		return ErrInvalidStatus
	}
}

// HasCountdown reports whether a launch countdown target is set.
func (s *Session) HasCountdown() bool {
	return s != nil && s.CountdownEndTime != nil && !s.CountdownEndTime.IsZero()
}

// CountdownDue reports whether the countdown target has passed at now.
func (s *Session) CountdownDue(now time.Time) bool {
	return s.HasCountdown() && !now.Before(*s.CountdownEndTime)
}

// Clone returns a deep copy so snapshots handed to other goroutines stay
// immutable.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.CountdownEndTime != nil {
		t := *s.CountdownEndTime
		out.CountdownEndTime = &t
	}
	return &out
}

// UnmarshalJSON decodes a session record. A countdownEndTime that is not a
// valid RFC 3339 timestamp decodes as no countdown instead of failing the
// whole record.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	var raw struct {
		alias
		CountdownEndTime json.RawMessage `json:"countdownEndTime,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Session(raw.alias)
	s.CountdownEndTime = parseTimestamp(raw.CountdownEndTime)
	return nil
}

func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil || t.IsZero() {
		return nil
	}
	return &t
}
