package participant

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status represents a participant's onboarding or presence state.
type Status string

const (
	StatusNotJoined     Status = "not_joined"
	StatusSelectingRole Status = "selecting_role"
	StatusWaiting       Status = "waiting"
	StatusJoined        Status = "joined"
	StatusLeft          Status = "left"
	StatusRemoved       Status = "removed"
)

const (
	maxNameLength     = 64
	maxFallbackLength = 4
)

var (
	ErrNotFound            = errors.New("participant not found")
	ErrInvalidNames        = errors.New("real name and display name are required")
	ErrNameTooLong         = errors.New("name is too long")
	ErrInvalidUserID       = errors.New("user id is required")
	ErrInvalidStatus       = errors.New("invalid participant status")
	ErrRoleSelectionLocked = errors.New("role selection is locked")
	ErrUnknownRole         = errors.New("role does not exist in scenario")
	ErrRemoved             = errors.New("participant was removed from the session")
)

// Participant is one user's identity, role and status within a session.
// Both the participant and the administrator write to it; the store
// assigns Version on every write.
type Participant struct {
	ID             int64      `json:"-"`
	SessionID      uuid.UUID  `json:"sessionId"`
	UserID         string     `json:"userId"`
	RealName       string     `json:"realName"`
	DisplayName    string     `json:"displayName"`
	RoleID         *string    `json:"roleId,omitempty"`
	RoleName       *string    `json:"roleName,omitempty"`
	AvatarFallback string     `json:"avatarFallback,omitempty"`
	Status         Status     `json:"status"`
	IsBot          bool       `json:"isBot"`
	Muted          bool       `json:"muted"`
	PenaltyUntil   *time.Time `json:"penaltyUntil,omitempty"`
	JoinedAt       *time.Time `json:"joinedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Version        int64      `json:"version"`
}

// Names is the participant-supplied identity.
type Names struct {
	RealName       string
	DisplayName    string
	AvatarFallback string
}

// Normalize trims the names and derives an avatar fallback when none is set.
func (n Names) Normalize() Names {
	n.RealName = strings.TrimSpace(n.RealName)
	n.DisplayName = strings.TrimSpace(n.DisplayName)
	n.AvatarFallback = strings.TrimSpace(n.AvatarFallback)
	if n.AvatarFallback == "" {
		n.AvatarFallback = AvatarFallback(n.DisplayName)
	}
	return n
}

// Validate checks the names after normalization.
func (n Names) Validate() error {
	if n.RealName == "" || n.DisplayName == "" {
		return ErrInvalidNames
	}
	if utf8.RuneCountInString(n.RealName) > maxNameLength || utf8.RuneCountInString(n.DisplayName) > maxNameLength {
		return ErrNameTooLong
	}
	if utf8.RuneCountInString(n.AvatarFallback) > maxFallbackLength {
		return ErrNameTooLong
	}
	return nil
}

// AvatarFallback builds up to two uppercase initials from a display name.
func AvatarFallback(displayName string) string {
	fields := strings.Fields(displayName)
	var b strings.Builder
	for _, f := range fields {
		r, _ := utf8.DecodeRuneInString(f)
		b.WriteString(strings.ToUpper(string(r)))
		if utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// ValidateStatus reports whether status is a known participant status.
func ValidateStatus(status Status) error {
	switch status {
	case StatusNotJoined, StatusSelectingRole, StatusWaiting, StatusJoined, StatusLeft, StatusRemoved:
		return nil
	default:
		return ErrInvalidStatus
	}
}

// HasRole reports whether a role has been assigned.
func (p *Participant) HasRole() bool {
	return p != nil && p.RoleID != nil && *p.RoleID != ""
}

// IsGone reports whether the participant left or was removed.
func (p *Participant) IsGone() bool {
	return p.Status == StatusLeft || p.Status == StatusRemoved
}

// Clone returns a deep copy.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	out := *p
	out.RoleID = cloneString(p.RoleID)
	out.RoleName = cloneString(p.RoleName)
	if p.PenaltyUntil != nil {
		t := *p.PenaltyUntil
		out.PenaltyUntil = &t
	}
	if p.JoinedAt != nil {
		t := *p.JoinedAt
		out.JoinedAt = &t
	}
	return &out
}

// StaleAgainst reports whether p is an older write than current.
func (p *Participant) StaleAgainst(current *Participant) bool {
	if current == nil || p.Version == 0 || current.Version == 0 {
		return false
	}
	return p.Version < current.Version
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
