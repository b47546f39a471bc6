package access

import (
	"crypto/subtle"

	"github.com/chatsim/joinsync/internal/domain/session"
)

// Reason names why entry was denied.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonSessionEnded  Reason = "session_ended"
	ReasonSessionPaused Reason = "session_paused"
)

// Decision is the outcome of evaluating a visit against a session record.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// IsAccessError reports whether the denial is terminal for the visit.
func (d Decision) IsAccessError() bool {
	return !d.Allowed && (d.Reason == ReasonNotFound || d.Reason == ReasonInvalidToken)
}

// IsInformational reports whether the denial is a status block that clears
// once the session status changes.
func (d Decision) IsInformational() bool {
	return !d.Allowed && (d.Reason == ReasonSessionEnded || d.Reason == ReasonSessionPaused)
}

// Evaluate decides whether a visitor holding token may enter the session.
// A nil token means none was supplied. The rules are applied in order and
// anything not matched fails closed.
func Evaluate(s *session.Session, token *string) Decision {
	if s == nil {
		return deny(ReasonNotFound)
	}
	switch s.Status {
	case session.StatusPending:
		if token != nil && tokensEqual(*token, s.InvitationToken) {
			return allow()
		}
		return deny(ReasonInvalidToken)
	case session.StatusOpen, session.StatusActive:
		if token != nil && !tokensEqual(*token, s.InvitationToken) {
			return deny(ReasonInvalidToken)
		}
		return allow()
	case session.StatusEnded:
		return deny(ReasonSessionEnded)
	case session.StatusPaused:
		return deny(ReasonSessionPaused)
	}
	return deny(ReasonInvalidToken)
}

func tokensEqual(supplied, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// DeniedError carries a denial reported by a remote session store.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "access denied: " + string(e.Reason)
}

// TokenMatches reports whether a supplied token equals the session's token.
func TokenMatches(supplied *string, expected string) bool {
	return supplied != nil && expected != "" && tokensEqual(*supplied, expected)
}
