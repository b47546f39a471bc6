package join

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

var (
	ErrClosed            = errors.New("join engine closed")
	ErrSessionBlocked    = errors.New("session is not accepting participants")
	ErrNamesRequired     = errors.New("names must be entered first")
	ErrRoleLocked        = errors.New("role selection is locked")
	ErrRoleUnavailable   = errors.New("role is not available")
	ErrRoleFull          = errors.New("role is full")
	ErrScenarioNotLoaded = errors.New("role catalog is still loading")
)

// AccessError is returned when a visit is denied outright. The engine is
// never constructed for such a visit.
type AccessError struct {
	Reason access.Reason
}

func (e *AccessError) Error() string {
	return "join denied: " + string(e.Reason)
}

// StreamEvent is one frame of a live subscription.
type StreamEvent struct {
	Topic       feed.Topic
	Snapshot    bool
	Session     *session.Session
	Participant *participant.Participant
	Roster      *roster.Snapshot
	Denied      access.Reason
}

// Feed reads and subscribes to the session's records. GetSession returns a
// nil session when it does not exist and may return *access.DeniedError.
// Subscribe delivers the current value first and closes the channel when ctx
// is done or the stream is lost.
type Feed interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*session.Session, error)
	GetScenario(ctx context.Context, sessionID uuid.UUID) (*scenario.Scenario, error)
	Subscribe(ctx context.Context, sessionID uuid.UUID, userID string, topic feed.Topic) (<-chan StreamEvent, error)
}

// Writer performs the participant's own writes. Each returns the stored
// record including its new version.
type Writer interface {
	SubmitNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names) (*participant.Participant, error)
	SelectRole(ctx context.Context, sessionID uuid.UUID, userID, roleID string) (*participant.Participant, error)
}
