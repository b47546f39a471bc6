package participant

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RoleWrite is a merge-write of a role assignment. JoinedAt is only applied
// when the stored record has none.
type RoleWrite struct {
	SessionID uuid.UUID
	UserID    string
	RoleID    *string
	RoleName  *string
	Status    Status
	JoinedAt  time.Time
}

// Repository defines persistence for participant records. Every write
// increments Version and returns the stored record.
type Repository interface {
	UpsertNames(ctx context.Context, sessionID uuid.UUID, userID string, names Names, isBot bool, now time.Time) (*Participant, error)
	WriteRole(ctx context.Context, w RoleWrite) (*Participant, error)
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, userID string, status Status, now time.Time) (*Participant, error)
	UpdateModeration(ctx context.Context, sessionID uuid.UUID, userID string, muted bool, penaltyUntil *time.Time, now time.Time) (*Participant, error)
	Get(ctx context.Context, sessionID uuid.UUID, userID string) (*Participant, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, includeBots bool) ([]*Participant, error)
	ResetSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (int, error)
}
