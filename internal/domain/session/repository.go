package session

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for session records.
type Repository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	List(ctx context.Context, limit, offset int) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
	ListDueCountdowns(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}
