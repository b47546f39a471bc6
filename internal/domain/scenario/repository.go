package scenario

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for scenario definitions.
type Repository interface {
	Upsert(ctx context.Context, scenario *Scenario) error
	GetByID(ctx context.Context, scenarioID uuid.UUID) (*Scenario, error)
	List(ctx context.Context, limit, offset int) ([]*Scenario, error)
}
