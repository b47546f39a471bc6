package scenario

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatsim/joinsync/internal/domain/scenario"
)

// Service manages scenario definitions.
type Service struct {
	repo   scenario.Repository
	logger zerolog.Logger
}

func NewService(repo scenario.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "scenario").Logger(),
	}
}

// Save validates and stores a scenario, assigning an id when it has none.
func (s *Service) Save(ctx context.Context, sc *scenario.Scenario) (*scenario.Scenario, error) {
	sc.Name = strings.TrimSpace(sc.Name)
	for i := range sc.Roles {
		sc.Roles[i].RoleID = strings.TrimSpace(sc.Roles[i].RoleID)
		if sc.Roles[i].Name == "" {
			sc.Roles[i].Name = sc.Roles[i].RoleID
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if sc.ScenarioID == uuid.Nil {
		sc.ScenarioID = uuid.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	if err := s.repo.Upsert(ctx, sc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("scenario_id", sc.ScenarioID.String()).Int("roles", len(sc.Roles)).Msg("scenario saved")
	return sc, nil
}

// Seed stores every scenario, stopping at the first failure.
func (s *Service) Seed(ctx context.Context, list []*scenario.Scenario) (int, error) {
	for i, sc := range list {
		if _, err := s.Save(ctx, sc); err != nil {
			return i, err
		}
	}
	return len(list), nil
}

// Get returns a scenario or scenario.ErrNotFound.
func (s *Service) Get(ctx context.Context, scenarioID uuid.UUID) (*scenario.Scenario, error) {
	sc, err := s.repo.GetByID(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, scenario.ErrNotFound
	}
	return sc, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*scenario.Scenario, error) {
	return s.repo.List(ctx, limit, offset)
}
