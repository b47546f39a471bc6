package roster

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/scenario"
)

// Service builds the read-only roster of a session.
type Service struct {
	participants participant.Repository
	publisher    feed.Publisher
	logger       zerolog.Logger
}

// NewService creates a roster service. publisher may be nil.
func NewService(participants participant.Repository, publisher feed.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		participants: participants,
		publisher:    publisher,
		logger:       logger.With().Str("service", "roster").Logger(),
	}
}

// Snapshot loads the human participants of a session with role occupancy.
func (s *Service) Snapshot(ctx context.Context, sessionID uuid.UUID) (*roster.Snapshot, error) {
	list, err := s.participants.ListBySession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	return roster.NewSnapshot(sessionID, list), nil
}

// Availability reports per-role occupancy as seen by selfUserID.
func (s *Service) Availability(ctx context.Context, sc *scenario.Scenario, sessionID uuid.UUID, selfUserID string) ([]roster.RoleAvailability, error) {
	snap, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return roster.Availability(sc, snap.Participants, selfUserID), nil
}

// Publish pushes the current roster to subscribers. Failures are logged;
// subscribers catch up from the next change or on resubscribe.
func (s *Service) Publish(ctx context.Context, sessionID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	snap, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load roster for publish")
		return
	}
	s.publisher.Publish(feed.NewMessage(feed.TopicRoster, sessionID, "", snap))
}
