package participant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appRoster "github.com/chatsim/joinsync/internal/application/roster"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/join"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

// Service applies participant and administrator writes to participant
// records. Each write is published to the participant topic and followed by
// a fresh roster.
type Service struct {
	repo      participant.Repository
	sessions  session.Repository
	scenarios scenario.Repository
	roster    *appRoster.Service
	publisher feed.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a participant service. publisher may be nil.
func NewService(
	repo participant.Repository,
	sessions session.Repository,
	scenarios scenario.Repository,
	roster *appRoster.Service,
	publisher feed.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		sessions:  sessions,
		scenarios: scenarios,
		roster:    roster,
		publisher: publisher,
		logger:    logger.With().Str("service", "participant").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns one participant or participant.ErrNotFound.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	p, err := s.repo.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, participant.ErrNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, sessionID uuid.UUID, includeBots bool) ([]*participant.Participant, error) {
	return s.repo.ListBySession(ctx, sessionID, includeBots)
}

// SubmitNames creates the participant record on first submission and
// updates the names afterwards.
func (s *Service) SubmitNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names) (*participant.Participant, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	names = names.Normalize()
	if err := names.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.ensureNotRemoved(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	p, err := s.repo.UpsertNames(ctx, sessionID, userID, names, false, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID.String()).Str("user_id", userID).Msg("names submitted")
	s.publish(ctx, p)
	return p, nil
}

// SelectRole is the participant's own role choice. It is refused once role
// selection is locked unless the participant has no role yet.
func (s *Service) SelectRole(ctx context.Context, sessionID uuid.UUID, userID, roleID string) (*participant.Participant, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := s.loadScenario(ctx, sess)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == participant.StatusRemoved {
		return nil, participant.ErrRemoved
	}
	if !join.CanSelectRole(sess, current, sc) {
		return nil, participant.ErrRoleSelectionLocked
	}
	role, ok := sc.Role(roleID)
	if !ok || role.IsBot {
		return nil, fmt.Errorf("%w: %s", participant.ErrUnknownRole, roleID)
	}

	p, err := s.repo.WriteRole(ctx, participant.RoleWrite{
		SessionID: sessionID,
		UserID:    userID,
		RoleID:    &role.RoleID,
		RoleName:  &role.Name,
		Status:    participant.StatusWaiting,
		JoinedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Str("role_id", roleID).
		Int64("version", p.Version).
		Msg("role selected")
	s.publish(ctx, p)
	return p, nil
}

// AssignRole is the administrator's role write. It ignores the selection
// lock; a nil roleID clears the role.
func (s *Service) AssignRole(ctx context.Context, sessionID uuid.UUID, userID string, roleID *string) (*participant.Participant, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	w := participant.RoleWrite{
		SessionID: sessionID,
		UserID:    userID,
		Status:    participant.StatusSelectingRole,
		JoinedAt:  s.now(),
	}
	if roleID != nil {
		sc, err := s.loadScenario(ctx, sess)
		if err != nil {
			return nil, err
		}
		role, ok := sc.Role(*roleID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", participant.ErrUnknownRole, *roleID)
		}
		w.RoleID = &role.RoleID
		w.RoleName = &role.Name
		w.Status = participant.StatusWaiting
	}

	p, err := s.repo.WriteRole(ctx, w)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Bool("cleared", roleID == nil).
		Int64("version", p.Version).
		Msg("role assigned by administrator")
	s.publish(ctx, p)
	return p, nil
}

// MarkJoined records that the participant entered the live session. It
// applies the same gate as the client: the session is active and the
// participant holds a role.
func (s *Service) MarkJoined(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, fmt.Errorf("%w: session is not active", session.ErrInvalidStatus)
	}
	current, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == participant.StatusRemoved {
		return nil, participant.ErrRemoved
	}
	if !current.HasRole() {
		return nil, fmt.Errorf("%w: participant has no role", participant.ErrInvalidStatus)
	}
	if current.Status == participant.StatusJoined {
		return current, nil
	}
	return s.setStatus(ctx, sessionID, userID, participant.StatusJoined)
}

// Leave marks the participant as having left the session.
func (s *Service) Leave(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	current, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == participant.StatusRemoved {
		return nil, participant.ErrRemoved
	}
	return s.setStatus(ctx, sessionID, userID, participant.StatusLeft)
}

// Remove marks the participant as removed by the administrator.
func (s *Service) Remove(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, sessionID, userID, participant.StatusRemoved)
}

// SetMuted mutes or unmutes a participant. A positive penalty also sets a
// penalty window ending that long from now.
func (s *Service) SetMuted(ctx context.Context, sessionID uuid.UUID, userID string, muted bool, penalty time.Duration) (*participant.Participant, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	now := s.now()
	var until *time.Time
	if penalty > 0 {
		t := now.Add(penalty)
		until = &t
	}
	p, err := s.repo.UpdateModeration(ctx, sessionID, userID, muted, until, now)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, p)
	return p, nil
}

// BotInput registers an automated participant.
type BotInput struct {
	UserID      string
	DisplayName string
	RoleID      string
}

// RegisterBot creates or refreshes a bot participant holding a scenario
// role. Bots never appear in the roster.
func (s *Service) RegisterBot(ctx context.Context, sessionID uuid.UUID, in BotInput) (*participant.Participant, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = "bot-" + uuid.NewString()
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := s.loadScenario(ctx, sess)
	if err != nil {
		return nil, err
	}
	role, ok := sc.Role(in.RoleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", participant.ErrUnknownRole, in.RoleID)
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = role.Name
	}
	names := participant.Names{RealName: display, DisplayName: display}.Normalize()
	if err := names.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.repo.UpsertNames(ctx, sessionID, userID, names, true, now); err != nil {
		return nil, err
	}
	p, err := s.repo.WriteRole(ctx, participant.RoleWrite{
		SessionID: sessionID,
		UserID:    userID,
		RoleID:    &role.RoleID,
		RoleName:  &role.Name,
		Status:    participant.StatusJoined,
		JoinedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID.String()).Str("user_id", userID).Str("role_id", role.RoleID).Msg("bot registered")
	s.publish(ctx, p)
	return p, nil
}

func (s *Service) setStatus(ctx context.Context, sessionID uuid.UUID, userID string, status participant.Status) (*participant.Participant, error) {
	p, err := s.repo.UpdateStatus(ctx, sessionID, userID, status, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Str("status", string(status)).
		Msg("participant status changed")
	s.publish(ctx, p)
	return p, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (s *Service) loadScenario(ctx context.Context, sess *session.Session) (*scenario.Scenario, error) {
	sc, err := s.scenarios.GetByID(ctx, sess.ScenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, scenario.ErrNotFound
	}
	return sc, nil
}

func (s *Service) ensureNotRemoved(ctx context.Context, sessionID uuid.UUID, userID string) error {
	p, err := s.repo.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if p != nil && p.Status == participant.StatusRemoved {
		return participant.ErrRemoved
	}
	return nil
}

func (s *Service) publish(ctx context.Context, p *participant.Participant) {
	if p == nil {
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(feed.NewMessage(feed.TopicParticipant, p.SessionID, p.UserID, p.Clone()))
	}
	if s.roster != nil && !p.IsBot {
		s.roster.Publish(ctx, p.SessionID)
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > 128 {
		return participant.ErrInvalidUserID
	}
	return nil
}
