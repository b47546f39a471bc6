package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
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

const maxCountdown = 24 * time.Hour

// Service carries out administrator actions on session records and
// publishes every change to live subscribers.
type Service struct {
	repo         session.Repository
	scenarios    scenario.Repository
	participants participant.Repository
	roster       *appRoster.Service
	publisher    feed.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates a session service. publisher may be nil.
func NewService(
	repo session.Repository,
	scenarios scenario.Repository,
	participants participant.Repository,
	roster *appRoster.Service,
	publisher feed.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		scenarios:    scenarios,
		participants: participants,
		roster:       roster,
		publisher:    publisher,
		logger:       logger.With().Str("service", "session").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateSessionInput describes a new session.
type CreateSessionInput struct {
	Name       string
	ScenarioID uuid.UUID
	Status     session.Status
}

// CreateSession creates a session in pending status unless another initial
// status is requested. A fresh invitation token is always generated.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*session.Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", session.ErrInvalidInput)
	}
	if in.ScenarioID == uuid.Nil {
		return nil, fmt.Errorf("%w: scenario_id is required", session.ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = session.StatusPending
	}
	if err := session.ValidateStatus(status); err != nil {
		return nil, err
	}
	sc, err := s.scenarios.GetByID(ctx, in.ScenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, scenario.ErrNotFound
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &session.Session{
		SessionID:       uuid.New(),
		Name:            name,
		ScenarioID:      sc.ScenarioID,
		Status:          status,
		InvitationToken: token,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sess.SessionID.String()).Str("status", string(status)).Msg("session created")
	s.publish(sess)
	return sess, nil
}

// Get returns a session or session.ErrNotFound.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// GetScenario returns the scenario a session is played from.
func (s *Service) GetScenario(ctx context.Context, sess *session.Session) (*scenario.Scenario, error) {
	sc, err := s.scenarios.GetByID(ctx, sess.ScenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, scenario.ErrNotFound
	}
	return sc, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	return s.repo.List(ctx, limit, offset)
}

// SetStatus moves a session to status. Moving back into pending, or back to
// open from a started session, is a reset and clears participant roles.
func (s *Service) SetStatus(ctx context.Context, sessionID uuid.UUID, status session.Status) (*session.Session, error) {
	if err := session.ValidateStatus(status); err != nil {
		return nil, err
	}
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == status {
		return sess, nil
	}
	if join.IsReset(sess.Status, status) {
		return s.reset(ctx, sess, status, false)
	}

	prev := sess.Status
	sess.Status = status
	if status != session.StatusOpen {
		sess.CountdownEndTime = nil
	}
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("session status changed")
	return sess, nil
}

// SetRoleSelectionLocked locks or unlocks self-service role selection.
func (s *Service) SetRoleSelectionLocked(ctx context.Context, sessionID uuid.UUID, locked bool) (*session.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.RoleSelectionLocked == locked {
		return sess, nil
	}
	sess.RoleSelectionLocked = locked
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// StartCountdown sets the launch countdown target d from now. The session
// must be open.
func (s *Service) StartCountdown(ctx context.Context, sessionID uuid.UUID, d time.Duration) (*session.Session, error) {
	if d <= 0 || d > maxCountdown {
		return nil, fmt.Errorf("%w: countdown must be between 1s and %s", session.ErrInvalidInput, maxCountdown)
	}
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusOpen {
		return nil, fmt.Errorf("%w: countdown requires an open session", session.ErrInvalidStatus)
	}
	target := s.now().Add(d)
	sess.CountdownEndTime = &target
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID.String()).Time("target", target).Msg("countdown started")
	return sess, nil
}

// CancelCountdown clears the launch countdown.
func (s *Service) CancelCountdown(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CountdownEndTime == nil {
		return sess, nil
	}
	sess.CountdownEndTime = nil
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RotateToken replaces the invitation token. Visitors holding the old token
// are denied on their next session update.
func (s *Service) RotateToken(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	sess.InvitationToken = token
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID.String()).Msg("invitation token rotated")
	return sess, nil
}

// ResetInput configures a reset.
type ResetInput struct {
	Target      session.Status
	RotateToken bool
}

// Reset forces every participant through the join flow again. Target must
// be pending or open and defaults to open.
func (s *Service) Reset(ctx context.Context, sessionID uuid.UUID, in ResetInput) (*session.Session, error) {
	target := in.Target
	if target == "" {
		target = session.StatusOpen
	}
	if target != session.StatusPending && target != session.StatusOpen {
		return nil, fmt.Errorf("%w: reset target must be pending or open", session.ErrInvalidStatus)
	}
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.reset(ctx, sess, target, in.RotateToken)
}

func (s *Service) reset(ctx context.Context, sess *session.Session, target session.Status, rotate bool) (*session.Session, error) {
	prev := sess.Status
	sess.Status = target
	sess.CountdownEndTime = nil
	sess.RoleSelectionLocked = false
	if rotate {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		sess.InvitationToken = token
	}
	if err := s.update(ctx, sess); err != nil {
		return nil, err
	}

	n, err := s.participants.ResetSession(ctx, sess.SessionID, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("reset participants: %w", err)
	}
	s.logger.Info().
		Str("session_id", sess.SessionID.String()).
		Str("from", string(prev)).
		Str("to", string(target)).
		Int("participants", n).
		Bool("token_rotated", rotate).
		Msg("session reset")

	s.publishParticipants(ctx, sess.SessionID)
	return sess, nil
}

// ProcessDueCountdowns activates open sessions whose countdown has expired.
// It returns how many sessions were launched.
func (s *Service) ProcessDueCountdowns(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.repo.ListDueCountdowns(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	launched := 0
	for _, sess := range due {
		if sess.Status != session.StatusOpen || !sess.CountdownDue(now) {
			continue
		}
		sess.Status = session.StatusActive
		sess.CountdownEndTime = nil
		if err := s.update(ctx, sess); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.SessionID.String()).Msg("failed to launch session")
			continue
		}
		s.logger.Info().Str("session_id", sess.SessionID.String()).Msg("countdown elapsed, session active")
		launched++
	}
	return launched, nil
}

func (s *Service) update(ctx context.Context, sess *session.Session) error {
	sess.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, sess); err != nil {
		return err
	}
	s.publish(sess)
	return nil
}

func (s *Service) publish(sess *session.Session) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(feed.NewMessage(feed.TopicSession, sess.SessionID, "", sess.Clone()))
}

func (s *Service) publishParticipants(ctx context.Context, sessionID uuid.UUID) {
	if s.publisher != nil {
		list, err := s.participants.ListBySession(ctx, sessionID, true)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load participants for publish")
		}
		for _, p := range list {
			s.publisher.Publish(feed.NewMessage(feed.TopicParticipant, sessionID, p.UserID, p))
		}
	}
	if s.roster != nil {
		s.roster.Publish(ctx, sessionID)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
