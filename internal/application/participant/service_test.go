package participant

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appRoster "github.com/chatsim/joinsync/internal/application/roster"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	participantMocks "github.com/chatsim/joinsync/internal/domain/participant/mocks"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	scenarioMocks "github.com/chatsim/joinsync/internal/domain/scenario/mocks"
	"github.com/chatsim/joinsync/internal/domain/session"
	sessionMocks "github.com/chatsim/joinsync/internal/domain/session/mocks"
)

type recordingPublisher struct {
	messages []*feed.Message
}

func (p *recordingPublisher) Publish(msg *feed.Message) {
	p.messages = append(p.messages, msg)
}

type fixture struct {
	repo      *participantMocks.MockRepository
	sessions  *sessionMocks.MockRepository
	scenarios *scenarioMocks.MockRepository
	pub       *recordingPublisher
	svc       *Service
	now       time.Time
	sess      *session.Session
	sc        *scenario.Scenario
}

func newFixture(t *testing.T, status session.Status, locked bool) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		repo:      participantMocks.NewMockRepository(ctrl),
		sessions:  sessionMocks.NewMockRepository(ctrl),
		scenarios: scenarioMocks.NewMockRepository(ctrl),
		pub:       &recordingPublisher{},
		now:       time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	f.sc = &scenario.Scenario{
		ScenarioID: uuid.New(),
		Name:       "Trial",
		Roles: []scenario.Role{
			{RoleID: "judge", Name: "Judge", Capacity: 1},
			{RoleID: "juror", Name: "Juror"},
			{RoleID: "clerk", Name: "Clerk", IsBot: true},
		},
	}
	f.sess = &session.Session{SessionID: uuid.New(), ScenarioID: f.sc.ScenarioID, Status: status, RoleSelectionLocked: locked}
	roster := appRoster.NewService(f.repo, f.pub, zerolog.Nop())
	f.svc = NewService(f.repo, f.sessions, f.scenarios, roster, f.pub, zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) expectSession(ctx context.Context) {
	f.sessions.EXPECT().GetByID(ctx, f.sess.SessionID).Return(f.sess, nil)
}

func (f *fixture) expectScenario(ctx context.Context) {
	f.scenarios.EXPECT().GetByID(ctx, f.sc.ScenarioID).Return(f.sc, nil)
}

func (f *fixture) expectRoster(ctx context.Context) {
	f.repo.EXPECT().ListBySession(ctx, f.sess.SessionID, false).Return(nil, nil)
}

func strPtr(s string) *string { return &s }

func TestService_SubmitNames(t *testing.T) {
	t.Run("creates record", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(nil, nil)
		f.repo.EXPECT().
			UpsertNames(ctx, f.sess.SessionID, "u1", gomock.Any(), false, f.now).
			DoAndReturn(func(_ context.Context, sid uuid.UUID, uid string, n participant.Names, _ bool, _ time.Time) (*participant.Participant, error) {
				assert.Equal(t, "Ada Lovelace", n.RealName)
				assert.Equal(t, "AL", n.AvatarFallback)
				return &participant.Participant{SessionID: sid, UserID: uid, RealName: n.RealName, DisplayName: n.DisplayName, Status: participant.StatusSelectingRole, Version: 1}, nil
			})
		f.expectRoster(ctx)

		p, err := f.svc.SubmitNames(ctx, f.sess.SessionID, "u1", participant.Names{RealName: " Ada Lovelace ", DisplayName: "Ada Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)
		require.Len(t, f.pub.messages, 2)
		assert.Equal(t, feed.TopicParticipant, f.pub.messages[0].Topic)
		assert.Equal(t, feed.TopicRoster, f.pub.messages[1].Topic)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		_, err := f.svc.SubmitNames(ctx, f.sess.SessionID, "", participant.Names{RealName: "a", DisplayName: "b"})
		assert.ErrorIs(t, err, participant.ErrInvalidUserID)
		_, err = f.svc.SubmitNames(ctx, f.sess.SessionID, "u1", participant.Names{RealName: "a"})
		assert.ErrorIs(t, err, participant.ErrInvalidNames)
	})

	t.Run("removed participant", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{Status: participant.StatusRemoved}, nil)

		_, err := f.svc.SubmitNames(ctx, f.sess.SessionID, "u1", participant.Names{RealName: "a", DisplayName: "b"})
		assert.ErrorIs(t, err, participant.ErrRemoved)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		f.sessions.EXPECT().GetByID(ctx, gomock.Any()).Return(nil, nil)

		_, err := f.svc.SubmitNames(ctx, uuid.New(), "u1", participant.Names{RealName: "a", DisplayName: "b"})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}

func TestService_SelectRole(t *testing.T) {
	t.Run("writes role with waiting status", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		f.expectSession(ctx)
		f.expectScenario(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", Status: participant.StatusSelectingRole}, nil)
		f.repo.EXPECT().
			WriteRole(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, w participant.RoleWrite) (*participant.Participant, error) {
				assert.Equal(t, "judge", *w.RoleID)
				assert.Equal(t, "Judge", *w.RoleName)
				assert.Equal(t, participant.StatusWaiting, w.Status)
				assert.Equal(t, f.now, w.JoinedAt)
				return &participant.Participant{SessionID: w.SessionID, UserID: w.UserID, RoleID: w.RoleID, Status: w.Status, Version: 3}, nil
			})
		f.expectRoster(ctx)

		p, err := f.svc.SelectRole(ctx, f.sess.SessionID, "u1", "judge")
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Version)
	})

	t.Run("locked with role is refused", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.expectScenario(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", RoleID: strPtr("juror")}, nil)

		_, err := f.svc.SelectRole(ctx, f.sess.SessionID, "u1", "judge")
		assert.ErrorIs(t, err, participant.ErrRoleSelectionLocked)
	})

	t.Run("locked without role may pick once", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.expectScenario(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1"}, nil)
		f.repo.EXPECT().WriteRole(ctx, gomock.Any()).Return(&participant.Participant{SessionID: f.sess.SessionID, UserID: "u1", RoleID: strPtr("juror")}, nil)
		f.expectRoster(ctx)

		_, err := f.svc.SelectRole(ctx, f.sess.SessionID, "u1", "juror")
		require.NoError(t, err)
	})

	t.Run("bot and unknown roles are refused", func(t *testing.T) {
		for _, roleID := range []string{"clerk", "bailiff"} {
			f := newFixture(t, session.StatusOpen, false)
			ctx := context.Background()
			f.expectSession(ctx)
			f.expectScenario(ctx)
			f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1"}, nil)

			_, err := f.svc.SelectRole(ctx, f.sess.SessionID, "u1", roleID)
			assert.ErrorIs(t, err, participant.ErrUnknownRole, roleID)
		}
	})

	t.Run("names required first", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, false)
		ctx := context.Background()
		f.expectSession(ctx)
		f.expectScenario(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(nil, nil)

		_, err := f.svc.SelectRole(ctx, f.sess.SessionID, "u1", "judge")
		assert.ErrorIs(t, err, participant.ErrNotFound)
	})
}

func TestService_AssignRole(t *testing.T) {
	t.Run("ignores lock", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.expectScenario(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", RoleID: strPtr("juror")}, nil)
		f.repo.EXPECT().WriteRole(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, w participant.RoleWrite) (*participant.Participant, error) {
				assert.Equal(t, "judge", *w.RoleID)
				return &participant.Participant{SessionID: w.SessionID, UserID: w.UserID, RoleID: w.RoleID}, nil
			})
		f.expectRoster(ctx)

		p, err := f.svc.AssignRole(ctx, f.sess.SessionID, "u1", strPtr("judge"))
		require.NoError(t, err)
		assert.Equal(t, "judge", *p.RoleID)
	})

	t.Run("nil clears role", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", RoleID: strPtr("juror")}, nil)
		f.repo.EXPECT().WriteRole(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, w participant.RoleWrite) (*participant.Participant, error) {
				assert.Nil(t, w.RoleID)
				assert.Equal(t, participant.StatusSelectingRole, w.Status)
				return &participant.Participant{SessionID: w.SessionID, UserID: w.UserID}, nil
			})
		f.expectRoster(ctx)

		_, err := f.svc.AssignRole(ctx, f.sess.SessionID, "u1", nil)
		require.NoError(t, err)
	})
}

func TestService_MarkJoined(t *testing.T) {
	t.Run("requires active session", func(t *testing.T) {
		f := newFixture(t, session.StatusOpen, true)
		ctx := context.Background()
		f.expectSession(ctx)

		_, err := f.svc.MarkJoined(ctx, f.sess.SessionID, "u1")
		assert.ErrorIs(t, err, session.ErrInvalidStatus)
	})

	t.Run("requires role", func(t *testing.T) {
		f := newFixture(t, session.StatusActive, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1"}, nil)

		_, err := f.svc.MarkJoined(ctx, f.sess.SessionID, "u1")
		assert.ErrorIs(t, err, participant.ErrInvalidStatus)
	})

	t.Run("joins once", func(t *testing.T) {
		f := newFixture(t, session.StatusActive, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", RoleID: strPtr("judge"), Status: participant.StatusWaiting}, nil)
		f.repo.EXPECT().UpdateStatus(ctx, f.sess.SessionID, "u1", participant.StatusJoined, f.now).
			Return(&participant.Participant{SessionID: f.sess.SessionID, UserID: "u1", Status: participant.StatusJoined}, nil)
		f.expectRoster(ctx)

		p, err := f.svc.MarkJoined(ctx, f.sess.SessionID, "u1")
		require.NoError(t, err)
		assert.Equal(t, participant.StatusJoined, p.Status)
	})

	t.Run("already joined is idempotent", func(t *testing.T) {
		f := newFixture(t, session.StatusActive, true)
		ctx := context.Background()
		f.expectSession(ctx)
		f.repo.EXPECT().Get(ctx, f.sess.SessionID, "u1").Return(&participant.Participant{UserID: "u1", RoleID: strPtr("judge"), Status: participant.StatusJoined}, nil)

		_, err := f.svc.MarkJoined(ctx, f.sess.SessionID, "u1")
		require.NoError(t, err)
		assert.Empty(t, f.pub.messages)
	})
}

func TestService_Moderation(t *testing.T) {
	f := newFixture(t, session.StatusActive, true)
	ctx := context.Background()
	sid := f.sess.SessionID
	f.repo.EXPECT().Get(ctx, sid, "u1").Return(&participant.Participant{UserID: "u1"}, nil).Times(2)
	f.repo.EXPECT().UpdateModeration(ctx, sid, "u1", true, gomock.Any(), f.now).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _ string, _ bool, until *time.Time, _ time.Time) (*participant.Participant, error) {
			require.NotNil(t, until)
			assert.Equal(t, f.now.Add(5*time.Minute), *until)
			return &participant.Participant{SessionID: sid, UserID: "u1", Muted: true}, nil
		})
	f.repo.EXPECT().UpdateStatus(ctx, sid, "u1", participant.StatusRemoved, f.now).
		Return(&participant.Participant{SessionID: sid, UserID: "u1", Status: participant.StatusRemoved}, nil)
	f.repo.EXPECT().ListBySession(ctx, sid, false).Return(nil, nil).Times(2)

	p, err := f.svc.SetMuted(ctx, sid, "u1", true, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, p.Muted)

	p, err = f.svc.Remove(ctx, sid, "u1")
	require.NoError(t, err)
	assert.Equal(t, participant.StatusRemoved, p.Status)

	f.repo.EXPECT().Get(ctx, sid, "u1").Return(&participant.Participant{UserID: "u1", Status: participant.StatusRemoved}, nil)
	_, err = f.svc.Leave(ctx, sid, "u1")
	assert.ErrorIs(t, err, participant.ErrRemoved)
}

func TestService_RegisterBot(t *testing.T) {
	f := newFixture(t, session.StatusOpen, false)
	ctx := context.Background()
	f.expectSession(ctx)
	f.expectScenario(ctx)
	f.repo.EXPECT().UpsertNames(ctx, f.sess.SessionID, "clerk-1", gomock.Any(), true, f.now).
		Return(&participant.Participant{UserID: "clerk-1", IsBot: true}, nil)
	f.repo.EXPECT().WriteRole(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, w participant.RoleWrite) (*participant.Participant, error) {
			assert.Equal(t, "clerk", *w.RoleID)
			assert.Equal(t, participant.StatusJoined, w.Status)
			return &participant.Participant{SessionID: w.SessionID, UserID: w.UserID, RoleID: w.RoleID, IsBot: true}, nil
		})

	p, err := f.svc.RegisterBot(ctx, f.sess.SessionID, BotInput{UserID: "clerk-1", RoleID: "clerk"})
	require.NoError(t, err)
	assert.True(t, p.IsBot)
	require.Len(t, f.pub.messages, 1, "bots do not trigger roster updates")
}
