package join

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/identity"
	domainJoin "github.com/chatsim/joinsync/internal/domain/join"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
	"github.com/chatsim/joinsync/internal/infrastructure/identitystore"
)

const (
	testUser    = "u-1"
	waitTimeout = 2 * time.Second
	pollEvery   = 2 * time.Millisecond
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu          sync.Mutex
	session     *session.Session
	sessionErr  error
	scenario    *scenario.Scenario
	scenarioErr error
	subs        map[feed.Topic][]chan StreamEvent
}

func newFakeFeed(status session.Status) *fakeFeed {
	return &fakeFeed{
		session: &session.Session{
			SessionID:       uuid.New(),
			ScenarioID:      uuid.New(),
			Name:            "Security Council",
			Status:          status,
			InvitationToken: "tok-1",
			UpdatedAt:       testNow,
		},
		scenario: testScenario(),
		subs:     make(map[feed.Topic][]chan StreamEvent),
	}
}

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ScenarioID: uuid.New(),
		Name:       "Security Council",
		Roles: []scenario.Role{
			{RoleID: "chair", Name: "Chair", Capacity: 1},
			{RoleID: "delegate", Name: "Delegate"},
			{RoleID: "narrator", Name: "Narrator", IsBot: true},
		},
	}
}

func (f *fakeFeed) GetSession(_ context.Context, _ uuid.UUID) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.Clone(), f.sessionErr
}

func (f *fakeFeed) GetScenario(_ context.Context, _ uuid.UUID) (*scenario.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenario, f.scenarioErr
}

func (f *fakeFeed) Subscribe(_ context.Context, _ uuid.UUID, _ string, topic feed.Topic) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 16)
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeFeed) subscriptions(topic feed.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

// pushTo delivers ev on the n-th subscription of topic (1-based), waiting
// for that subscription to exist.
func (f *fakeFeed) pushTo(n int, topic feed.Topic, ev StreamEvent) bool {
	if !waitFor(func() bool { return f.subscriptions(topic) >= n }) {
		return false
	}
	f.mu.Lock()
	ch := f.subs[topic][n-1]
	f.mu.Unlock()
	ev.Topic = topic
	ch <- ev
	return true
}

func (f *fakeFeed) pushSession(n int, s *session.Session) bool {
	return f.pushTo(n, feed.TopicSession, StreamEvent{Session: s})
}

func (f *fakeFeed) pushParticipant(n int, p *participant.Participant) bool {
	return f.pushTo(n, feed.TopicParticipant, StreamEvent{Participant: p})
}

// sessionWith returns a copy of the feed's session after applying fn.
func (f *fakeFeed) sessionWith(fn func(s *session.Session)) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.session.Clone()
	fn(s)
	return s
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) SubmitNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names) (*participant.Participant, error) {
	args := m.Called(ctx, sessionID, userID, names)
	p, _ := args.Get(0).(*participant.Participant)
	return p, args.Error(1)
}

func (m *mockWriter) SelectRole(ctx context.Context, sessionID uuid.UUID, userID, roleID string) (*participant.Participant, error) {
	args := m.Called(ctx, sessionID, userID, roleID)
	p, _ := args.Get(0).(*participant.Participant)
	return p, args.Error(1)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(pollEvery)
	}
	return cond()
}

func record(sessionID uuid.UUID, roleID string, version int64, status participant.Status) *participant.Participant {
	p := &participant.Participant{
		SessionID:   sessionID,
		UserID:      testUser,
		RealName:    "Ada Lovelace",
		DisplayName: "ada",
		Status:      status,
		Version:     version,
		UpdatedAt:   testNow,
	}
	if roleID != "" {
		id, name := roleID, roleID+" role"
		p.RoleID, p.RoleName = &id, &name
	}
	return p
}

func namedIdentity() *identity.Identity {
	return &identity.Identity{RealName: "Ada Lovelace", DisplayName: "ada", SavedAt: testNow}
}

func openEngine(t *testing.T, f *fakeFeed, w Writer, cache identity.Cache, token *string) *Engine {
	t.Helper()
	e, err := Open(context.Background(), Config{
		SessionID:        f.session.SessionID,
		UserID:           testUser,
		Token:            token,
		TickInterval:     10 * time.Millisecond,
		ResubscribeDelay: 5 * time.Millisecond,
		Now:              func() time.Time { return testNow },
	}, f, w, cache, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func seedIdentity(t *testing.T, cache identity.Cache, sessionID uuid.UUID) {
	t.Helper()
	require.NoError(t, cache.Save(context.Background(), identity.Key{SessionID: sessionID, UserID: testUser}, namedIdentity()))
}

func waitNotice(t *testing.T, e *Engine, kind NoticeKind) Notice {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case n, ok := <-e.Notices():
			require.True(t, ok, "notices closed before %s", kind)
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notice", kind)
		}
	}
}

func assertNoNotice(t *testing.T, e *Engine, kind NoticeKind) {
	t.Helper()
	timeout := time.After(50 * time.Millisecond)
	for {
		select {
		case n, ok := <-e.Notices():
			if !ok {
				return
			}
			assert.NotEqual(t, kind, n.Kind)
		case <-timeout:
			return
		}
	}
}

func TestOpen_AccessErrors(t *testing.T) {
	wrong := "nope"
	tests := []struct {
		name   string
		setup  func(f *fakeFeed)
		token  *string
		reason access.Reason
	}{
		{
			name:   "missing session",
			setup:  func(f *fakeFeed) { f.session = nil },
			reason: access.ReasonNotFound,
		},
		{
			name:   "pending without token",
			setup:  func(f *fakeFeed) { f.session.Status = session.StatusPending },
			reason: access.ReasonInvalidToken,
		},
		{
			name:   "open with wrong token",
			token:  &wrong,
			reason: access.ReasonInvalidToken,
		},
		{
			name:   "store denial",
			setup:  func(f *fakeFeed) { f.sessionErr = &access.DeniedError{Reason: access.ReasonNotFound} },
			reason: access.ReasonNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFeed(session.StatusOpen)
			sessionID := f.session.SessionID
			if tt.setup != nil {
				tt.setup(f)
			}
			w := &mockWriter{}

			e, err := Open(context.Background(), Config{SessionID: sessionID, UserID: testUser, Token: tt.token}, f, w, identitystore.NewMemoryCache(), zerolog.Nop())
			assert.Nil(t, e)
			var accessErr *AccessError
			require.ErrorAs(t, err, &accessErr)
			assert.Equal(t, tt.reason, accessErr.Reason)

			for _, topic := range streamTopics {
				assert.Zero(t, f.subscriptions(topic))
			}
			w.AssertExpectations(t)
		})
	}

	t.Run("store failure is not an access error", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		f.sessionErr = errors.New("connection refused")
		_, err := Open(context.Background(), Config{SessionID: f.session.SessionID, UserID: testUser}, f, &mockWriter{}, identitystore.NewMemoryCache(), zerolog.Nop())
		require.Error(t, err)
		var accessErr *AccessError
		assert.False(t, errors.As(err, &accessErr))
	})

	t.Run("invalid key", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		_, err := Open(context.Background(), Config{SessionID: f.session.SessionID}, f, &mockWriter{}, identitystore.NewMemoryCache(), zerolog.Nop())
		assert.ErrorIs(t, err, identity.ErrInvalidKey)
	})
}

func TestOpen_InformationalDenialStillOpens(t *testing.T) {
	for _, status := range []session.Status{session.StatusEnded, session.StatusPaused} {
		t.Run(string(status), func(t *testing.T) {
			f := newFakeFeed(status)
			e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)

			st := e.Current()
			assert.Equal(t, domainJoin.StageNameInput, st.Stage)
			assert.True(t, st.Access.IsInformational())
			assert.Equal(t, domainJoin.Block(status), st.Block)

			err := e.SubmitNames(context.Background(), participant.Names{RealName: "Ada", DisplayName: "ada"})
			assert.ErrorIs(t, err, ErrSessionBlocked)
		})
	}
}

func TestEngine_HappyPath(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	w := &mockWriter{}
	ctx := context.Background()

	w.On("SubmitNames", mock.Anything, sid, testUser, mock.AnythingOfType("participant.Names")).
		Return(record(sid, "", 1, participant.StatusSelectingRole), nil).Once()
	w.On("SelectRole", mock.Anything, sid, testUser, "delegate").
		Return(record(sid, "delegate", 2, participant.StatusWaiting), nil).Once()

	e := openEngine(t, f, w, cache, nil)
	assert.Equal(t, domainJoin.StageNameInput, e.Current().Stage)

	require.NoError(t, e.SubmitNames(ctx, participant.Names{RealName: " Ada Lovelace ", DisplayName: "ada"}))
	cached, err := cache.Load(ctx, identity.Key{SessionID: sid, UserID: testUser})
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Ada Lovelace", cached.RealName)

	require.True(t, waitFor(func() bool {
		st := e.Current()
		return st.Stage == domainJoin.StageRoleSelection && st.Participant != nil && st.Scenario != nil
	}))

	require.NoError(t, e.SelectRole(ctx, "delegate"))
	require.True(t, waitFor(func() bool {
		st := e.Current()
		return st.Participant.HasRole() && !st.RolePending
	}))
	assert.Equal(t, "delegate", e.Current().SelectedRoleID)
	assert.Equal(t, domainJoin.StageRoleSelection, e.Current().Stage, "unlocked selection stays changeable")

	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) { s.RoleSelectionLocked = true })))
	require.True(t, waitFor(func() bool { return e.Current().Stage == domainJoin.StageWaitingRoom }))

	active := f.sessionWith(func(s *session.Session) {
		s.RoleSelectionLocked = true
		s.Status = session.StatusActive
	})
	require.True(t, f.pushSession(1, active))

	select {
	case h := <-e.Handoffs():
		assert.Equal(t, sid, h.SessionID)
		assert.Equal(t, testUser, h.UserID)
		assert.Equal(t, "delegate", h.RoleID)
		assert.Equal(t, uint64(1), h.Epoch)
	case <-time.After(waitTimeout):
		t.Fatal("no handoff")
	}
	assert.Equal(t, domainJoin.StageLiveRedirect, e.Current().Stage)

	// Repeated active updates must not launch twice.
	active.UpdatedAt = testNow.Add(time.Minute)
	require.True(t, f.pushSession(1, active))
	select {
	case h := <-e.Handoffs():
		t.Fatalf("second handoff %+v", h)
	case <-time.After(50 * time.Millisecond):
	}

	cached, err = cache.Load(ctx, identity.Key{SessionID: sid, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, "delegate", cached.RoleID)
	w.AssertExpectations(t)
}

func TestEngine_RoleChangedByAdmin(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	w := &mockWriter{}
	release := make(chan struct{})

	w.On("SelectRole", mock.Anything, sid, testUser, "chair").
		Run(func(mock.Arguments) { <-release }).
		Return(record(sid, "chair", 4, participant.StatusWaiting), nil).Once()

	e := openEngine(t, f, w, cache, nil)
	require.True(t, waitFor(func() bool { return e.Current().Scenario != nil }))

	require.NoError(t, e.SelectRole(context.Background(), "chair"))
	st := e.Current()
	assert.Equal(t, "chair", st.SelectedRoleID)
	assert.True(t, st.RolePending)

	// The administrator writes after the participant's request is applied.
	require.True(t, f.pushParticipant(1, record(sid, "delegate", 5, participant.StatusWaiting)))
	require.True(t, waitFor(func() bool { return e.Current().Participant.HasRole() }))
	assert.Equal(t, "chair", e.Current().SelectedRoleID, "optimistic choice shown until the write resolves")

	close(release)
	n := waitNotice(t, e, NoticeRoleChanged)
	assert.Equal(t, "delegate", n.RoleID)
	require.True(t, waitFor(func() bool {
		st := e.Current()
		return st.SelectedRoleID == "delegate" && !st.RolePending
	}))

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 6, participant.StatusWaiting)))
	assertNoNotice(t, e, NoticeRoleChanged)

	cached, err := cache.Load(context.Background(), identity.Key{SessionID: sid, UserID: testUser})
	require.NoError(t, err)
	assert.Equal(t, "delegate", cached.RoleID)
	w.AssertNumberOfCalls(t, "SelectRole", 1)
}

func TestEngine_LaterAdminChangeNotifiesOnce(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	w := &mockWriter{}
	w.On("SelectRole", mock.Anything, sid, testUser, "chair").
		Return(record(sid, "chair", 2, participant.StatusWaiting), nil).Once()

	e := openEngine(t, f, w, cache, nil)
	require.True(t, waitFor(func() bool { return e.Current().Scenario != nil }))
	require.NoError(t, e.SelectRole(context.Background(), "chair"))
	require.True(t, waitFor(func() bool {
		st := e.Current()
		return st.Participant.HasRole() && !st.RolePending
	}))

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 3, participant.StatusWaiting)))
	n := waitNotice(t, e, NoticeRoleChanged)
	assert.Equal(t, "delegate", n.RoleID)

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 4, participant.StatusWaiting)))
	assertNoNotice(t, e, NoticeRoleChanged)
}

func TestEngine_WriteFailure(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	w := &mockWriter{}
	w.On("SelectRole", mock.Anything, sid, testUser, "chair").
		Return(nil, errors.New("store unavailable")).Once()

	e := openEngine(t, f, w, cache, nil)
	require.True(t, waitFor(func() bool { return e.Current().Scenario != nil }))
	require.NoError(t, e.SelectRole(context.Background(), "chair"))

	n := waitNotice(t, e, NoticeWriteFailed)
	assert.Equal(t, "chair", n.RoleID)
	require.True(t, waitFor(func() bool { return !e.Current().RolePending }))
	assert.Equal(t, "chair", e.Current().SelectedRoleID)

	require.True(t, f.pushParticipant(1, record(sid, "", 3, participant.StatusSelectingRole)))
	require.True(t, waitFor(func() bool { return e.Current().SelectedRoleID == "" }))
	assertNoNotice(t, e, NoticeRoleChanged)
	w.AssertNumberOfCalls(t, "SelectRole", 1)
}

func TestEngine_SelectRoleRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("names first", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)
		assert.ErrorIs(t, e.SelectRole(ctx, "chair"), ErrNamesRequired)
	})

	t.Run("locked with a role", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		f.session.RoleSelectionLocked = true
		sid := f.session.SessionID
		cache := identitystore.NewMemoryCache()
		seedIdentity(t, cache, sid)
		e := openEngine(t, f, &mockWriter{}, cache, nil)

		require.True(t, f.pushParticipant(1, record(sid, "delegate", 2, participant.StatusWaiting)))
		require.True(t, waitFor(func() bool { return e.Current().Stage == domainJoin.StageWaitingRoom }))

		assert.ErrorIs(t, e.SelectRole(ctx, "chair"), ErrRoleLocked)
		n := waitNotice(t, e, NoticeRoleLocked)
		assert.Equal(t, "chair", n.RoleID)
	})

	t.Run("unknown and bot roles", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		cache := identitystore.NewMemoryCache()
		seedIdentity(t, cache, f.session.SessionID)
		e := openEngine(t, f, &mockWriter{}, cache, nil)
		require.True(t, waitFor(func() bool { return e.Current().Scenario != nil }))

		assert.ErrorIs(t, e.SelectRole(ctx, "ghost"), ErrRoleUnavailable)
		assert.ErrorIs(t, e.SelectRole(ctx, "narrator"), ErrRoleUnavailable)
		waitNotice(t, e, NoticeRoleUnavailable)
	})

	t.Run("full role", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		sid := f.session.SessionID
		cache := identitystore.NewMemoryCache()
		seedIdentity(t, cache, sid)
		e := openEngine(t, f, &mockWriter{}, cache, nil)
		require.True(t, waitFor(func() bool { return e.Current().Scenario != nil }))

		other := record(sid, "chair", 1, participant.StatusWaiting)
		other.UserID = "u-2"
		require.True(t, f.pushTo(1, feed.TopicRoster, StreamEvent{Roster: roster.NewSnapshot(sid, []*participant.Participant{other})}))
		require.True(t, waitFor(func() bool { return roster.IsFull(e.Current().Roles, "chair") }))

		assert.ErrorIs(t, e.SelectRole(ctx, "chair"), ErrRoleFull)
		waitNotice(t, e, NoticeRoleFull)
	})

	t.Run("blocked session", func(t *testing.T) {
		f := newFakeFeed(session.StatusPaused)
		cache := identitystore.NewMemoryCache()
		seedIdentity(t, cache, f.session.SessionID)
		e := openEngine(t, f, &mockWriter{}, cache, nil)
		assert.ErrorIs(t, e.SelectRole(ctx, "chair"), ErrSessionBlocked)
	})

	t.Run("invalid names", func(t *testing.T) {
		f := newFakeFeed(session.StatusOpen)
		e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)
		assert.ErrorIs(t, e.SubmitNames(ctx, participant.Names{RealName: "  "}), participant.ErrInvalidNames)
	})
}

func TestEngine_ResetPurgesIdentity(t *testing.T) {
	f := newFakeFeed(session.StatusActive)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	e := openEngine(t, f, &mockWriter{}, cache, nil)

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 3, participant.StatusJoined)))
	select {
	case h := <-e.Handoffs():
		assert.Equal(t, uint64(1), h.Epoch)
	case <-time.After(waitTimeout):
		t.Fatal("no handoff before reset")
	}

	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) { s.Status = session.StatusOpen })))
	waitNotice(t, e, NoticeSessionReset)

	require.True(t, waitFor(func() bool { return e.Current().Epoch == 2 }))
	st := e.Current()
	assert.Equal(t, domainJoin.StageNameInput, st.Stage)
	assert.Nil(t, st.Identity)
	assert.Nil(t, st.Participant)
	assert.False(t, st.Launched)

	cached, err := cache.Load(context.Background(), identity.Key{SessionID: sid, UserID: testUser})
	require.NoError(t, err)
	assert.Nil(t, cached)

	for _, topic := range streamTopics {
		topic := topic
		require.True(t, waitFor(func() bool { return f.subscriptions(topic) == 2 }), topic)
	}

	// A record from before the reset arriving late is ignored.
	f.pushParticipant(1, record(sid, "delegate", 4, participant.StatusJoined))
	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, e.Current().Participant)

	// The new epoch is live.
	require.True(t, f.pushParticipant(2, record(sid, "", 5, participant.StatusNotJoined)))
	require.True(t, waitFor(func() bool { return e.Current().Participant != nil }))
}

func TestEngine_IgnoresOlderSessionRecord(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	e := openEngine(t, f, &mockWriter{}, cache, nil)

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 3, participant.StatusWaiting)))
	require.True(t, waitFor(func() bool { return e.Current().Participant != nil }))

	// The snapshot carries the started session; the update queued before
	// it still says open.
	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) {
		s.Status = session.StatusActive
		s.UpdatedAt = testNow.Add(2 * time.Second)
	})))
	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) {
		s.UpdatedAt = testNow.Add(time.Second)
	})))
	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) {
		s.Status = session.StatusActive
		s.RoleSelectionLocked = true
		s.UpdatedAt = testNow.Add(2 * time.Second)
	})))
	require.True(t, waitFor(func() bool { return e.Current().Session.RoleSelectionLocked }))

	assertNoNotice(t, e, NoticeSessionReset)
	st := e.Current()
	assert.Equal(t, uint64(1), st.Epoch)
	assert.Equal(t, session.StatusActive, st.Session.Status)
	assert.NotNil(t, st.Identity)
	assert.Equal(t, domainJoin.StageLiveRedirect, st.Stage)

	cached, err := cache.Load(context.Background(), identity.Key{SessionID: sid, UserID: testUser})
	require.NoError(t, err)
	assert.NotNil(t, cached)

	// A newer reopen is still a reset.
	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) {
		s.UpdatedAt = testNow.Add(3 * time.Second)
	})))
	waitNotice(t, e, NoticeSessionReset)
	require.True(t, waitFor(func() bool { return e.Current().Epoch == 2 }))
}

func TestEngine_CachedRoleChangedWhileAway(t *testing.T) {
	tests := []struct {
		name       string
		cachedRole string
		stored     string
		notice     bool
	}{
		{name: "administrator moved the participant", cachedRole: "chair", stored: "delegate", notice: true},
		{name: "role unchanged", cachedRole: "chair", stored: "chair"},
		{name: "no role remembered", stored: "delegate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFeed(session.StatusOpen)
			sid := f.session.SessionID
			cache := identitystore.NewMemoryCache()
			ident := namedIdentity()
			ident.RoleID = tt.cachedRole
			require.NoError(t, cache.Save(context.Background(), identity.Key{SessionID: sid, UserID: testUser}, ident))
			e := openEngine(t, f, &mockWriter{}, cache, nil)

			require.True(t, f.pushParticipant(1, record(sid, tt.stored, 4, participant.StatusWaiting)))
			if tt.notice {
				n := waitNotice(t, e, NoticeRoleChanged)
				assert.Equal(t, tt.stored, n.RoleID)
			} else {
				require.True(t, waitFor(func() bool { return e.Current().Participant != nil }))
				assertNoNotice(t, e, NoticeRoleChanged)
			}
			require.True(t, waitFor(func() bool { return e.Current().Identity.RoleID == tt.stored }))

			// The next record with the same role is not news.
			require.True(t, f.pushParticipant(1, record(sid, tt.stored, 5, participant.StatusWaiting)))
			assertNoNotice(t, e, NoticeRoleChanged)
		})
	}
}

func TestEngine_UnreadHandoffDoesNotBlockNextRun(t *testing.T) {
	f := newFakeFeed(session.StatusActive)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	w := &mockWriter{}
	w.On("SubmitNames", mock.Anything, sid, testUser, mock.AnythingOfType("participant.Names")).
		Return(record(sid, "delegate", 6, participant.StatusWaiting), nil).Once()
	e := openEngine(t, f, w, cache, nil)

	// The first handoff is never read.
	require.True(t, f.pushParticipant(1, record(sid, "delegate", 3, participant.StatusJoined)))
	require.True(t, waitFor(func() bool { return e.Current().Launched }))

	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) { s.Status = session.StatusOpen })))
	waitNotice(t, e, NoticeSessionReset)
	require.True(t, waitFor(func() bool { return e.Current().Epoch == 2 }))

	require.NoError(t, e.SubmitNames(context.Background(), participant.Names{RealName: "Ada Lovelace", DisplayName: "ada"}))
	require.True(t, waitFor(func() bool { return e.Current().Participant.HasRole() }))

	require.True(t, f.pushSession(2, f.sessionWith(func(s *session.Session) { s.Status = session.StatusActive })))
	select {
	case h := <-e.Handoffs():
		assert.Equal(t, uint64(2), h.Epoch)
		assert.Equal(t, "delegate", h.RoleID)
	case <-time.After(waitTimeout):
		t.Fatal("no handoff after reset")
	}
	assert.True(t, e.Current().Launched)
	w.AssertExpectations(t)
}

func TestEngine_TokenRotationRevokesAccess(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	token := "tok-1"
	e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), &token)

	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) { s.InvitationToken = "tok-2" })))
	n := waitNotice(t, e, NoticeAccessRevoked)
	assert.Equal(t, access.ReasonInvalidToken, n.Reason)

	select {
	case <-e.Done():
	case <-time.After(waitTimeout):
		t.Fatal("engine kept running after access was revoked")
	}
	var accessErr *AccessError
	require.ErrorAs(t, e.Err(), &accessErr)
	assert.Equal(t, access.ReasonInvalidToken, accessErr.Reason)
	assert.True(t, e.Current().Closed)
	assert.ErrorIs(t, e.SubmitNames(context.Background(), participant.Names{RealName: "a", DisplayName: "b"}), ErrClosed)
}

func TestEngine_ServerAccessFrame(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)

	require.True(t, f.pushTo(1, feed.TopicRoster, StreamEvent{Denied: access.ReasonNotFound}))
	waitNotice(t, e, NoticeAccessRevoked)
	<-e.Done()
}

func TestEngine_DropsStaleParticipant(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	sid := f.session.SessionID
	cache := identitystore.NewMemoryCache()
	seedIdentity(t, cache, sid)
	e := openEngine(t, f, &mockWriter{}, cache, nil)

	require.True(t, f.pushParticipant(1, record(sid, "delegate", 5, participant.StatusWaiting)))
	require.True(t, waitFor(func() bool { return e.Current().Participant != nil }))

	require.True(t, f.pushParticipant(1, record(sid, "chair", 3, participant.StatusWaiting)))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "delegate", *e.Current().Participant.RoleID)
	assert.Equal(t, int64(5), e.Current().Participant.Version)
}

func TestEngine_StreamLossResubscribes(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)

	require.True(t, waitFor(func() bool { return f.subscriptions(feed.TopicRoster) == 1 }))
	f.mu.Lock()
	close(f.subs[feed.TopicRoster][0])
	f.mu.Unlock()

	waitNotice(t, e, NoticeStreamLost)
	require.True(t, waitFor(func() bool { return f.subscriptions(feed.TopicRoster) == 2 }))
	assert.Equal(t, uint64(1), e.Current().Epoch)
}

func TestEngine_Countdown(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	target := testNow.Add(90 * time.Second)
	f.session.CountdownEndTime = &target
	e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)

	st := e.Current()
	assert.True(t, st.Countdown.Active)
	assert.Equal(t, 90, st.Countdown.Seconds())

	require.True(t, f.pushSession(1, f.sessionWith(func(s *session.Session) { s.CountdownEndTime = nil })))
	require.True(t, waitFor(func() bool { return !e.Current().Countdown.Active }))
	assert.Equal(t, domainJoin.StageNameInput, e.Current().Stage)
}

func TestEngine_Close(t *testing.T) {
	f := newFakeFeed(session.StatusOpen)
	e := openEngine(t, f, &mockWriter{}, identitystore.NewMemoryCache(), nil)
	e.Close()

	assert.ErrorIs(t, e.SelectRole(context.Background(), "chair"), ErrClosed)
	assert.NoError(t, e.Err())
	for range e.Updates() {
	}
	_, ok := <-e.Handoffs()
	assert.False(t, ok)
}
