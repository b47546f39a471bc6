package join

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appCountdown "github.com/chatsim/joinsync/internal/application/countdown"
	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/countdown"
	"github.com/chatsim/joinsync/internal/domain/identity"
	domainJoin "github.com/chatsim/joinsync/internal/domain/join"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

const (
	defaultResubscribeDelay = time.Second
	defaultWriteTimeout     = 10 * time.Second
	noticeBuffer            = 32
)

// NoticeKind classifies a user-visible, non-fatal notice.
type NoticeKind string

const (
	NoticeRoleLocked          NoticeKind = "role_locked"
	NoticeRoleChanged         NoticeKind = "role_changed_by_admin"
	NoticeRoleUnavailable     NoticeKind = "role_unavailable"
	NoticeRoleFull            NoticeKind = "role_full"
	NoticeWriteFailed         NoticeKind = "write_failed"
	NoticeSessionReset        NoticeKind = "session_reset"
	NoticeAccessRevoked       NoticeKind = "access_revoked"
	NoticeStreamLost          NoticeKind = "stream_lost"
	NoticeScenarioUnavailable NoticeKind = "scenario_unavailable"
)

// Notice is surfaced to the participant without stopping the engine.
type Notice struct {
	Kind   NoticeKind
	RoleID string
	Reason access.Reason
	Err    error
	At     time.Time
}

// Handoff is emitted once per epoch when the launch gate opens.
type Handoff struct {
	SessionID uuid.UUID
	UserID    string
	RoleID    string
	Epoch     uint64
}

// State is a consistent view of the engine after one event.
type State struct {
	Stage          domainJoin.Stage
	Block          domainJoin.Block
	Access         access.Decision
	Session        *session.Session
	Participant    *participant.Participant
	Identity       *identity.Identity
	Scenario       *scenario.Scenario
	Roles          []roster.RoleAvailability
	SelectedRoleID string
	RolePending    bool
	Countdown      countdown.Reading
	Launched       bool
	Epoch          uint64
	Closed         bool
}

// Config identifies the visit.
type Config struct {
	SessionID        uuid.UUID
	UserID           string
	Token            *string
	TickInterval     time.Duration
	ResubscribeDelay time.Duration
	WriteTimeout     time.Duration
	Now              func() time.Time
}

// Engine drives one participant from arrival to the live session. All state
// is owned by a single goroutine; streams, writes, scenario loads and the
// countdown only feed events into it.
type Engine struct {
	cfg    Config
	feed   Feed
	writer Writer
	cache  identity.Cache
	clock  *appCountdown.Controller
	logger zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	updates  chan State
	notices  chan Notice
	handoffs chan Handoff
	done     chan struct{}

	mu      sync.RWMutex
	current State
	err     error

	epoch         uint64
	subCtx        context.Context
	subCancel     context.CancelFunc
	session       *session.Session
	participant   *participant.Participant
	ident         *identity.Identity
	scen          *scenario.Scenario
	rosterSnap    *roster.Snapshot
	reading       countdown.Reading
	access        access.Decision
	req           *roleRequest
	lastRequested string
	nextReq       uint64
	launched      bool
}

// Open evaluates the visit and starts the engine. Access errors are
// returned as *AccessError before anything is subscribed.
func Open(ctx context.Context, cfg Config, feed Feed, writer Writer, cache identity.Cache, logger zerolog.Logger) (*Engine, error) {
	key := identity.Key{SessionID: cfg.SessionID, UserID: cfg.UserID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = defaultResubscribeDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With().
		Str("component", "join_engine").
		Str("session_id", cfg.SessionID.String()).
		Str("user_id", cfg.UserID).
		Logger()

	sess, err := feed.GetSession(ctx, cfg.SessionID)
	if err != nil {
		var denied *access.DeniedError
		if errors.As(err, &denied) {
			return nil, &AccessError{Reason: denied.Reason}
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	decision := access.Evaluate(sess, cfg.Token)
	if decision.IsAccessError() {
		logger.Info().Str("reason", string(decision.Reason)).Msg("visit denied")
		return nil, &AccessError{Reason: decision.Reason}
	}

	ident, err := cache.Load(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("identity cache unreadable, starting without names")
		ident = nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Engine{
		cfg:      cfg,
		feed:     feed,
		writer:   writer,
		cache:    cache,
		clock:    appCountdown.NewController(cfg.TickInterval, cfg.Now),
		logger:   logger,
		ctx:      runCtx,
		cancel:   cancel,
		events:   make(chan event, 64),
		updates:  make(chan State, 1),
		notices:  make(chan Notice, noticeBuffer),
		handoffs: make(chan Handoff, 1),
		done:     make(chan struct{}),
		session:  sess.Clone(),
		ident:    ident,
		access:   decision,
	}
	if ident != nil {
		// A role remembered from an earlier visit is what this participant
		// last asked for.
		e.lastRequested = ident.RoleID
	}
	e.clock.SetTarget(sess.CountdownEndTime)
	e.reading = e.clock.Sample()
	e.refresh()

	go e.run()
	return e, nil
}

// Updates delivers the latest state. Intermediate states may be skipped.
// The channel is closed when the engine stops.
func (e *Engine) Updates() <-chan State { return e.updates }

// Notices delivers user-visible notices. It is closed when the engine stops.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Handoffs delivers the live-session handoff. It is closed when the engine
// stops.
func (e *Engine) Handoffs() <-chan Handoff { return e.handoffs }

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Current returns the most recent state.
func (e *Engine) Current() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Err returns the terminal error once the engine stopped on its own.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Close tears down every subscription and waits for the loop to exit.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

// SubmitNames stores the names locally and writes them to the participant
// record. The returned error covers validation only; write failures arrive
// as notices.
func (e *Engine) SubmitNames(ctx context.Context, names participant.Names) error {
	return e.command(ctx, event{kind: evSubmitNames, names: names})
}

// SelectRole requests a role. A refused request returns an error and emits
// the matching notice.
func (e *Engine) SelectRole(ctx context.Context, roleID string) error {
	return e.command(ctx, event{kind: evSelectRole, roleID: roleID})
}

func (e *Engine) command(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case e.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) run() {
	defer e.shutdown()

	e.startEpoch()
	e.refresh()
	go e.clock.Run(e.ctx, func(r countdown.Reading) {
		e.post(event{kind: evTick, reading: r})
	})

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			if stop := e.handle(ev); stop {
				return
			}
		}
	}
}

func (e *Engine) shutdown() {
	e.cancel()
	if e.subCancel != nil {
		e.subCancel()
	}
	st := e.Current()
	st.Closed = true
	st.Access = e.access
	e.mu.Lock()
	e.current = st
	e.mu.Unlock()
	e.emitUpdate(st)

	close(e.updates)
	close(e.notices)
	close(e.handoffs)
	close(e.done)
	e.logger.Debug().Msg("join engine stopped")
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) key() identity.Key {
	return identity.Key{SessionID: e.cfg.SessionID, UserID: e.cfg.UserID}
}

func (e *Engine) snapshot() domainJoin.Snapshot {
	return domainJoin.Snapshot{
		Session:     e.session,
		Participant: e.participant,
		Identity:    e.ident,
		Scenario:    e.scen,
	}
}

func (e *Engine) availability() []roster.RoleAvailability {
	var list []*participant.Participant
	if e.rosterSnap != nil {
		list = e.rosterSnap.Participants
	}
	return roster.Availability(e.scen, list, e.cfg.UserID)
}

// refresh recomputes the stage from scratch and publishes the result. It
// also opens the launch gate at most once per epoch.
func (e *Engine) refresh() {
	snap := e.snapshot()
	res := domainJoin.Compute(snap)

	if res.Stage == domainJoin.StageLiveRedirect && domainJoin.CanEnterLive(snap) && !e.launched {
		h := Handoff{
			SessionID: e.cfg.SessionID,
			UserID:    e.cfg.UserID,
			RoleID:    *domainJoin.EffectiveRoleID(e.participant, e.scen),
			Epoch:     e.epoch,
		}
		select {
		case e.handoffs <- h:
			e.launched = true
			e.logger.Info().Str("role_id", h.RoleID).Uint64("epoch", h.Epoch).Msg("entering live session")
		default:
			e.logger.Warn().Uint64("epoch", h.Epoch).Msg("handoff slot busy, retrying on next update")
		}
	}

	st := State{
		Stage:          res.Stage,
		Block:          res.Block,
		Access:         e.access,
		Session:        e.session.Clone(),
		Participant:    e.participant.Clone(),
		Identity:       e.ident.Clone(),
		Scenario:       e.scen,
		Roles:          e.availability(),
		SelectedRoleID: e.selectedRole(),
		RolePending:    e.req != nil && !e.req.acked && !e.req.failed,
		Countdown:      e.reading,
		Launched:       e.launched,
		Epoch:          e.epoch,
	}
	e.mu.Lock()
	e.current = st
	e.mu.Unlock()
	e.emitUpdate(st)
}

func (e *Engine) emitUpdate(st State) {
	select {
	case <-e.updates:
	default:
	}
	select {
	case e.updates <- st:
	default:
	}
}

func (e *Engine) notice(n Notice) {
	n.At = e.cfg.Now()
	select {
	case e.notices <- n:
	default:
		e.logger.Warn().Str("kind", string(n.Kind)).Msg("notice buffer full, dropping")
	}
}
