package join

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/countdown"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/identity"
	domainJoin "github.com/chatsim/joinsync/internal/domain/join"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/roster"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

var streamTopics = []feed.Topic{feed.TopicSession, feed.TopicParticipant, feed.TopicRoster}

type eventKind int

const (
	evStream eventKind = iota
	evStreamClosed
	evScenario
	evTick
	evSubmitNames
	evSelectRole
	evNamesWritten
	evRoleWritten
)

type event struct {
	kind  eventKind
	epoch uint64

	stream   StreamEvent
	topic    feed.Topic
	scenario *scenario.Scenario
	reading  countdown.Reading

	names  participant.Names
	roleID string
	reqID  uint64
	record *participant.Participant
	err    error

	reply chan error
}

// roleRequest is the participant's own in-flight role write. It is resolved
// by the first authoritative record at or after the version the write
// produced.
type roleRequest struct {
	id       uint64
	roleID   string
	roleName string
	acked    bool
	version  int64
	failed   bool
}

// handle applies one event and reports whether the engine must stop.
func (e *Engine) handle(ev event) bool {
	switch ev.kind {
	case evSubmitNames:
		ev.reply <- e.submitNames(ev.names)
	case evSelectRole:
		ev.reply <- e.selectRole(ev.roleID)
	case evTick:
		e.reading = ev.reading
	case evStream:
		if ev.epoch != e.epoch {
			return false
		}
		if stop := e.onStream(ev.stream); stop {
			return true
		}
	case evStreamClosed:
		if ev.epoch != e.epoch {
			return false
		}
		var denied *access.DeniedError
		if errors.As(ev.err, &denied) && (access.Decision{Reason: denied.Reason}).IsAccessError() {
			return e.revoke(denied.Reason)
		}
		e.logger.Warn().Err(ev.err).Str("topic", string(ev.topic)).Msg("stream lost, resubscribing")
		e.notice(Notice{Kind: NoticeStreamLost, Err: ev.err})
		go e.watch(e.subCtx, e.epoch, ev.topic, e.cfg.ResubscribeDelay)
		return false
	case evScenario:
		if ev.epoch != e.epoch {
			return false
		}
		if ev.err != nil {
			e.logger.Warn().Err(ev.err).Msg("role catalog unavailable")
			e.notice(Notice{Kind: NoticeScenarioUnavailable, Err: ev.err})
			return false
		}
		e.scen = ev.scenario
	case evNamesWritten:
		if ev.epoch != e.epoch {
			return false
		}
		if ev.err != nil {
			e.logger.Warn().Err(ev.err).Msg("names write failed")
			e.notice(Notice{Kind: NoticeWriteFailed, Err: ev.err})
			break
		}
		e.onParticipant(ev.record)
	case evRoleWritten:
		if ev.epoch != e.epoch {
			return false
		}
		e.onRoleWritten(ev)
	}
	e.refresh()
	return false
}

func (e *Engine) startEpoch() {
	if e.subCancel != nil {
		e.subCancel()
	}
	e.epoch++
	e.subCtx, e.subCancel = context.WithCancel(e.ctx)
	for _, topic := range streamTopics {
		go e.watch(e.subCtx, e.epoch, topic, 0)
	}
	go e.loadScenario(e.subCtx, e.epoch)
	e.logger.Debug().Uint64("epoch", e.epoch).Msg("subscriptions started")
}

// watch forwards one subscription into the loop until ctx is done. A lost
// stream is reported once so the loop can schedule a resubscribe.
func (e *Engine) watch(ctx context.Context, epoch uint64, topic feed.Topic, delay time.Duration) {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	ch, err := e.feed.Subscribe(ctx, e.cfg.SessionID, e.cfg.UserID, topic)
	if err != nil {
		if ctx.Err() == nil {
			e.post(event{kind: evStreamClosed, epoch: epoch, topic: topic, err: err})
		}
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case se, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					e.post(event{kind: evStreamClosed, epoch: epoch, topic: topic})
				}
				return
			}
			e.post(event{kind: evStream, epoch: epoch, stream: se})
		}
	}
}

func (e *Engine) loadScenario(ctx context.Context, epoch uint64) {
	sc, err := e.feed.GetScenario(ctx, e.cfg.SessionID)
	if ctx.Err() != nil {
		return
	}
	if err == nil && sc == nil {
		err = scenario.ErrNotFound
	}
	e.post(event{kind: evScenario, epoch: epoch, scenario: sc, err: err})
}

func (e *Engine) onStream(se StreamEvent) bool {
	if se.Denied != access.ReasonNone {
		d := access.Decision{Reason: se.Denied}
		if d.IsAccessError() {
			return e.revoke(se.Denied)
		}
		return false
	}
	switch se.Topic {
	case feed.TopicSession:
		return e.onSession(se.Session)
	case feed.TopicParticipant:
		e.onParticipant(se.Participant)
	case feed.TopicRoster:
		if se.Roster != nil {
			e.rosterSnap = se.Roster
		}
	}
	return false
}

func (e *Engine) onSession(next *session.Session) bool {
	if next == nil {
		return e.revoke(access.ReasonNotFound)
	}
	// The stream snapshot is read after the subscription opens, so an
	// update queued before it can arrive behind it.
	if e.session != nil && !next.UpdatedAt.IsZero() && next.UpdatedAt.Before(e.session.UpdatedAt) {
		e.logger.Debug().
			Time("updated_at", next.UpdatedAt).
			Time("current", e.session.UpdatedAt).
			Msg("dropping stale session record")
		return false
	}
	prev := e.session.Status
	e.session = next.Clone()
	e.clock.SetTarget(next.CountdownEndTime)
	e.reading = e.clock.Sample()

	e.access = access.Evaluate(next, e.cfg.Token)
	if e.access.IsAccessError() {
		return e.revoke(e.access.Reason)
	}
	if domainJoin.IsReset(prev, next.Status) {
		e.reset(prev, next.Status)
	}
	return false
}

// reset discards everything tied to the previous run of the session and
// starts a fresh epoch of subscriptions.
func (e *Engine) reset(prev, next session.Status) {
	e.logger.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("session reset, purging local identity")
	if err := e.cache.Purge(e.ctx, e.key()); err != nil {
		e.logger.Error().Err(err).Msg("failed to purge identity cache")
	}
	e.ident = nil
	e.participant = nil
	e.rosterSnap = nil
	e.req = nil
	e.lastRequested = ""
	e.launched = false
	// A handoff nobody read belongs to the run that just ended.
	select {
	case h := <-e.handoffs:
		e.logger.Debug().Uint64("epoch", h.Epoch).Msg("discarding unread handoff")
	default:
	}
	e.notice(Notice{Kind: NoticeSessionReset})
	e.startEpoch()
}

func (e *Engine) revoke(reason access.Reason) bool {
	e.logger.Warn().Str("reason", string(reason)).Msg("access revoked")
	e.access = access.Decision{Reason: reason}
	e.mu.Lock()
	e.err = &AccessError{Reason: reason}
	e.mu.Unlock()
	e.notice(Notice{Kind: NoticeAccessRevoked, Reason: reason})
	return true
}

func (e *Engine) onParticipant(p *participant.Participant) {
	if p == nil || p.UserID != e.cfg.UserID {
		return
	}
	if p.StaleAgainst(e.participant) {
		e.logger.Debug().
			Int64("version", p.Version).
			Int64("current", e.participant.Version).
			Msg("dropping stale participant record")
		return
	}
	e.participant = p.Clone()
	e.reconcileRole()
}

// reconcileRole settles the optimistic role display against the stored
// record. The stored record always wins; a difference from what was asked
// for is reported once.
func (e *Engine) reconcileRole() {
	if e.participant == nil {
		return
	}
	stored := roleOf(e.participant)

	if e.req != nil {
		switch {
		case e.req.failed:
			e.req = nil
			e.lastRequested = stored
			e.rememberRole(e.participant)
			return
		case e.req.acked && e.participant.Version >= e.req.version:
			if stored != e.req.roleID {
				e.roleChanged(stored)
			}
			e.lastRequested = stored
			e.req = nil
			e.rememberRole(e.participant)
			return
		default:
			return
		}
	}
	if e.lastRequested != "" && stored != e.lastRequested {
		e.roleChanged(stored)
		e.lastRequested = stored
	}
	e.rememberRole(e.participant)
}

func (e *Engine) roleChanged(stored string) {
	e.logger.Info().Str("role_id", stored).Msg("role changed by administrator")
	e.notice(Notice{Kind: NoticeRoleChanged, RoleID: stored})
}

func (e *Engine) onRoleWritten(ev event) {
	current := e.req != nil && e.req.id == ev.reqID
	if ev.err != nil {
		if !current {
			return
		}
		e.logger.Warn().Err(ev.err).Str("role_id", e.req.roleID).Msg("role write failed")
		e.req.failed = true
		e.notice(Notice{Kind: NoticeWriteFailed, RoleID: e.req.roleID, Err: ev.err})
		return
	}
	if current && ev.record != nil {
		e.req.acked = true
		e.req.version = ev.record.Version
	}
	e.onParticipant(ev.record)
	e.reconcileRole()
}

// rememberRole keeps the cached identity's last known role in step with
// the stored record.
func (e *Engine) rememberRole(p *participant.Participant) {
	if e.ident == nil {
		return
	}
	id, name := roleOf(p), ""
	if p.RoleName != nil {
		name = *p.RoleName
	}
	if e.ident.RoleID == id && e.ident.RoleName == name {
		return
	}
	next := e.ident.Clone()
	next.RoleID, next.RoleName = id, name
	e.saveIdentity(next)
}

func (e *Engine) saveIdentity(id *identity.Identity) {
	if err := e.cache.Save(e.ctx, e.key(), id); err != nil {
		e.logger.Error().Err(err).Msg("failed to save identity")
		return
	}
	e.ident = id
}

func (e *Engine) selectedRole() string {
	if e.req != nil {
		return e.req.roleID
	}
	return roleOf(e.participant)
}

func (e *Engine) submitNames(names participant.Names) error {
	if domainJoin.Compute(e.snapshot()).Blocked() {
		return ErrSessionBlocked
	}
	n := names.Normalize()
	if err := n.Validate(); err != nil {
		return err
	}
	id := &identity.Identity{
		RealName:       n.RealName,
		DisplayName:    n.DisplayName,
		AvatarFallback: n.AvatarFallback,
		SavedAt:        e.cfg.Now(),
	}
	if e.ident != nil {
		id.RoleID, id.RoleName = e.ident.RoleID, e.ident.RoleName
	}
	if err := e.cache.Save(e.ctx, e.key(), id); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	e.ident = id

	e.write(evNamesWritten, 0, func(ctx context.Context) (*participant.Participant, error) {
		return e.writer.SubmitNames(ctx, e.cfg.SessionID, e.cfg.UserID, n)
	})
	return nil
}

func (e *Engine) selectRole(roleID string) error {
	if !e.ident.HasNames() {
		return ErrNamesRequired
	}
	if domainJoin.Compute(e.snapshot()).Blocked() {
		return ErrSessionBlocked
	}
	if !domainJoin.CanSelectRole(e.session, e.participant, e.scen) {
		e.notice(Notice{Kind: NoticeRoleLocked, RoleID: roleID})
		return ErrRoleLocked
	}
	if e.scen == nil {
		return ErrScenarioNotLoaded
	}
	role, ok := e.scen.Role(roleID)
	if !ok || role.IsBot {
		e.notice(Notice{Kind: NoticeRoleUnavailable, RoleID: roleID})
		return ErrRoleUnavailable
	}
	if roster.IsFull(e.availability(), roleID) {
		e.notice(Notice{Kind: NoticeRoleFull, RoleID: roleID})
		return ErrRoleFull
	}

	e.nextReq++
	e.req = &roleRequest{id: e.nextReq, roleID: role.RoleID, roleName: role.Name}
	e.lastRequested = role.RoleID
	if e.ident.RoleID != role.RoleID {
		next := e.ident.Clone()
		next.RoleID, next.RoleName = role.RoleID, role.Name
		e.saveIdentity(next)
	}

	e.write(evRoleWritten, e.req.id, func(ctx context.Context) (*participant.Participant, error) {
		return e.writer.SelectRole(ctx, e.cfg.SessionID, e.cfg.UserID, role.RoleID)
	})
	return nil
}

// write runs a participant write off the loop and posts the outcome back,
// tagged with the epoch it was issued in.
func (e *Engine) write(kind eventKind, reqID uint64, fn func(context.Context) (*participant.Participant, error)) {
	epoch := e.epoch
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.WriteTimeout)
		defer cancel()
		p, err := fn(ctx)
		if err == nil && p == nil {
			err = errors.New("write returned no record")
		}
		if e.ctx.Err() != nil {
			return
		}
		e.post(event{kind: kind, epoch: epoch, reqID: reqID, record: p, err: err})
	}()
}

func roleOf(p *participant.Participant) string {
	if !p.HasRole() {
		return ""
	}
	return *p.RoleID
}
