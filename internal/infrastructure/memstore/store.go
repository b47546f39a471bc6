package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

// Store keeps sessions, participants and scenarios in memory. It follows the
// postgres repositories row for row: missing records come back as nil, nil
// and every participant write bumps Version.
type Store struct {
	mu           sync.Mutex
	nextID       int64
	sessions     map[uuid.UUID]*session.Session
	scenarios    map[uuid.UUID]*scenario.Scenario
	participants map[participantKey]*participant.Participant
}

type participantKey struct {
	sessionID uuid.UUID
	userID    string
}

func New() *Store {
	return &Store{
		sessions:     make(map[uuid.UUID]*session.Session),
		scenarios:    make(map[uuid.UUID]*scenario.Scenario),
		participants: make(map[participantKey]*participant.Participant),
	}
}

// Sessions returns the store as a session.Repository.
func (s *Store) Sessions() session.Repository { return sessionRepo{s} }

// Participants returns the store as a participant.Repository.
func (s *Store) Participants() participant.Repository { return participantRepo{s} }

// Scenarios returns the store as a scenario.Repository.
func (s *Store) Scenarios() scenario.Repository { return scenarioRepo{s} }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(ctx context.Context, sess *session.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess.ID = r.s.id()
	r.s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (r sessionRepo) GetByID(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sessions[sessionID].Clone(), nil
}

func (r sessionRepo) List(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	r.s.mu.Lock()
	out := make([]*session.Session, 0, len(r.s.sessions))
	for _, sess := range r.s.sessions {
		out = append(out, sess.Clone())
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (r sessionRepo) Update(ctx context.Context, sess *session.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.SessionID]; !ok {
		return session.ErrNotFound
	}
	r.s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (r sessionRepo) ListDueCountdowns(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	r.s.mu.Lock()
	var out []*session.Session
	for _, sess := range r.s.sessions {
		if sess.Status == session.StatusOpen && sess.CountdownDue(now) {
			out = append(out, sess.Clone())
		}
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CountdownEndTime.Before(*out[j].CountdownEndTime)
	})
	return page(out, limit, 0), nil
}

type scenarioRepo struct{ s *Store }

func (r scenarioRepo) Upsert(ctx context.Context, sc *scenario.Scenario) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sc
	cp.Roles = append([]scenario.Role(nil), sc.Roles...)
	if prev, ok := r.s.scenarios[sc.ScenarioID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	r.s.scenarios[sc.ScenarioID] = &cp
	return nil
}

func (r scenarioRepo) GetByID(ctx context.Context, scenarioID uuid.UUID) (*scenario.Scenario, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.scenarios[scenarioID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	cp.Roles = append([]scenario.Role(nil), sc.Roles...)
	return &cp, nil
}

func (r scenarioRepo) List(ctx context.Context, limit, offset int) ([]*scenario.Scenario, error) {
	r.s.mu.Lock()
	out := make([]*scenario.Scenario, 0, len(r.s.scenarios))
	for _, sc := range r.s.scenarios {
		cp := *sc
		out = append(out, &cp)
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, limit, offset), nil
}

type participantRepo struct{ s *Store }

// mutate applies fn to an existing record and stores it with a new version.
func (r participantRepo) mutate(sessionID uuid.UUID, userID string, now time.Time, fn func(p *participant.Participant)) (*participant.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[participantKey{sessionID, userID}]
	if !ok {
		return nil, nil
	}
	fn(p)
	p.UpdatedAt = now
	p.Version++
	return p.Clone(), nil
}

func (r participantRepo) UpsertNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names, isBot bool, now time.Time) (*participant.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := participantKey{sessionID, userID}
	p, ok := r.s.participants[key]
	if !ok {
		p = &participant.Participant{
			ID:        r.s.id(),
			SessionID: sessionID,
			UserID:    userID,
			Status:    participant.StatusSelectingRole,
		}
		r.s.participants[key] = p
	} else if p.Status == participant.StatusNotJoined {
		p.Status = participant.StatusSelectingRole
	}
	p.RealName = names.RealName
	p.DisplayName = names.DisplayName
	p.AvatarFallback = names.AvatarFallback
	p.IsBot = isBot
	p.UpdatedAt = now
	p.Version++
	return p.Clone(), nil
}

func (r participantRepo) WriteRole(ctx context.Context, w participant.RoleWrite) (*participant.Participant, error) {
	return r.mutate(w.SessionID, w.UserID, w.JoinedAt, func(p *participant.Participant) {
		p.RoleID = copyString(w.RoleID)
		p.RoleName = copyString(w.RoleName)
		p.Status = w.Status
		if p.JoinedAt == nil {
			t := w.JoinedAt
			p.JoinedAt = &t
		}
	})
}

func (r participantRepo) UpdateStatus(ctx context.Context, sessionID uuid.UUID, userID string, status participant.Status, now time.Time) (*participant.Participant, error) {
	return r.mutate(sessionID, userID, now, func(p *participant.Participant) {
		p.Status = status
	})
}

func (r participantRepo) UpdateModeration(ctx context.Context, sessionID uuid.UUID, userID string, muted bool, penaltyUntil *time.Time, now time.Time) (*participant.Participant, error) {
	return r.mutate(sessionID, userID, now, func(p *participant.Participant) {
		p.Muted = muted
		p.PenaltyUntil = nil
		if penaltyUntil != nil {
			t := *penaltyUntil
			p.PenaltyUntil = &t
		}
	})
}

func (r participantRepo) Get(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.participants[participantKey{sessionID, userID}].Clone(), nil
}

func (r participantRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, includeBots bool) ([]*participant.Participant, error) {
	r.s.mu.Lock()
	var out []*participant.Participant
	for key, p := range r.s.participants {
		if key.sessionID != sessionID || (p.IsBot && !includeBots) {
			continue
		}
		out = append(out, p.Clone())
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r participantRepo) ResetSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for key, p := range r.s.participants {
		if key.sessionID != sessionID || p.IsBot {
			continue
		}
		p.RoleID = nil
		p.RoleName = nil
		p.JoinedAt = nil
		p.Status = participant.StatusNotJoined
		p.UpdatedAt = now
		p.Version++
		n++
	}
	return n, nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
