package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsim/joinsync/internal/domain/session"
)

const sessionColumns = `id, session_id, name, scenario_id, status, invitation_token, role_selection_locked, countdown_end_time, created_at, updated_at`

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions
		(session_id, name, scenario_id, status, invitation_token, role_selection_locked, countdown_end_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.SessionID, s.Name, s.ScenarioID, s.Status, s.InvitationToken, s.RoleSelectionLocked, s.CountdownEndTime, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id=$1`, sessionID)
	return scanSession(row)
}

func (r *SessionRepository) List(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET name=$1, status=$2, invitation_token=$3, role_selection_locked=$4, countdown_end_time=$5, updated_at=$6
		WHERE session_id=$7
	`, s.Name, s.Status, s.InvitationToken, s.RoleSelectionLocked, s.CountdownEndTime, s.UpdatedAt, s.SessionID)
	return err
}

// ListDueCountdowns returns open sessions whose countdown target is at or
// before now, oldest target first.
func (r *SessionRepository) ListDueCountdowns(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status='open' AND countdown_end_time IS NOT NULL AND countdown_end_time <= $1
		ORDER BY countdown_end_time ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*session.Session, error) {
	defer rows.Close()
	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var countdown *time.Time
	if err := row.Scan(&s.ID, &s.SessionID, &s.Name, &s.ScenarioID, &s.Status, &s.InvitationToken, &s.RoleSelectionLocked, &countdown, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if countdown != nil {
		t := countdown.UTC()
		s.CountdownEndTime = &t
	}
	return &s, nil
}
