package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsim/joinsync/internal/domain/participant"
)

const participantColumns = `id, session_id, user_id, real_name, display_name, role_id, role_name, avatar_fallback, status, is_bot, muted, penalty_until, joined_at, updated_at, version`

// ParticipantRepository implements participant.Repository. Every write
// bumps version in the same statement that changes the row.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

// UpsertNames creates the record in selecting_role or updates the names of
// an existing one. A record reset to not_joined moves back to selecting_role.
func (r *ParticipantRepository) UpsertNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names, isBot bool, now time.Time) (*participant.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO participants
		(session_id, user_id, real_name, display_name, avatar_fallback, status, is_bot, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			real_name=EXCLUDED.real_name,
			display_name=EXCLUDED.display_name,
			avatar_fallback=EXCLUDED.avatar_fallback,
			is_bot=EXCLUDED.is_bot,
			status=CASE WHEN participants.status='not_joined' THEN EXCLUDED.status ELSE participants.status END,
			updated_at=EXCLUDED.updated_at,
			version=participants.version+1
		RETURNING `+participantColumns,
		sessionID, userID, names.RealName, names.DisplayName, names.AvatarFallback, participant.StatusSelectingRole, isBot, now)
	return scanParticipant(row)
}

func (r *ParticipantRepository) WriteRole(ctx context.Context, w participant.RoleWrite) (*participant.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE participants SET
			role_id=$1, role_name=$2, status=$3,
			joined_at=COALESCE(joined_at, $4),
			updated_at=$4,
			version=version+1
		WHERE session_id=$5 AND user_id=$6
		RETURNING `+participantColumns,
		w.RoleID, w.RoleName, w.Status, w.JoinedAt, w.SessionID, w.UserID)
	return scanParticipant(row)
}

func (r *ParticipantRepository) UpdateStatus(ctx context.Context, sessionID uuid.UUID, userID string, status participant.Status, now time.Time) (*participant.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE participants SET status=$1, updated_at=$2, version=version+1
		WHERE session_id=$3 AND user_id=$4
		RETURNING `+participantColumns,
		status, now, sessionID, userID)
	return scanParticipant(row)
}

func (r *ParticipantRepository) UpdateModeration(ctx context.Context, sessionID uuid.UUID, userID string, muted bool, penaltyUntil *time.Time, now time.Time) (*participant.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE participants SET muted=$1, penalty_until=$2, updated_at=$3, version=version+1
		WHERE session_id=$4 AND user_id=$5
		RETURNING `+participantColumns,
		muted, penaltyUntil, now, sessionID, userID)
	return scanParticipant(row)
}

func (r *ParticipantRepository) Get(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID)
	return scanParticipant(row)
}

func (r *ParticipantRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, includeBots bool) ([]*participant.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE session_id=$1`
	if !includeBots {
		query += ` AND is_bot=FALSE`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*participant.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResetSession clears the role of every human participant and marks them
// not_joined so they go through onboarding again.
func (r *ParticipantRepository) ResetSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (int, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE participants SET
			role_id=NULL, role_name=NULL, joined_at=NULL,
			status='not_joined', updated_at=$1, version=version+1
		WHERE session_id=$2 AND is_bot=FALSE
	`, now, sessionID)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

func scanParticipant(row pgx.Row) (*participant.Participant, error) {
	var p participant.Participant
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.RealName, &p.DisplayName, &p.RoleID, &p.RoleName, &p.AvatarFallback,
		&p.Status, &p.IsBot, &p.Muted, &p.PenaltyUntil, &p.JoinedAt, &p.UpdatedAt, &p.Version); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
