package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsim/joinsync/internal/domain/scenario"
)

// ScenarioRepository implements scenario.Repository. Roles are kept as one
// JSONB document per scenario.
type ScenarioRepository struct {
	pool *pgxpool.Pool
}

func NewScenarioRepository(pool *pgxpool.Pool) *ScenarioRepository {
	return &ScenarioRepository{pool: pool}
}

func (r *ScenarioRepository) Upsert(ctx context.Context, sc *scenario.Scenario) error {
	roles, err := json.Marshal(sc.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scenarios (scenario_id, name, description, roles, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (scenario_id) DO UPDATE SET
			name=EXCLUDED.name, description=EXCLUDED.description, roles=EXCLUDED.roles, updated_at=EXCLUDED.updated_at
	`, sc.ScenarioID, sc.Name, sc.Description, roles, sc.CreatedAt, sc.UpdatedAt)
	return err
}

func (r *ScenarioRepository) GetByID(ctx context.Context, scenarioID uuid.UUID) (*scenario.Scenario, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT scenario_id, name, description, roles, created_at, updated_at
		FROM scenarios WHERE scenario_id=$1
	`, scenarioID)
	return scanScenario(row)
}

func (r *ScenarioRepository) List(ctx context.Context, limit, offset int) ([]*scenario.Scenario, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scenario_id, name, description, roles, created_at, updated_at
		FROM scenarios ORDER BY name ASC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*scenario.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanScenario(row pgx.Row) (*scenario.Scenario, error) {
	var sc scenario.Scenario
	var roles json.RawMessage
	if err := row.Scan(&sc.ScenarioID, &sc.Name, &sc.Description, &roles, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &sc.Roles); err != nil {
			return nil, fmt.Errorf("unmarshal roles: %w", err)
		}
	}
	return &sc, nil
}
