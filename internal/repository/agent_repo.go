package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

func (r *AgentRepo) Create(ctx context.Context, ag *models.Agent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO agents (id, operator_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, ag.ID, ag.OperatorID, ag.Name).Scan(&ag.CreatedAt)
}

func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var ag models.Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, operator_id, name, created_at FROM agents WHERE id = $1
	`, id).Scan(&ag.ID, &ag.OperatorID, &ag.Name, &ag.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ag, nil
}

func (r *AgentRepo) ListByOperatorID(ctx context.Context, operatorID uuid.UUID) ([]*models.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, operator_id, name, created_at FROM agents WHERE operator_id = $1 ORDER BY created_at
	`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Agent
	for rows.Next() {
		var ag models.Agent
		if err := rows.Scan(&ag.ID, &ag.OperatorID, &ag.Name, &ag.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &ag)
	}
	return list, rows.Err()
}
