package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

// ProviderRepo covers providers and the provider_service_requests they earn from.
type ProviderRepo struct {
	pool *pgxpool.Pool
}

func NewProviderRepo(pool *pgxpool.Pool) *ProviderRepo {
	return &ProviderRepo{pool: pool}
}

func (r *ProviderRepo) Create(ctx context.Context, p *models.Provider) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, payout_account_id) VALUES ($1, $2, $3)
		RETURNING created_at
	`, p.ID, p.Name, p.PayoutAccountID).Scan(&p.CreatedAt)
}

func (r *ProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var p models.Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, payout_account_id, created_at FROM providers WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PayoutAccountID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByIDForUpdate locks the provider row. Settlement batching and the
// PENDING to PROCESSING transition serialize on it.
func (r *ProviderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Provider, error) {
	var p models.Provider
	err := tx.QueryRow(ctx, `
		SELECT id, name, payout_account_id, created_at FROM providers WHERE id = $1 FOR UPDATE
	`, id).Scan(&p.ID, &p.Name, &p.PayoutAccountID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SumEarnings totals completed service-request earnings in [start, end).
func (r *ProviderRepo) SumEarnings(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(earning_cents), 0)
		FROM provider_service_requests
		WHERE provider_id = $1 AND status = 'completed'
		  AND completed_at >= $2 AND completed_at < $3
	`, providerID, start, end).Scan(&total)
	return total, err
}

// ListWithEarnings returns providers that have completed work in [start, end).
func (r *ProviderRepo) ListWithEarnings(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT provider_id
		FROM provider_service_requests
		WHERE status = 'completed' AND earning_cents > 0
		  AND completed_at >= $1 AND completed_at < $2
		ORDER BY provider_id
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordServiceRequest inserts a completed provider service request.
func (r *ProviderRepo) RecordServiceRequest(ctx context.Context, sr *models.ServiceRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_service_requests (id, provider_id, operator_id, status, earning_cents, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sr.ID, sr.ProviderID, sr.OperatorID, sr.Status, sr.EarningCents, sr.CompletedAt)
	return err
}
