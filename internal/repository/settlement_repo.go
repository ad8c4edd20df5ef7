package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

type SettlementRepo struct {
	pool *pgxpool.Pool
}

func NewSettlementRepo(pool *pgxpool.Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

const settlementColumns = `id, provider_id, period_start, period_end, amount_cents, status, transfer_id, paid_at, last_error, attempts, needs_review, created_at, updated_at`

func scanSettlement(row pgx.Row) (*models.ProviderSettlement, error) {
	var s models.ProviderSettlement
	err := row.Scan(&s.ID, &s.ProviderID, &s.PeriodStart, &s.PeriodEnd, &s.AmountCents, &s.Status, &s.TransferID,
		&s.PaidAt, &s.LastError, &s.Attempts, &s.NeedsReview, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *models.ProviderSettlement) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO provider_settlements (id, provider_id, period_start, period_end, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.ProviderID, s.PeriodStart, s.PeriodEnd, s.AmountCents, s.Status).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapUniqueViolation(err)
}

func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	return scanSettlement(r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM provider_settlements WHERE id = $1`, id))
}

func (r *SettlementRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ProviderSettlement, error) {
	return scanSettlement(tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM provider_settlements WHERE id = $1 FOR UPDATE`, id))
}

func (r *SettlementRepo) GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, transferID string) (*models.ProviderSettlement, error) {
	return scanSettlement(tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM provider_settlements WHERE transfer_id = $1 FOR UPDATE`, transferID))
}

// HasOverlap reports whether the provider already has a settlement whose
// period intersects [start, end).
func (r *SettlementRepo) HasOverlap(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_settlements
			WHERE provider_id = $1 AND period_start < $3 AND period_end > $2
		)
	`, providerID, start, end).Scan(&exists)
	return exists, err
}

// HasProcessing reports whether another settlement of the provider is mid-transfer.
func (r *SettlementRepo) HasProcessing(ctx context.Context, tx pgx.Tx, providerID, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_settlements
			WHERE provider_id = $1 AND status = 'PROCESSING' AND id <> $2
		)
	`, providerID, excludeID).Scan(&exists)
	return exists, err
}

// Update persists the mutable fields of a locked settlement.
func (r *SettlementRepo) Update(ctx context.Context, tx pgx.Tx, s *models.ProviderSettlement) error {
	err := tx.QueryRow(ctx, `
		UPDATE provider_settlements
		SET status = $2, transfer_id = $3, paid_at = $4, last_error = $5, attempts = $6, needs_review = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, s.ID, s.Status, s.TransferID, s.PaidAt, s.LastError, s.Attempts, s.NeedsReview).Scan(&s.UpdatedAt)
	return mapUniqueViolation(err)
}

// ListFailed returns FAILED settlements that are eligible for automatic retry.
func (r *SettlementRepo) ListFailed(ctx context.Context, limit int) ([]*models.ProviderSettlement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+settlementColumns+` FROM provider_settlements
		WHERE status = 'FAILED' AND needs_review = FALSE
		ORDER BY updated_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ProviderSettlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
