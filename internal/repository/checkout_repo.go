package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

type CheckoutRepo struct {
	pool *pgxpool.Pool
}

func NewCheckoutRepo(pool *pgxpool.Pool) *CheckoutRepo {
	return &CheckoutRepo{pool: pool}
}

const checkoutColumns = `id, operator_id, amount_usd, credits_to_add, COALESCE(external_session_id, ''), status, expires_at, completed_at, created_at`

func scanCheckout(row pgx.Row) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := row.Scan(&s.ID, &s.OperatorID, &s.AmountUSD, &s.CreditsToAdd, &s.ExternalSessionID, &s.Status, &s.ExpiresAt, &s.CompletedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *CheckoutRepo) Create(ctx context.Context, s *models.CheckoutSession) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO checkout_sessions (id, operator_id, amount_usd, credits_to_add, external_session_id, status, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at
	`, s.ID, s.OperatorID, s.AmountUSD, s.CreditsToAdd, s.ExternalSessionID, s.Status, s.ExpiresAt).Scan(&s.CreatedAt)
	return mapUniqueViolation(err)
}

// SetExternalID attaches the processor's session id to a row that has none.
func (r *CheckoutRepo) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE checkout_sessions SET external_session_id = $2 WHERE id = $1 AND external_session_id IS NULL
	`, id, externalID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *CheckoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	return scanCheckout(r.pool.QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkout_sessions WHERE id = $1`, id))
}

// GetByExternalIDForUpdate locks the session matching the processor's session id.
func (r *CheckoutRepo) GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, externalID string) (*models.CheckoutSession, error) {
	return scanCheckout(tx.QueryRow(ctx, `
		SELECT `+checkoutColumns+` FROM checkout_sessions WHERE external_session_id = $1 FOR UPDATE
	`, externalID))
}

// UpdateStatus moves a locked session out of OPEN.
func (r *CheckoutRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, completedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions SET status = $2, completed_at = $3 WHERE id = $1 AND status = 'OPEN'
	`, id, status, completedAt)
	return err
}
