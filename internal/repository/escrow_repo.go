package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, buyer_agent_id, seller_agent_id, amount, currency, status, platform_fee, funded_at, released_at, released_to, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.BuyerAgentID, &e.SellerAgentID, &e.Amount, &e.Currency, &e.Status, &e.PlatformFee,
		&e.FundedAt, &e.ReleasedAt, &e.ReleasedTo, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.EscrowTransaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, buyer_agent_id, seller_agent_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, e.ID, e.BuyerAgentID, e.SellerAgentID, e.Amount, e.Currency, e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id))
}

// GetByIDForUpdate locks the escrow row; all transitions run under this lock.
func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE`, id))
}

// Update persists the mutable lifecycle fields of a locked escrow row.
func (r *EscrowRepo) Update(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	return tx.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET status = $2, platform_fee = $3, funded_at = $4, released_at = $5, released_to = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, e.ID, e.Status, e.PlatformFee, e.FundedAt, e.ReleasedAt, e.ReleasedTo).Scan(&e.UpdatedAt)
}
