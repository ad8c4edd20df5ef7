package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

type OperatorRepo struct {
	pool *pgxpool.Pool
}

func NewOperatorRepo(pool *pgxpool.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

const operatorColumns = `id, name, credit_balance, status, created_at, updated_at`

func scanOperator(row pgx.Row) (*models.Operator, error) {
	var o models.Operator
	if err := row.Scan(&o.ID, &o.Name, &o.CreditBalance, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts an operator with a zero balance. Credits only arrive through the ledger.
func (r *OperatorRepo) Create(ctx context.Context, o *models.Operator) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO operators (id, name, credit_balance, status)
		VALUES ($1, $2, 0, $3)
		RETURNING created_at, updated_at
	`, o.ID, o.Name, o.Status).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *OperatorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id = $1`, id))
}

// GetByIDForUpdate locks the operator row. Call within a transaction; it is the
// serialization point for every posting against the operator.
func (r *OperatorRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Operator, error) {
	return scanOperator(tx.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id = $1 FOR UPDATE`, id))
}

// SetBalance writes the cached balance. Call after GetByIDForUpdate in the same tx.
func (r *OperatorRepo) SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE operators SET credit_balance = $2, updated_at = now() WHERE id = $1
	`, id, balance)
	return err
}

func (r *OperatorRepo) List(ctx context.Context) ([]*models.Operator, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Operator
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
