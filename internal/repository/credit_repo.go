package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

// CreditRepo reads and appends credit_transactions. There is no update or delete.
type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

const creditColumns = `id, operator_id, type, amount, reference_type, reference_id, idempotency_key, balance_after, created_at`

func scanCredit(row pgx.Row) (*models.CreditTransaction, error) {
	var c models.CreditTransaction
	err := row.Scan(&c.ID, &c.OperatorID, &c.Type, &c.Amount, &c.ReferenceType, &c.ReferenceID, &c.IdempotencyKey, &c.BalanceAfter, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTx inserts a ledger row inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, operator_id, type, amount, reference_type, reference_id, idempotency_key, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.OperatorID, c.Type, c.Amount, c.ReferenceType, c.ReferenceID, c.IdempotencyKey, c.BalanceAfter).Scan(&c.CreatedAt)
	return mapUniqueViolation(err)
}

// GetByIdempotencyKey returns pgx.ErrNoRows when the key is unused for the operator.
func (r *CreditRepo) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, operatorID uuid.UUID, key string) (*models.CreditTransaction, error) {
	return scanCredit(tx.QueryRow(ctx, `
		SELECT `+creditColumns+` FROM credit_transactions WHERE operator_id = $1 AND idempotency_key = $2
	`, operatorID, key))
}

func (r *CreditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	return scanCredit(r.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credit_transactions WHERE id = $1`, id))
}

func transactionWhere(operatorID uuid.UUID, f models.TransactionFilter) (string, []any) {
	conds := []string{"operator_id = $1"}
	args := []any{operatorID}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.ReferenceType != "" {
		args = append(args, f.ReferenceType)
		conds = append(conds, fmt.Sprintf("reference_type = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of an operator's transactions, newest first, and the total match count.
func (r *CreditRepo) List(ctx context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) ([]*models.CreditTransaction, int, error) {
	where, args := transactionWhere(operatorID, f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM credit_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM credit_transactions%s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d
	`, creditColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, c)
	}
	return list, total, rows.Err()
}

// MonthlyUsage sums DEDUCTION credits per UTC month since the given time.
func (r *CreditRepo) MonthlyUsage(ctx context.Context, operatorID uuid.UUID, since time.Time) ([]models.MonthlyUsage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month, -SUM(amount)
		FROM credit_transactions
		WHERE operator_id = $1 AND type = 'DEDUCTION' AND created_at >= $2
		GROUP BY month ORDER BY month
	`, operatorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MonthlyUsage
	for rows.Next() {
		var m models.MonthlyUsage
		if err := rows.Scan(&m.Month, &m.Credits); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TopReferenceTypes ranks reference types by DEDUCTION spend.
func (r *CreditRepo) TopReferenceTypes(ctx context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(reference_type, ''), -SUM(amount), count(*)
		FROM credit_transactions
		WHERE operator_id = $1 AND type = 'DEDUCTION'
		GROUP BY reference_type
		ORDER BY 2 DESC
		LIMIT $2
	`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReferenceSpend
	for rows.Next() {
		var s models.ReferenceSpend
		if err := rows.Scan(&s.ReferenceType, &s.Credits, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BalanceChecks returns every operator's cached balance next to its log sum.
func (r *CreditRepo) BalanceChecks(ctx context.Context) ([]models.BalanceCheck, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.credit_balance, COALESCE(SUM(t.amount), 0)
		FROM operators o
		LEFT JOIN credit_transactions t ON t.operator_id = o.id
		GROUP BY o.id, o.credit_balance
		ORDER BY o.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BalanceCheck
	for rows.Next() {
		var b models.BalanceCheck
		if err := rows.Scan(&b.OperatorID, &b.Cached, &b.LogSum); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
