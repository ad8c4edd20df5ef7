// Package ledger is the credit ledger: an append-only log of signed postings
// per operator with a cached balance that is written only alongside an insert.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OperatorStore is the operator-row subset the ledger needs.
type OperatorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Operator, error)
	SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error
}

// TransactionStore is the append-only transaction log.
type TransactionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error
	GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, operatorID uuid.UUID, key string) (*models.CreditTransaction, error)
	List(ctx context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) ([]*models.CreditTransaction, int, error)
	MonthlyUsage(ctx context.Context, operatorID uuid.UUID, since time.Time) ([]models.MonthlyUsage, error)
	TopReferenceTypes(ctx context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error)
	BalanceChecks(ctx context.Context) ([]models.BalanceCheck, error)
}

// Reference points a posting at the record that caused it.
type Reference struct {
	Type string
	ID   string
}

// PostRequest describes one ledger posting. Amount is signed.
type PostRequest struct {
	OperatorID     uuid.UUID
	Type           models.CreditTransactionType
	Amount         int64
	Reference      *Reference
	IdempotencyKey string
}

// TransactionPage is one page of a ledger listing.
type TransactionPage struct {
	Items  []*models.CreditTransaction `json:"items"`
	Total  int                         `json:"total"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}

type Service interface {
	// Post applies a posting in its own transaction.
	Post(ctx context.Context, req PostRequest) (*models.CreditTransaction, error)
	// PostTx applies a posting inside the caller's transaction. The operator row
	// stays locked until that transaction ends.
	PostTx(ctx context.Context, tx pgx.Tx, req PostRequest) (*models.CreditTransaction, error)
	GetBalance(ctx context.Context, operatorID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) (*TransactionPage, error)
	MonthlyUsage(ctx context.Context, operatorID uuid.UUID, months int) ([]models.MonthlyUsage, error)
	TopReferenceTypes(ctx context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error)
	Reconcile(ctx context.Context) ([]models.BalanceCheck, error)
}

type service struct {
	db        TxBeginner
	operators OperatorStore
	txns      TransactionStore
	log       *slog.Logger
	now       func() time.Time
}

func NewService(db TxBeginner, operators OperatorStore, txns TransactionStore, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, operators: operators, txns: txns, log: log, now: time.Now}
}

var _ Service = (*service)(nil)

func validate(req PostRequest) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	switch req.Type {
	case models.CreditDeduction:
		if req.Amount >= 0 {
			return ErrInvalidAmount
		}
	case models.CreditAdjustment:
		if req.Amount == 0 {
			return ErrInvalidAmount
		}
	default:
		if req.Amount <= 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}

func (s *service) Post(ctx context.Context, req PostRequest) (*models.CreditTransaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := s.PostTx(ctx, tx, req)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit posting: %w", err)
	}
	s.log.Info("ledger posting",
		"operator_id", t.OperatorID, "type", t.Type, "amount", t.Amount, "balance_after", t.BalanceAfter)
	return t, nil
}

// PostTx returns the previously recorded transaction together with
// ErrDuplicateOperation when the idempotency key was already used.
func (s *service) PostTx(ctx context.Context, tx pgx.Tx, req PostRequest) (*models.CreditTransaction, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	op, err := s.operators.GetByIDForUpdate(ctx, tx, req.OperatorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock operator: %w", err)
	}

	if req.IdempotencyKey != "" {
		prior, err := s.txns.GetByIdempotencyKey(ctx, tx, op.ID, req.IdempotencyKey)
		switch {
		case err == nil:
			return prior, ErrDuplicateOperation
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	newBalance := op.CreditBalance + req.Amount
	if req.Amount < 0 && newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	t := &models.CreditTransaction{
		ID:           uuid.New(),
		OperatorID:   op.ID,
		Type:         req.Type,
		Amount:       req.Amount,
		BalanceAfter: newBalance,
	}
	if req.Reference != nil {
		t.ReferenceType = &req.Reference.Type
		t.ReferenceID = &req.Reference.ID
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		t.IdempotencyKey = &key
	}

	if err := s.txns.CreateTx(ctx, tx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateOperation
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := s.operators.SetBalance(ctx, tx, op.ID, newBalance); err != nil {
		return nil, fmt.Errorf("update cached balance: %w", err)
	}
	return t, nil
}

func (s *service) GetBalance(ctx context.Context, operatorID uuid.UUID) (int64, error) {
	op, err := s.operators.GetByID(ctx, operatorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrOperatorNotFound
	}
	if err != nil {
		return 0, err
	}
	return op.CreditBalance, nil
}

func (s *service) ListTransactions(ctx context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) (*TransactionPage, error) {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	items, total, err := s.txns.List(ctx, operatorID, f, p)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.CreditTransaction{}
	}
	return &TransactionPage{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// MonthlyUsage returns deduction totals for the current month and the
// months-1 before it.
func (s *service) MonthlyUsage(ctx context.Context, operatorID uuid.UUID, months int) ([]models.MonthlyUsage, error) {
	if months <= 0 {
		months = 12
	}
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	return s.txns.MonthlyUsage(ctx, operatorID, since)
}

func (s *service) TopReferenceTypes(ctx context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.txns.TopReferenceTypes(ctx, operatorID, limit)
}
