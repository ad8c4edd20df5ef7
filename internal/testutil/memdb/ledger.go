package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/repository"
)

type OperatorRepo struct{ db *DB }

func (db *DB) Operators() *OperatorRepo { return &OperatorRepo{db: db} }

// Create stores an operator with a zero balance.
func (r *OperatorRepo) Create(_ context.Context, o *models.Operator) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	cp := *o
	cp.CreditBalance = 0
	cp.CreatedAt, cp.UpdatedAt = now, now
	if cp.Status == "" {
		cp.Status = models.OperatorStatusActive
	}
	r.db.operators[o.ID] = &cp
	o.CreditBalance, o.CreatedAt, o.UpdatedAt, o.Status = 0, now, now, cp.Status
	return nil
}

// List returns every operator, oldest first.
func (r *OperatorRepo) List(context.Context) ([]*models.Operator, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*models.Operator, 0, len(r.db.operators))
	for _, o := range r.db.operators {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OperatorRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Operator, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.operators[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (r *OperatorRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Operator, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	t.lock("operator:" + id.String())
	return r.GetByID(ctx, id)
}

func (r *OperatorRepo) SetBalance(_ context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.operators[id]
	if !ok {
		return pgx.ErrNoRows
	}
	prev := o.CreditBalance
	o.CreditBalance = balance
	t.onRollback(func() { o.CreditBalance = prev })
	return nil
}

// ForceBalance overwrites the cached balance outside the ledger, for drift tests.
func (r *OperatorRepo) ForceBalance(id uuid.UUID, balance int64) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.operators[id].CreditBalance = balance
}

type CreditRepo struct{ db *DB }

func (db *DB) Credits() *CreditRepo { return &CreditRepo{db: db} }

func (r *CreditRepo) CreateTx(_ context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c.IdempotencyKey != nil {
		for _, e := range r.db.credits {
			if e.OperatorID == c.OperatorID && e.IdempotencyKey != nil && *e.IdempotencyKey == *c.IdempotencyKey {
				return repository.ErrDuplicate
			}
		}
	}
	c.CreatedAt = time.Now()
	cp := *c
	r.db.credits = append(r.db.credits, &cp)
	t.onRollback(func() {
		for i, e := range r.db.credits {
			if e.ID == cp.ID {
				r.db.credits = append(r.db.credits[:i], r.db.credits[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *CreditRepo) GetByIdempotencyKey(_ context.Context, _ pgx.Tx, operatorID uuid.UUID, key string) (*models.CreditTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.credits {
		if e.OperatorID == operatorID && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// All returns every transaction of the operator in insertion order.
func (r *CreditRepo) All(operatorID uuid.UUID) []*models.CreditTransaction {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range r.db.credits {
		if e.OperatorID == operatorID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func matches(e *models.CreditTransaction, f models.TransactionFilter) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.ReferenceType != "" && (e.ReferenceType == nil || *e.ReferenceType != f.ReferenceType) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func (r *CreditRepo) List(_ context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) ([]*models.CreditTransaction, int, error) {
	all := r.All(operatorID)
	var hits []*models.CreditTransaction
	for i := len(all) - 1; i >= 0; i-- {
		if matches(all[i], f) {
			hits = append(hits, all[i])
		}
	}
	total := len(hits)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return hits[p.Offset:end], total, nil
}

func (r *CreditRepo) MonthlyUsage(_ context.Context, operatorID uuid.UUID, since time.Time) ([]models.MonthlyUsage, error) {
	byMonth := map[time.Time]int64{}
	for _, e := range r.All(operatorID) {
		if e.Type != models.CreditDeduction || e.CreatedAt.Before(since) {
			continue
		}
		u := e.CreatedAt.UTC()
		byMonth[time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)] += -e.Amount
	}
	out := make([]models.MonthlyUsage, 0, len(byMonth))
	for m, c := range byMonth {
		out = append(out, models.MonthlyUsage{Month: m, Credits: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (r *CreditRepo) TopReferenceTypes(_ context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error) {
	agg := map[string]*models.ReferenceSpend{}
	for _, e := range r.All(operatorID) {
		if e.Type != models.CreditDeduction {
			continue
		}
		ref := ""
		if e.ReferenceType != nil {
			ref = *e.ReferenceType
		}
		s, ok := agg[ref]
		if !ok {
			s = &models.ReferenceSpend{ReferenceType: ref}
			agg[ref] = s
		}
		s.Credits += -e.Amount
		s.Count++
	}
	out := make([]models.ReferenceSpend, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits > out[j].Credits })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CreditRepo) BalanceChecks(context.Context) ([]models.BalanceCheck, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	sums := map[uuid.UUID]int64{}
	for _, e := range r.db.credits {
		sums[e.OperatorID] += e.Amount
	}
	out := make([]models.BalanceCheck, 0, len(r.db.operators))
	for id, o := range r.db.operators {
		out = append(out, models.BalanceCheck{OperatorID: id, Cached: o.CreditBalance, LogSum: sums[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorID.String() < out[j].OperatorID.String() })
	return out, nil
}

func (r *CreditRepo) GetByID(_ context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.credits {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}
