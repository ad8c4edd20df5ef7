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

type CheckoutRepo struct{ db *DB }

func (db *DB) Checkouts() *CheckoutRepo { return &CheckoutRepo{db: db} }

func (r *CheckoutRepo) Create(_ context.Context, s *models.CheckoutSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.checkouts[s.ID]; ok {
		return repository.ErrDuplicate
	}
	if s.ExternalSessionID != "" && r.externalTaken(s.ExternalSessionID) {
		return repository.ErrDuplicate
	}
	s.CreatedAt = time.Now()
	cp := *s
	r.db.checkouts[s.ID] = &cp
	return nil
}

func (r *CheckoutRepo) externalTaken(externalID string) bool {
	for _, e := range r.db.checkouts {
		if e.ExternalSessionID == externalID {
			return true
		}
	}
	return false
}

func (r *CheckoutRepo) SetExternalID(_ context.Context, id uuid.UUID, externalID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.checkouts[id]
	if !ok || s.ExternalSessionID != "" {
		return pgx.ErrNoRows
	}
	if r.externalTaken(externalID) {
		return repository.ErrDuplicate
	}
	s.ExternalSessionID = externalID
	return nil
}

func (r *CheckoutRepo) GetByID(_ context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.checkouts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *CheckoutRepo) GetByExternalIDForUpdate(_ context.Context, tx pgx.Tx, externalID string) (*models.CheckoutSession, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	t.lock("checkout:" + externalID)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.checkouts {
		if externalID != "" && s.ExternalSessionID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *CheckoutRepo) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, status string, completedAt *time.Time) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.checkouts[id]
	if !ok || s.Status != models.CheckoutOpen {
		return nil
	}
	prev := *s
	s.Status, s.CompletedAt = status, completedAt
	t.onRollback(func() { *s = prev })
	return nil
}

type EscrowRepo struct{ db *DB }

func (db *DB) Escrows() *EscrowRepo { return &EscrowRepo{db: db} }

func (r *EscrowRepo) Create(_ context.Context, e *models.EscrowTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	r.db.escrows[e.ID] = &cp
	return nil
}

func (r *EscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.escrows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	t.lock("escrow:" + id.String())
	return r.GetByID(ctx, id)
}

func (r *EscrowRepo) Update(_ context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.escrows[e.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	prev := *cur
	e.UpdatedAt = time.Now()
	*cur = *e
	t.onRollback(func() { *cur = prev })
	return nil
}

type SettlementRepo struct{ db *DB }

func (db *DB) Settlements() *SettlementRepo { return &SettlementRepo{db: db} }

func (r *SettlementRepo) Create(_ context.Context, tx pgx.Tx, s *models.ProviderSettlement) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	r.db.settlements[s.ID] = &cp
	t.onRollback(func() { delete(r.db.settlements, cp.ID) })
	return nil
}

func (r *SettlementRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.settlements[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *SettlementRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ProviderSettlement, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	t.lock("settlement:" + id.String())
	return r.GetByID(ctx, id)
}

func (r *SettlementRepo) GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, transferID string) (*models.ProviderSettlement, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	r.db.mu.Lock()
	var id uuid.UUID
	found := false
	for _, s := range r.db.settlements {
		if s.TransferID != nil && *s.TransferID == transferID {
			id, found = s.ID, true
			break
		}
	}
	r.db.mu.Unlock()
	if !found {
		return nil, pgx.ErrNoRows
	}
	t.lock("settlement:" + id.String())
	return r.GetByID(ctx, id)
}

func (r *SettlementRepo) HasOverlap(_ context.Context, _ pgx.Tx, providerID uuid.UUID, start, end time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.settlements {
		if s.ProviderID == providerID && s.PeriodStart.Before(end) && s.PeriodEnd.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (r *SettlementRepo) HasProcessing(_ context.Context, _ pgx.Tx, providerID, excludeID uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.settlements {
		if s.ProviderID == providerID && s.ID != excludeID && s.Status == models.SettlementProcessing {
			return true, nil
		}
	}
	return false, nil
}

func (r *SettlementRepo) Update(_ context.Context, tx pgx.Tx, s *models.ProviderSettlement) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.settlements[s.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if s.TransferID != nil {
		for _, o := range r.db.settlements {
			if o.ID != s.ID && o.TransferID != nil && *o.TransferID == *s.TransferID {
				return repository.ErrDuplicate
			}
		}
	}
	prev := *cur
	s.UpdatedAt = time.Now()
	*cur = *s
	t.onRollback(func() { *cur = prev })
	return nil
}

func (r *SettlementRepo) ListFailed(_ context.Context, limit int) ([]*models.ProviderSettlement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.ProviderSettlement
	for _, s := range r.db.settlements {
		if s.Status == models.SettlementFailed && !s.NeedsReview {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every settlement of the provider ordered by period start.
func (r *SettlementRepo) All(providerID uuid.UUID) []*models.ProviderSettlement {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.ProviderSettlement
	for _, s := range r.db.settlements {
		if s.ProviderID == providerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}

type WebhookEventRepo struct{ db *DB }

func (db *DB) WebhookEvents() *WebhookEventRepo { return &WebhookEventRepo{db: db} }

// Insert takes the event-id lock first, so a concurrent delivery of the same
// id waits for the first transaction, like a primary-key conflict does.
func (r *WebhookEventRepo) Insert(_ context.Context, tx pgx.Tx, ev *models.ProcessedWebhookEvent) (bool, error) {
	t, err := asTx(tx)
	if err != nil {
		return false, err
	}
	t.lock("event:" + ev.EventID)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.events[ev.EventID]; ok {
		return false, nil
	}
	cp := *ev
	cp.ProcessedAt = time.Now()
	r.db.events[ev.EventID] = &cp
	t.onRollback(func() { delete(r.db.events, cp.EventID) })
	return true, nil
}

func (r *WebhookEventRepo) Get(_ context.Context, eventID string) (*models.ProcessedWebhookEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ev, ok := r.db.events[eventID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ev
	return &cp, nil
}
