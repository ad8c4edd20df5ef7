package memdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
)

type AgentRepo struct{ db *DB }

func (db *DB) Agents() *AgentRepo { return &AgentRepo{db: db} }

func (r *AgentRepo) Create(_ context.Context, ag *models.Agent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ag.CreatedAt = time.Now()
	cp := *ag
	r.db.agents[ag.ID] = &cp
	return nil
}

func (r *AgentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ag, ok := r.db.agents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ag
	return &cp, nil
}

func (r *AgentRepo) ListByOperatorID(_ context.Context, operatorID uuid.UUID) ([]*models.Agent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Agent
	for _, ag := range r.db.agents {
		if ag.OperatorID == operatorID {
			cp := *ag
			out = append(out, &cp)
		}
	}
	return out, nil
}

type ProviderRepo struct{ db *DB }

func (db *DB) Providers() *ProviderRepo { return &ProviderRepo{db: db} }

func (r *ProviderRepo) Create(_ context.Context, p *models.Provider) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.CreatedAt = time.Now()
	cp := *p
	r.db.providers[p.ID] = &cp
	return nil
}

func (r *ProviderRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Provider, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.providers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (r *ProviderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Provider, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	t.lock("provider:" + id.String())
	return r.GetByID(ctx, id)
}

func (r *ProviderRepo) SumEarnings(_ context.Context, _ pgx.Tx, providerID uuid.UUID, start, end time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var total int64
	for _, sr := range r.db.requests {
		if sr.ProviderID == providerID && sr.Status == models.ServiceRequestCompleted &&
			!sr.CompletedAt.Before(start) && sr.CompletedAt.Before(end) {
			total += sr.EarningCents
		}
	}
	return total, nil
}

func (r *ProviderRepo) ListWithEarnings(_ context.Context, start, end time.Time) ([]uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, sr := range r.db.requests {
		if sr.Status != models.ServiceRequestCompleted || sr.EarningCents <= 0 {
			continue
		}
		if sr.CompletedAt.Before(start) || !sr.CompletedAt.Before(end) || seen[sr.ProviderID] {
			continue
		}
		seen[sr.ProviderID] = true
		out = append(out, sr.ProviderID)
	}
	return out, nil
}

func (r *ProviderRepo) RecordServiceRequest(_ context.Context, sr *models.ServiceRequest) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *sr
	r.db.requests = append(r.db.requests, &cp)
	return nil
}
