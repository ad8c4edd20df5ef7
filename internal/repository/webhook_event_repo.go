package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawgent/backend/internal/models"
)

// WebhookEventRepo is the at-most-once gate for processor notifications.
type WebhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Insert records the event id inside tx. It returns false when the id was
// already recorded. A concurrent insert of the same id blocks on the primary
// key until the other transaction finishes.
func (r *WebhookEventRepo) Insert(ctx context.Context, tx pgx.Tx, ev *models.ProcessedWebhookEvent) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.EventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookEventRepo) Get(ctx context.Context, eventID string) (*models.ProcessedWebhookEvent, error) {
	var ev models.ProcessedWebhookEvent
	err := r.pool.QueryRow(ctx, `
		SELECT event_id, event_type, processed_at FROM processed_webhook_events WHERE event_id = $1
	`, eventID).Scan(&ev.EventID, &ev.EventType, &ev.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
