// Package webhook verifies processor notifications and applies each distinct
// event id at most once. The dedup record and the event's effects commit in
// one transaction, so a crash between them cannot lose or repeat an effect.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/settlement"
)

type EventStore interface {
	Insert(ctx context.Context, tx pgx.Tx, ev *models.ProcessedWebhookEvent) (bool, error)
}

type CheckoutApplier interface {
	CompleteTx(ctx context.Context, tx pgx.Tx, externalID, eventID string) (bool, error)
	ExpireTx(ctx context.Context, tx pgx.Tx, externalID string) (bool, error)
}

type TransferApplier interface {
	RecordTransferTx(ctx context.Context, tx pgx.Tx, ref settlement.TransferRef) (bool, error)
	MarkReversedTx(ctx context.Context, tx pgx.Tx, ref settlement.TransferRef, reason string) (bool, error)
}

// Result says what Apply did with an event.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	// ResultIgnored means the event was recorded but changed nothing.
	ResultIgnored Result = "ignored"
)

type Reconciler struct {
	db        ledger.TxBeginner
	events    EventStore
	checkouts CheckoutApplier
	transfers TransferApplier
	log       *slog.Logger
}

func NewReconciler(db ledger.TxBeginner, events EventStore, checkouts CheckoutApplier, transfers TransferApplier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, events: events, checkouts: checkouts, transfers: transfers, log: log}
}

// Apply records the event id and applies its effects. A redelivered id is
// acknowledged without touching anything. Any returned error means nothing
// was recorded and the sender should redeliver.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	meta := ev.Envelope()
	log := r.log.With("event_id", meta.ID, "event_type", meta.Type)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	fresh, err := r.events.Insert(ctx, tx, &models.ProcessedWebhookEvent{EventID: meta.ID, EventType: meta.Type})
	if err != nil {
		return "", fmt.Errorf("record event: %w", err)
	}
	if !fresh {
		log.Info("webhook event already processed")
		return ResultDuplicate, nil
	}

	changed, err := r.apply(ctx, tx, ev)
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		// A paid session we cannot match means money arrived without credits.
		if c, ok := ev.(CheckoutCompleted); ok && c.Paid {
			log.Error("paid checkout session not found, credits not posted", "session_id", c.SessionID, "error", err)
		} else {
			log.Warn("webhook event references unknown record", "error", err)
		}
		changed, err = false, nil
	case errors.Is(err, settlement.ErrSettlementNotFound):
		log.Warn("webhook event references unknown record", "error", err)
		changed, err = false, nil
	case err != nil:
		log.Error("webhook event failed", "error", err)
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit event: %w", err)
	}

	if !changed {
		log.Info("webhook event recorded without effect")
		return ResultIgnored, nil
	}
	log.Info("webhook event applied")
	return ResultApplied, nil
}

func (r *Reconciler) apply(ctx context.Context, tx pgx.Tx, ev Event) (bool, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		if !e.Paid {
			return false, nil
		}
		return r.checkouts.CompleteTx(ctx, tx, e.SessionID, e.ID)
	case CheckoutExpired:
		return r.checkouts.ExpireTx(ctx, tx, e.SessionID)
	case TransferCreated:
		return r.transfers.RecordTransferTx(ctx, tx, e.Ref)
	case TransferReversed:
		return r.transfers.MarkReversedTx(ctx, tx, e.Ref, "reversed")
	case TransferUpdated:
		if e.Reversed {
			return r.transfers.MarkReversedTx(ctx, tx, e.Ref, "reversed")
		}
		return r.transfers.RecordTransferTx(ctx, tx, e.Ref)
	case Unrecognized:
		r.log.Info("unrecognized webhook event acknowledged", "event_id", e.ID, "event_type", e.Type)
		return false, nil
	default:
		return false, fmt.Errorf("unhandled event kind %T", ev)
	}
}
