package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/settlement"
)

// Settlements is the settlement surface the workers drive.
type Settlements interface {
	Process(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error)
	SettleAll(ctx context.Context, start, end time.Time) ([]*models.ProviderSettlement, error)
	ListFailed(ctx context.Context, limit int) ([]*models.ProviderSettlement, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.BalanceCheck, error)
}

// inFlightBackoff is how long a process job waits when the provider already
// has a transfer in flight.
const inFlightBackoff = time.Minute

type ProcessSettlementWorker struct {
	river.WorkerDefaults[ProcessSettlementArgs]
	settlements Settlements
	log         *slog.Logger
}

func NewProcessSettlementWorker(s Settlements, log *slog.Logger) *ProcessSettlementWorker {
	return &ProcessSettlementWorker{settlements: s, log: log}
}

// Work never lets River retry a transfer whose outcome is known or unknown:
// a rejected transfer is retried through RetryFailedSettlements, and an
// unknown one waits for the processor webhook or an operator.
func (w *ProcessSettlementWorker) Work(ctx context.Context, job *river.Job[ProcessSettlementArgs]) error {
	id := job.Args.SettlementID
	st, err := w.settlements.Process(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, settlement.ErrInvalidSettlementTransition):
		// Already processed by an earlier attempt or by hand.
		w.log.Info("settlement no longer pending, skipping", "settlement_id", id)
		return nil
	case errors.Is(err, settlement.ErrSettlementInFlight):
		return river.JobSnooze(inFlightBackoff)
	case errors.Is(err, settlement.ErrExternalTransferFailed),
		errors.Is(err, settlement.ErrNoPayoutAccount),
		errors.Is(err, settlement.ErrTransferOutcomeUnknown),
		errors.Is(err, settlement.ErrSettlementNotFound):
		status := models.SettlementStatus("")
		if st != nil {
			status = st.Status
		}
		w.log.Warn("settlement process ended without payout", "settlement_id", id, "status", status, "error", err)
		return river.JobCancel(err)
	default:
		return fmt.Errorf("process settlement %s: %w", id, err)
	}
}

type SettleAllWorker struct {
	river.WorkerDefaults[SettleAllArgs]
	settlements Settlements
	log         *slog.Logger
}

func NewSettleAllWorker(s Settlements, log *slog.Logger) *SettleAllWorker {
	return &SettleAllWorker{settlements: s, log: log}
}

func (w *SettleAllWorker) Work(ctx context.Context, job *river.Job[SettleAllArgs]) error {
	created, err := w.settlements.SettleAll(ctx, job.Args.PeriodStart, job.Args.PeriodEnd)
	w.log.Info("settlement batch",
		"period_start", job.Args.PeriodStart, "period_end", job.Args.PeriodEnd, "created", len(created))
	if err != nil {
		// Providers already settled are skipped inside SettleAll, so a rerun
		// only retries the ones that failed.
		return fmt.Errorf("settle all: %w", err)
	}
	return nil
}

type ReconcileBalancesWorker struct {
	river.WorkerDefaults[ReconcileBalancesArgs]
	ledger Reconciler
	log    *slog.Logger
}

func NewReconcileBalancesWorker(l Reconciler, log *slog.Logger) *ReconcileBalancesWorker {
	return &ReconcileBalancesWorker{ledger: l, log: log}
}

// Work logs drift but never corrects it.
func (w *ReconcileBalancesWorker) Work(ctx context.Context, _ *river.Job[ReconcileBalancesArgs]) error {
	drift, err := w.ledger.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile balances: %w", err)
	}
	for _, d := range drift {
		w.log.Error("balance drift",
			"operator_id", d.OperatorID, "cached", d.Cached, "log_sum", d.LogSum)
	}
	if len(drift) == 0 {
		w.log.Info("balances reconciled")
	}
	return nil
}

type RetryFailedSettlementsWorker struct {
	river.WorkerDefaults[RetryFailedSettlementsArgs]
	settlements Settlements
	log         *slog.Logger
}

func NewRetryFailedSettlementsWorker(s Settlements, log *slog.Logger) *RetryFailedSettlementsWorker {
	return &RetryFailedSettlementsWorker{settlements: s, log: log}
}

// Work retries each eligible settlement once. Individual failures are logged
// and left FAILED for the next run.
func (w *RetryFailedSettlementsWorker) Work(ctx context.Context, job *river.Job[RetryFailedSettlementsArgs]) error {
	failed, err := w.settlements.ListFailed(ctx, job.Args.Limit)
	if err != nil {
		return fmt.Errorf("list failed settlements: %w", err)
	}
	var paid int
	for _, st := range failed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := w.settlements.Retry(ctx, st.ID)
		if err != nil {
			w.log.Warn("settlement retry", "settlement_id", st.ID, "error", err)
			continue
		}
		if res.Status == models.SettlementPaid {
			paid++
		}
	}
	w.log.Info("failed settlements retried", "candidates", len(failed), "paid", paid)
	return nil
}
