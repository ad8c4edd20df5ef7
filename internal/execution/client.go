package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Schedule holds the periodic job intervals.
type Schedule struct {
	SettlementPeriod  time.Duration
	ReconcileInterval time.Duration
	RetryFailedEvery  time.Duration
}

// Workers registers every background worker.
func Workers(settlements Settlements, ledger Reconciler, log *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewProcessSettlementWorker(settlements, log))
	river.AddWorker(workers, NewSettleAllWorker(settlements, log))
	river.AddWorker(workers, NewReconcileBalancesWorker(ledger, log))
	river.AddWorker(workers, NewRetryFailedSettlementsWorker(settlements, log))
	return workers
}

// PeriodicJobs schedules the settlement batch for the last closed period,
// balance reconciliation and the failed-settlement retry sweep.
func PeriodicJobs(s Schedule, now func() time.Time) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(s.SettlementPeriod),
			func() (river.JobArgs, *river.InsertOpts) {
				start, end := PreviousPeriod(now(), s.SettlementPeriod)
				return SettleAllArgs{PeriodStart: start, PeriodEnd: end}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.ReconcileInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ReconcileBalancesArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.RetryFailedEvery),
			func() (river.JobArgs, *river.InsertOpts) { return RetryFailedSettlementsArgs{Limit: 100}, nil },
			nil,
		),
	}
}

// InsertTxFunc inserts a job inside the caller's transaction.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

// Enqueuer schedules settlement processing in the same transaction that
// creates the settlement, so a rollback never leaves an orphan job.
type Enqueuer struct {
	insert InsertTxFunc
}

func NewEnqueuer(insert InsertTxFunc) *Enqueuer {
	return &Enqueuer{insert: insert}
}

// ClientInsert adapts a River client to InsertTxFunc.
func ClientInsert(client *river.Client[pgx.Tx]) InsertTxFunc {
	return func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := client.InsertTx(ctx, tx, args, nil)
		return err
	}
}

func (e *Enqueuer) EnqueueProcessTx(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID) error {
	return e.insert(ctx, tx, ProcessSettlementArgs{SettlementID: settlementID})
}
