package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// ProcessSettlementArgs drives one PENDING settlement through its transfer.
type ProcessSettlementArgs struct {
	SettlementID uuid.UUID `json:"settlement_id"`
}

func (ProcessSettlementArgs) Kind() string { return "process_settlement" }

func (ProcessSettlementArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// SettleAllArgs batches every provider with earnings in [PeriodStart, PeriodEnd).
type SettleAllArgs struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (SettleAllArgs) Kind() string { return "settle_all" }

func (SettleAllArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// ReconcileBalancesArgs checks every cached balance against its ledger.
type ReconcileBalancesArgs struct{}

func (ReconcileBalancesArgs) Kind() string { return "reconcile_balances" }

// RetryFailedSettlementsArgs re-attempts FAILED settlements not under review.
type RetryFailedSettlementsArgs struct {
	Limit int `json:"limit"`
}

func (RetryFailedSettlementsArgs) Kind() string { return "retry_failed_settlements" }

// PreviousPeriod returns the last complete period of length d before now,
// aligned to d in UTC.
func PreviousPeriod(now time.Time, d time.Duration) (start, end time.Time) {
	end = now.UTC().Truncate(d)
	return end.Add(-d), end
}
