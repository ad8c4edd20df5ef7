package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/settlement"
)

type fakeSettlements struct {
	processErr error
	retryErr   map[uuid.UUID]error
	failed     []*models.ProviderSettlement
	settleErr  error

	processed []uuid.UUID
	retried   []uuid.UUID
	batches   [][2]time.Time
}

func (f *fakeSettlements) Process(_ context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	f.processed = append(f.processed, id)
	if f.processErr != nil {
		return &models.ProviderSettlement{ID: id, Status: models.SettlementFailed}, f.processErr
	}
	return &models.ProviderSettlement{ID: id, Status: models.SettlementPaid}, nil
}

func (f *fakeSettlements) Retry(_ context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	f.retried = append(f.retried, id)
	if err := f.retryErr[id]; err != nil {
		return nil, err
	}
	return &models.ProviderSettlement{ID: id, Status: models.SettlementPaid}, nil
}

func (f *fakeSettlements) SettleAll(_ context.Context, start, end time.Time) ([]*models.ProviderSettlement, error) {
	f.batches = append(f.batches, [2]time.Time{start, end})
	return nil, f.settleErr
}

func (f *fakeSettlements) ListFailed(_ context.Context, limit int) ([]*models.ProviderSettlement, error) {
	if limit < len(f.failed) {
		return f.failed[:limit], nil
	}
	return f.failed, nil
}

type fakeReconciler struct {
	drift []models.BalanceCheck
	err   error
}

func (f fakeReconciler) Reconcile(context.Context) ([]models.BalanceCheck, error) { return f.drift, f.err }

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestProcessSettlementWorker(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantCancel error
	}{
		{"paid", nil, true, nil},
		{"already processed", settlement.ErrInvalidSettlementTransition, true, nil},
		{"rejected", fmt.Errorf("%w: card_declined", settlement.ErrExternalTransferFailed), false, settlement.ErrExternalTransferFailed},
		{"unknown outcome", settlement.ErrTransferOutcomeUnknown, false, settlement.ErrTransferOutcomeUnknown},
		{"no payout account", settlement.ErrNoPayoutAccount, false, settlement.ErrNoPayoutAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, _ := testLogger()
			fs := &fakeSettlements{processErr: tt.err}
			w := NewProcessSettlementWorker(fs, log)
			id := uuid.New()

			err := w.Work(context.Background(), &river.Job[ProcessSettlementArgs]{Args: ProcessSettlementArgs{SettlementID: id}})
			assert.Equal(t, []uuid.UUID{id}, fs.processed)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantCancel)
		})
	}
}

func TestProcessSettlementWorker_InFlightSnoozes(t *testing.T) {
	log, _ := testLogger()
	w := NewProcessSettlementWorker(&fakeSettlements{processErr: settlement.ErrSettlementInFlight}, log)
	err := w.Work(context.Background(), &river.Job[ProcessSettlementArgs]{Args: ProcessSettlementArgs{SettlementID: uuid.New()}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, settlement.ErrSettlementInFlight)
}

func TestProcessSettlementWorker_TransientErrorRetries(t *testing.T) {
	log, _ := testLogger()
	boom := errors.New("connection reset")
	w := NewProcessSettlementWorker(&fakeSettlements{processErr: boom}, log)
	err := w.Work(context.Background(), &river.Job[ProcessSettlementArgs]{Args: ProcessSettlementArgs{SettlementID: uuid.New()}})
	assert.ErrorIs(t, err, boom)
}

func TestSettleAllWorker(t *testing.T) {
	log, _ := testLogger()
	fs := &fakeSettlements{}
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	w := NewSettleAllWorker(fs, log)
	require.NoError(t, w.Work(context.Background(), &river.Job[SettleAllArgs]{Args: SettleAllArgs{PeriodStart: start, PeriodEnd: end}}))
	assert.Equal(t, [][2]time.Time{{start, end}}, fs.batches)

	fs.settleErr = errors.New("provider x: db down")
	assert.Error(t, w.Work(context.Background(), &river.Job[SettleAllArgs]{Args: SettleAllArgs{PeriodStart: start, PeriodEnd: end}}))
}

func TestReconcileBalancesWorker_LogsDrift(t *testing.T) {
	log, buf := testLogger()
	op := uuid.New()
	w := NewReconcileBalancesWorker(fakeReconciler{drift: []models.BalanceCheck{{OperatorID: op, Cached: 10, LogSum: 7}}}, log)

	require.NoError(t, w.Work(context.Background(), &river.Job[ReconcileBalancesArgs]{}))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), op.String())

	w = NewReconcileBalancesWorker(fakeReconciler{err: errors.New("db down")}, log)
	assert.Error(t, w.Work(context.Background(), &river.Job[ReconcileBalancesArgs]{}))
}

func TestRetryFailedSettlementsWorker(t *testing.T) {
	log, _ := testLogger()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	fs := &fakeSettlements{
		failed: []*models.ProviderSettlement{{ID: a}, {ID: b}, {ID: c}},
		retryErr: map[uuid.UUID]error{
			b: settlement.ErrExternalTransferFailed,
		},
	}
	w := NewRetryFailedSettlementsWorker(fs, log)

	require.NoError(t, w.Work(context.Background(), &river.Job[RetryFailedSettlementsArgs]{Args: RetryFailedSettlementsArgs{Limit: 10}}))
	assert.Equal(t, []uuid.UUID{a, b, c}, fs.retried)
}

func TestEnqueuer(t *testing.T) {
	var got []river.JobArgs
	e := NewEnqueuer(func(_ context.Context, _ pgx.Tx, args river.JobArgs) error {
		got = append(got, args)
		return nil
	})
	id := uuid.New()
	require.NoError(t, e.EnqueueProcessTx(context.Background(), nil, id))
	require.Len(t, got, 1)
	assert.Equal(t, ProcessSettlementArgs{SettlementID: id}, got[0])
	assert.Equal(t, "process_settlement", got[0].Kind())
}

func TestPreviousPeriod(t *testing.T) {
	now := time.Date(2026, 5, 3, 14, 30, 0, 0, time.UTC)
	start, end := PreviousPeriod(now, 24*time.Hour)
	assert.Equal(t, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC), end)

	// Rerunning inside the same period yields the same window.
	s2, e2 := PreviousPeriod(now.Add(time.Hour), 24*time.Hour)
	assert.Equal(t, start, s2)
	assert.Equal(t, end, e2)
}

func TestPeriodicJobs(t *testing.T) {
	jobs := PeriodicJobs(Schedule{
		SettlementPeriod:  24 * time.Hour,
		ReconcileInterval: time.Hour,
		RetryFailedEvery:  6 * time.Hour,
	}, time.Now)
	assert.Len(t, jobs, 3)
}
