package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/testutil/memdb"
)

type fixture struct {
	db  *memdb.DB
	svc Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memdb.New()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &fixture{db: db, svc: NewService(db, db.Operators(), db.Credits(), log)}
}

func (f *fixture) operator(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.db.Operators().Create(context.Background(), &models.Operator{ID: id, Name: "op"}))
	if balance > 0 {
		_, err := f.svc.Post(context.Background(), PostRequest{OperatorID: id, Type: models.CreditPurchase, Amount: balance})
		require.NoError(t, err)
	}
	return id
}

// assertConsistent checks that the cached balance equals the sum of the log
// and that every BalanceAfter matches the running sum.
func (f *fixture) assertConsistent(t *testing.T, opID uuid.UUID) {
	t.Helper()
	var running int64
	for _, e := range f.db.Credits().All(opID) {
		running += e.Amount
		assert.Equal(t, running, e.BalanceAfter, "balance_after of %s", e.ID)
		assert.GreaterOrEqual(t, e.BalanceAfter, int64(0))
	}
	bal, err := f.svc.GetBalance(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, running, bal)
}

func TestPost_Deduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 500)

	txn, err := f.svc.Post(ctx, PostRequest{
		OperatorID: op, Type: models.CreditDeduction, Amount: -120,
		Reference: &Reference{Type: models.ReferenceServiceRequest, ID: "sr-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(380), txn.BalanceAfter)
	require.NotNil(t, txn.ReferenceType)
	assert.Equal(t, models.ReferenceServiceRequest, *txn.ReferenceType)
	f.assertConsistent(t, op)
}

func TestPost_OverdrawRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 100)

	_, err := f.svc.Post(ctx, PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -101})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.svc.Post(ctx, PostRequest{OperatorID: op, Type: models.CreditAdjustment, Amount: -200})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	bal, err := f.svc.GetBalance(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	assert.Len(t, f.db.Credits().All(op), 1)
}

func TestPost_ExactBalanceAllowed(t *testing.T) {
	f := newFixture(t)
	op := f.operator(t, 100)

	txn, err := f.svc.Post(context.Background(), PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -100})
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.BalanceAfter)
}

func TestPost_SignRules(t *testing.T) {
	f := newFixture(t)
	op := f.operator(t, 100)

	tests := []struct {
		name    string
		typ     models.CreditTransactionType
		amount  int64
		wantErr error
	}{
		{"positive deduction", models.CreditDeduction, 10, ErrInvalidAmount},
		{"zero deduction", models.CreditDeduction, 0, ErrInvalidAmount},
		{"negative purchase", models.CreditPurchase, -5, ErrInvalidAmount},
		{"negative refund", models.CreditRefund, -5, ErrInvalidAmount},
		{"zero promo", models.CreditPromo, 0, ErrInvalidAmount},
		{"zero adjustment", models.CreditAdjustment, 0, ErrInvalidAmount},
		{"unknown type", models.CreditTransactionType("GIFT"), 5, ErrInvalidType},
		{"positive adjustment", models.CreditAdjustment, 5, nil},
		{"promo", models.CreditPromo, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Post(context.Background(), PostRequest{OperatorID: op, Type: tt.typ, Amount: tt.amount})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	f.assertConsistent(t, op)
}

func TestPost_UnknownOperator(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Post(context.Background(), PostRequest{OperatorID: uuid.New(), Type: models.CreditPromo, Amount: 5})
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	_, err = f.svc.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOperatorNotFound)
}

func TestPost_IdempotencyKeyReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 500)
	req := PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -50, IdempotencyKey: "req-42"}

	first, err := f.svc.Post(ctx, req)
	require.NoError(t, err)

	again, err := f.svc.Post(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateOperation)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)

	bal, err := f.svc.GetBalance(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(450), bal)

	// Keys are scoped per operator.
	other := f.operator(t, 100)
	_, err = f.svc.Post(ctx, PostRequest{OperatorID: other, Type: models.CreditDeduction, Amount: -50, IdempotencyKey: "req-42"})
	assert.NoError(t, err)
}

func TestPostTx_RollbackDiscardsPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 300)

	tx, err := f.db.Begin(ctx)
	require.NoError(t, err)
	_, err = f.svc.PostTx(ctx, tx, PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -100})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	bal, err := f.svc.GetBalance(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)
	f.assertConsistent(t, op)
}

func TestPost_ConcurrentDeductions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 500)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Post(ctx, PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -300})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	bal, err := f.svc.GetBalance(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)
	f.assertConsistent(t, op)
}

func TestPost_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 1000)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var applied, dup int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Post(ctx, PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -10, IdempotencyKey: "same"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				applied++
			} else if errors.Is(err, ErrDuplicateOperation) {
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
	assert.Equal(t, n-1, dup)

	bal, err := f.svc.GetBalance(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(990), bal)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 1000)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Post(ctx, PostRequest{OperatorID: op, Type: models.CreditDeduction, Amount: -10})
		require.NoError(t, err)
	}

	page, err := f.svc.ListTransactions(ctx, op, models.TransactionFilter{}, models.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(950), page.Items[0].BalanceAfter, "newest first")

	page, err = f.svc.ListTransactions(ctx, op, models.TransactionFilter{Type: models.CreditPurchase}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, DefaultPageSize, page.Limit)

	page, err = f.svc.ListTransactions(ctx, op, models.TransactionFilter{}, models.Page{Limit: 10_000, Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Limit)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestUsageReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.operator(t, 1000)
	post := func(amount int64, ref string) {
		_, err := f.svc.Post(ctx, PostRequest{
			OperatorID: op, Type: models.CreditDeduction, Amount: amount,
			Reference: &Reference{Type: ref, ID: uuid.NewString()},
		})
		require.NoError(t, err)
	}
	post(-30, models.ReferenceServiceRequest)
	post(-20, models.ReferenceServiceRequest)
	post(-100, models.ReferenceEscrow)

	usage, err := f.svc.MonthlyUsage(ctx, op, 3)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(150), usage[0].Credits)
	now := time.Now().UTC()
	assert.Equal(t, now.Month(), usage[0].Month.Month())

	top, err := f.svc.TopReferenceTypes(ctx, op, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, models.ReferenceEscrow, top[0].ReferenceType)
	assert.Equal(t, int64(100), top[0].Credits)
	assert.Equal(t, int64(1), top[0].Count)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clean := f.operator(t, 100)
	broken := f.operator(t, 100)

	drifted, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifted)

	f.db.Operators().ForceBalance(broken, 999)
	drifted, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, broken, drifted[0].OperatorID)
	assert.Equal(t, int64(999), drifted[0].Cached)
	assert.Equal(t, int64(100), drifted[0].LogSum)

	// Reconcile never rewrites balances.
	bal, err := f.svc.GetBalance(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, int64(999), bal)
	f.assertConsistent(t, clean)
}
