package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/settlement"
	"github.com/lawgent/backend/internal/testutil/memdb"
)

const secret = "whsec_test"

func sign(payload []byte, key string, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(t + "."))
	mac.Write(payload)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func eventJSON(id, typ string, object map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": object},
	})
	return b
}

type gateway struct{}

func (gateway) CreateCheckoutSession(_ context.Context, req checkout.ExternalSessionRequest) (*checkout.ExternalSession, error) {
	return &checkout.ExternalSession{ID: "cs_" + req.ReferenceID, URL: "https://checkout.test"}, nil
}

type transfers struct{}

func (transfers) CreateTransfer(_ context.Context, req settlement.TransferRequest) (*settlement.Transfer, error) {
	return &settlement.Transfer{ID: "tr_" + req.SettlementID.String()}, nil
}

type stack struct {
	db          *memdb.DB
	ledger      ledger.Service
	checkout    *checkout.Service
	settlements *settlement.Service
	handler     *Handler
	op          uuid.UUID
	logs        *bytes.Buffer
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := memdb.New()
	logs := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(logs, nil))
	led := ledger.NewService(db, db.Operators(), db.Credits(), log)
	co := checkout.NewService(gateway{}, db.Checkouts(), db.Operators(), led, checkout.Config{
		MinUSD: decimal.NewFromInt(1), MaxUSD: decimal.NewFromInt(500), CreditsPerUSD: decimal.NewFromInt(100),
	}, log)
	st := settlement.NewService(db, db.Settlements(), db.Providers(), transfers{}, settlement.Config{}, log)
	rec := NewReconciler(db, db.WebhookEvents(), co, st, log)

	op := uuid.New()
	require.NoError(t, db.Operators().Create(context.Background(), &models.Operator{ID: op, Name: "op"}))
	return &stack{db: db, ledger: led, checkout: co, settlements: st, handler: NewHandler(rec, secret, log), op: op, logs: logs}
}

func (s *stack) deliver(payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *stack) deliverSigned(payload []byte) *httptest.ResponseRecorder {
	return s.deliver(payload, sign(payload, secret, time.Now()))
}

func (s *stack) openSession(t *testing.T) *models.CheckoutSession {
	t.Helper()
	res, err := s.checkout.CreateCheckoutSession(context.Background(), s.op, decimal.NewFromInt(10))
	require.NoError(t, err)
	return res.Session
}

func (s *stack) balance(t *testing.T) int64 {
	t.Helper()
	b, err := s.ledger.GetBalance(context.Background(), s.op)
	require.NoError(t, err)
	return b
}

func (s *stack) paidSettlement(t *testing.T) *models.ProviderSettlement {
	t.Helper()
	ctx := context.Background()
	acct := "acct_1"
	p := &models.Provider{ID: uuid.New(), Name: "p", PayoutAccountID: &acct}
	require.NoError(t, s.db.Providers().Create(ctx, p))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.db.Providers().RecordServiceRequest(ctx, &models.ServiceRequest{
		ID: uuid.New(), ProviderID: p.ID, Status: models.ServiceRequestCompleted, EarningCents: 500, CompletedAt: start,
	}))
	st, err := s.settlements.ComputeSettlement(ctx, p.ID, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	paid, err := s.settlements.Process(ctx, st.ID)
	require.NoError(t, err)
	return paid
}

func TestVerify(t *testing.T) {
	payload := eventJSON("evt_1", TypeCheckoutCompleted, map[string]any{"id": "cs_1"})
	now := time.Now()

	assert.NoError(t, Verify(payload, sign(payload, secret, now), secret))
	assert.ErrorIs(t, Verify(payload, sign(payload, "whsec_other", now), secret), ErrSignatureInvalid)
	assert.ErrorIs(t, Verify(payload, sign(payload, secret, now.Add(-10*time.Minute)), secret), ErrSignatureInvalid)
	assert.ErrorIs(t, Verify(payload, "", secret), ErrSignatureInvalid)

	tampered := bytes.Replace(payload, []byte("cs_1"), []byte("cs_2"), 1)
	assert.ErrorIs(t, Verify(tampered, sign(payload, secret, now), secret), ErrSignatureInvalid)
}

func TestDecode(t *testing.T) {
	settlementID := uuid.New()
	tests := []struct {
		name    string
		payload []byte
		want    Event
	}{
		{
			"checkout completed",
			eventJSON("evt_1", TypeCheckoutCompleted, map[string]any{"id": "cs_1", "payment_status": "paid"}),
			CheckoutCompleted{Meta: Meta{ID: "evt_1", Type: TypeCheckoutCompleted}, SessionID: "cs_1", Paid: true},
		},
		{
			"checkout completed awaiting async payment",
			eventJSON("evt_2", TypeCheckoutCompleted, map[string]any{"id": "cs_1", "payment_status": "unpaid"}),
			CheckoutCompleted{Meta: Meta{ID: "evt_2", Type: TypeCheckoutCompleted}, SessionID: "cs_1", Paid: false},
		},
		{
			"async payment succeeded",
			eventJSON("evt_3", TypeCheckoutAsyncSucceeded, map[string]any{"id": "cs_1", "payment_status": "paid"}),
			CheckoutCompleted{Meta: Meta{ID: "evt_3", Type: TypeCheckoutAsyncSucceeded}, SessionID: "cs_1", Paid: true},
		},
		{
			"checkout expired",
			eventJSON("evt_4", TypeCheckoutExpired, map[string]any{"id": "cs_1"}),
			CheckoutExpired{Meta: Meta{ID: "evt_4", Type: TypeCheckoutExpired}, SessionID: "cs_1"},
		},
		{
			"transfer created with metadata",
			eventJSON("evt_5", TypeTransferCreated, map[string]any{
				"id": "tr_1", "metadata": map[string]string{MetadataSettlementID: settlementID.String()},
			}),
			TransferCreated{Meta: Meta{ID: "evt_5", Type: TypeTransferCreated},
				Ref: settlement.TransferRef{TransferID: "tr_1", SettlementID: settlementID}},
		},
		{
			"transfer reversed with attempt",
			eventJSON("evt_9", TypeTransferReversed, map[string]any{
				"id": "tr_2", "reversed": true,
				"metadata": map[string]string{MetadataSettlementID: settlementID.String(), MetadataAttempt: "2"},
			}),
			TransferReversed{Meta: Meta{ID: "evt_9", Type: TypeTransferReversed},
				Ref: settlement.TransferRef{TransferID: "tr_2", SettlementID: settlementID, Attempt: 2}},
		},
		{
			"transfer reversed",
			eventJSON("evt_6", TypeTransferReversed, map[string]any{"id": "tr_1", "reversed": true}),
			TransferReversed{Meta: Meta{ID: "evt_6", Type: TypeTransferReversed},
				Ref: settlement.TransferRef{TransferID: "tr_1"}},
		},
		{
			"transfer updated",
			eventJSON("evt_7", TypeTransferUpdated, map[string]any{"id": "tr_1", "reversed": true}),
			TransferUpdated{Meta: Meta{ID: "evt_7", Type: TypeTransferUpdated},
				Ref: settlement.TransferRef{TransferID: "tr_1"}, Reversed: true},
		},
		{
			"unknown type",
			eventJSON("evt_8", "customer.created", map[string]any{"id": "cus_1"}),
			Unrecognized{Meta: Meta{ID: "evt_8", Type: "customer.created"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for name, payload := range map[string][]byte{
		"not json":       []byte("{"),
		"missing id":     []byte(`{"type":"checkout.session.completed"}`),
		"missing object": []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{}}`),
		"object no id":   eventJSON("evt_1", TypeTransferCreated, map[string]any{"amount": 5}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestHandler_CheckoutCompletedRedelivered(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)
	payload := eventJSON("evt_cs_1", TypeCheckoutCompleted, map[string]any{
		"id": sess.ExternalSessionID, "payment_status": "paid",
	})

	first := s.deliverSigned(payload)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), string(ResultApplied))

	second := s.deliverSigned(payload)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), string(ResultDuplicate))

	assert.Equal(t, int64(1000), s.balance(t))
	txns := s.db.Credits().All(s.op)
	require.Len(t, txns, 1)
	assert.Equal(t, models.CreditPurchase, txns[0].Type)

	got, err := s.checkout.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutCompleted, got.Status)
}

func TestHandler_ConcurrentRedelivery(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)
	payload := eventJSON("evt_cs_2", TypeCheckoutCompleted, map[string]any{
		"id": sess.ExternalSessionID, "payment_status": "paid",
	})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, s.deliverSigned(payload).Code)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), s.balance(t))
}

func TestHandler_DistinctEventsSameSession(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)
	for _, id := range []string{"evt_a", "evt_b"} {
		payload := eventJSON(id, TypeCheckoutCompleted, map[string]any{"id": sess.ExternalSessionID, "payment_status": "paid"})
		require.Equal(t, http.StatusOK, s.deliverSigned(payload).Code)
	}
	assert.Equal(t, int64(1000), s.balance(t))
}

func TestHandler_ExpiredThenCompleted(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)

	expired := eventJSON("evt_exp", TypeCheckoutExpired, map[string]any{"id": sess.ExternalSessionID})
	require.Equal(t, http.StatusOK, s.deliverSigned(expired).Code)
	completed := eventJSON("evt_done", TypeCheckoutCompleted, map[string]any{"id": sess.ExternalSessionID, "payment_status": "paid"})
	rec := s.deliverSigned(completed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ResultIgnored))

	assert.Zero(t, s.balance(t))
	got, err := s.checkout.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutExpired, got.Status)
}

func TestHandler_UnpaidCompletionWaits(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)

	unpaid := eventJSON("evt_u", TypeCheckoutCompleted, map[string]any{"id": sess.ExternalSessionID, "payment_status": "unpaid"})
	require.Equal(t, http.StatusOK, s.deliverSigned(unpaid).Code)
	assert.Zero(t, s.balance(t))

	paid := eventJSON("evt_p", TypeCheckoutAsyncSucceeded, map[string]any{"id": sess.ExternalSessionID, "payment_status": "paid"})
	require.Equal(t, http.StatusOK, s.deliverSigned(paid).Code)
	assert.Equal(t, int64(1000), s.balance(t))
}

func TestHandler_BadSignatureTouchesNothing(t *testing.T) {
	s := newStack(t)
	sess := s.openSession(t)
	payload := eventJSON("evt_bad", TypeCheckoutCompleted, map[string]any{"id": sess.ExternalSessionID, "payment_status": "paid"})

	rec := s.deliver(payload, sign(payload, "whsec_wrong", time.Now()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, s.balance(t))
	_, err := s.db.WebhookEvents().Get(context.Background(), "evt_bad")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestHandler_UnrecognizedAcknowledged(t *testing.T) {
	s := newStack(t)
	payload := eventJSON("evt_x", "invoice.paid", map[string]any{"id": "in_1"})

	rec := s.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	ev, err := s.db.WebhookEvents().Get(context.Background(), "evt_x")
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", ev.EventType)
}

func TestHandler_UnknownSessionAcknowledged(t *testing.T) {
	s := newStack(t)
	payload := eventJSON("evt_y", TypeCheckoutCompleted, map[string]any{"id": "cs_elsewhere", "payment_status": "paid"})

	rec := s.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ResultIgnored))
	assert.Contains(t, s.logs.String(), `"level":"ERROR","msg":"paid checkout session not found, credits not posted"`)
}

func TestHandler_UnknownExpiredSessionIsWarning(t *testing.T) {
	s := newStack(t)
	payload := eventJSON("evt_z", TypeCheckoutExpired, map[string]any{"id": "cs_elsewhere"})

	rec := s.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, s.logs.String(), `"level":"WARN","msg":"webhook event references unknown record"`)
	assert.NotContains(t, s.logs.String(), `"level":"ERROR"`)
}

func TestHandler_Oversized(t *testing.T) {
	s := newStack(t)
	payload := []byte(`{"id":"evt_big","type":"x","pad":"` + strings.Repeat("a", MaxBodyBytes) + `"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, s.deliverSigned(payload).Code)
}

func TestHandler_MalformedSignedPayload(t *testing.T) {
	s := newStack(t)
	assert.Equal(t, http.StatusBadRequest, s.deliverSigned([]byte(`{"object":"event"}`)).Code)
}

func TestHandler_TransferReversal(t *testing.T) {
	s := newStack(t)
	st := s.paidSettlement(t)

	created := eventJSON("evt_tc", TypeTransferCreated, map[string]any{
		"id": *st.TransferID, "metadata": map[string]string{MetadataSettlementID: st.ID.String()},
	})
	rec := s.deliverSigned(created)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ResultIgnored), "transfer id already recorded")

	reversed := eventJSON("evt_tr", TypeTransferReversed, map[string]any{"id": *st.TransferID, "reversed": true})
	require.Equal(t, http.StatusOK, s.deliverSigned(reversed).Code)

	got, err := s.settlements.GetByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementFailed, got.Status)
	assert.True(t, got.NeedsReview)

	// The same reversal reported through transfer.updated changes nothing.
	updated := eventJSON("evt_tu", TypeTransferUpdated, map[string]any{"id": *st.TransferID, "reversed": true})
	rec = s.deliverSigned(updated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ResultIgnored))
}

type failingTransfers struct{}

func (failingTransfers) RecordTransferTx(context.Context, pgx.Tx, settlement.TransferRef) (bool, error) {
	return false, errors.New("database unavailable")
}

func (failingTransfers) MarkReversedTx(context.Context, pgx.Tx, settlement.TransferRef, string) (bool, error) {
	return false, errors.New("database unavailable")
}

func TestHandler_InternalErrorNotRecorded(t *testing.T) {
	db := memdb.New()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rec := NewReconciler(db, db.WebhookEvents(), nil, failingTransfers{}, log)
	h := NewHandler(rec, secret, log)

	payload := eventJSON("evt_err", TypeTransferCreated, map[string]any{"id": "tr_9"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sign(payload, secret, time.Now()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	_, err := db.WebhookEvents().Get(context.Background(), "evt_err")
	assert.ErrorIs(t, err, pgx.ErrNoRows, fmt.Sprintf("event must be redeliverable, got %v", err))
}
