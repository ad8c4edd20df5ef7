package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawgent/backend/internal/auth"
	"github.com/lawgent/backend/internal/escrow"
	"github.com/lawgent/backend/internal/handlers"
	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/testutil/memdb"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type testServer struct {
	handler http.Handler
	tokens  *auth.Tokens
	db      *memdb.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	db := memdb.New()
	led := ledger.NewService(db, db.Operators(), db.Credits(), log)
	tokens, err := auth.NewTokens("router-test-secret-0123456789")
	require.NoError(t, err)

	webhookHit := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := New(Deps{
		Operators:      &handlers.OperatorHandler{Agents: db.Agents(), Logger: log},
		Ledger:         &handlers.LedgerHandler{Ledger: led, Logger: log},
		Checkout:       &handlers.CheckoutHandler{Logger: log},
		Escrow:         &handlers.EscrowHandler{Escrow: escrow.NewService(db, db.Escrows(), db.Agents(), led, escrow.Config{}, log), Agents: db.Agents(), Logger: log},
		Settlements:    &handlers.SettlementHandler{Logger: log},
		Webhook:        webhookHit,
		Health:         handlers.Health(okPinger{}),
		Tokens:         tokens,
		OperatorLookup: db.Operators(),
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         log,
	})
	return &testServer{handler: h, tokens: tokens, db: db}
}

func (s *testServer) operator(t *testing.T, status string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.db.Operators().Create(context.Background(), &models.Operator{ID: id, Name: "op", Status: status}))
	tok, err := s.tokens.Issue(id, time.Hour)
	require.NoError(t, err)
	return id, tok
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_NoAuth(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", "").Code)
}

func TestWebhook_BypassesBearerAuth(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusTeapot, s.do(http.MethodPost, "/webhooks/stripe", "", "{}").Code)
}

func TestV1_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/balance", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/balance", "garbage", "").Code)

	_, tok := s.operator(t, models.OperatorStatusActive)
	rec := s.do(http.MethodGet, "/v1/balance", tok, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"balance":0`)
}

func TestV1_SuspendedOperatorReadOnly(t *testing.T) {
	s := newTestServer(t)
	_, tok := s.operator(t, models.OperatorStatusSuspended)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/balance", tok, "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/escrows", tok, "{}").Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	_, tok := s.operator(t, models.OperatorStatusActive)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/nope", tok, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodDelete, "/v1/balance", tok, "").Code)
}

func TestAgentsAndMe(t *testing.T) {
	s := newTestServer(t)
	id, tok := s.operator(t, models.OperatorStatusActive)

	rec := s.do(http.MethodPost, "/v1/agents", tok, `{"name":"intake-bot"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), id.String())

	rec = s.do(http.MethodGet, "/v1/agents", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intake-bot")

	rec = s.do(http.MethodGet, "/v1/me", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/agents", tok, `{"name":"  "}`).Code)
}
