package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubVerifier struct {
	id  uuid.UUID
	err error
}

func (s stubVerifier) Verify(string) (uuid.UUID, error) { return s.id, s.err }

type stubLookup struct {
	op  *models.Operator
	err error
}

func (s stubLookup) GetByID(context.Context, uuid.UUID) (*models.Operator, error) { return s.op, s.err }

// okHandler writes the operator id from context (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(OperatorIDFromCtx(r.Context()).String()))
})

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

func serve(h http.Handler, method, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// BearerAuth
// ---------------------------------------------------------------------------

func TestBearerAuth_ValidToken(t *testing.T) {
	id := uuid.New()
	rec := serve(BearerAuth(stubVerifier{id: id})(okHandler), http.MethodGet, "Bearer good")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != id.String() {
		t.Errorf("expected operator id %q in body, got %q", id, body)
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	rec := serve(BearerAuth(stubVerifier{id: uuid.New()})(okHandler), http.MethodGet, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_WrongScheme(t *testing.T) {
	rec := serve(BearerAuth(stubVerifier{id: uuid.New()})(okHandler), http.MethodGet, "Basic abc")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	rec := serve(BearerAuth(stubVerifier{err: errors.New("expired")})(okHandler), http.MethodGet, "Bearer bad")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// ActiveOperator
// ---------------------------------------------------------------------------

func withID(id uuid.UUID, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithOperatorID(r.Context(), id)))
	})
}

func TestActiveOperator(t *testing.T) {
	id := uuid.New()
	active := &models.Operator{ID: id, Status: models.OperatorStatusActive}
	suspended := &models.Operator{ID: id, Status: models.OperatorStatusSuspended}

	tests := []struct {
		name   string
		lookup stubLookup
		id     uuid.UUID
		method string
		want   int
	}{
		{"active post", stubLookup{op: active}, id, http.MethodPost, http.StatusOK},
		{"suspended get", stubLookup{op: suspended}, id, http.MethodGet, http.StatusOK},
		{"suspended post", stubLookup{op: suspended}, id, http.MethodPost, http.StatusForbidden},
		{"unknown operator", stubLookup{err: pgx.ErrNoRows}, id, http.MethodGet, http.StatusUnauthorized},
		{"lookup failure", stubLookup{err: errors.New("db down")}, id, http.MethodGet, http.StatusInternalServerError},
		{"no operator in context", stubLookup{op: active}, uuid.Nil, http.MethodGet, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := withID(tt.id, ActiveOperator(tt.lookup, discard)(okHandler))
			if rec := serve(h, tt.method, ""); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
