package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
)

type OperatorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error)
}

// ActiveOperator loads the operator set by BearerAuth and blocks suspended
// operators from mutating routes. Reads stay allowed so a suspended operator
// can still see its ledger.
func ActiveOperator(lookup OperatorLookup, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := OperatorIDFromCtx(r.Context())
			if id == uuid.Nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			op, err := lookup.GetByID(r.Context(), id)
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, `{"error":"operator not found"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				log.Error("load operator", "operator_id", id, "error", err)
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if op.Status != models.OperatorStatusActive && r.Method != http.MethodGet {
				http.Error(w, `{"error":"operator is suspended"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
		})
	}
}
