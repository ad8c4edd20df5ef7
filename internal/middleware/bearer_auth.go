package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lawgent/backend/internal/models"
)

type contextKey string

const (
	ctxOperatorIDKey contextKey = "operator_id"
	ctxOperatorKey   contextKey = "operator"
)

// TokenVerifier resolves a bearer token to the operator it was issued for.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// BearerAuth rejects requests without a valid operator token and stores the
// operator id in the request context.
func BearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			id, err := verifier.Verify(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperatorID(r.Context(), id)))
		})
	}
}

// OperatorIDFromCtx returns the authenticated operator id, or uuid.Nil.
func OperatorIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxOperatorIDKey).(uuid.UUID)
	return id
}

func WithOperatorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxOperatorIDKey, id)
}

// OperatorFromCtx returns the operator loaded by ActiveOperator, or nil.
func OperatorFromCtx(ctx context.Context) *models.Operator {
	op, _ := ctx.Value(ctxOperatorKey).(*models.Operator)
	return op
}

func WithOperator(ctx context.Context, op *models.Operator) context.Context {
	return context.WithValue(ctx, ctxOperatorKey, op)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
