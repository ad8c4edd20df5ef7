package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lawgent/backend/internal/middleware"
	"github.com/lawgent/backend/internal/models"
)

type Settlements interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error)
}

// SettlementHandler serves provider payouts to the platform operator only.
// With PlatformOperatorID unset nobody can read them over the API.
type SettlementHandler struct {
	Settlements        Settlements
	PlatformOperatorID uuid.UUID
	Logger             *slog.Logger
}

// Get handles GET /v1/settlements/{id}.
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller := middleware.OperatorIDFromCtx(r.Context())
	if h.PlatformOperatorID == uuid.Nil || caller != h.PlatformOperatorID {
		writeErr(w, http.StatusForbidden, "settlements are visible to the platform operator only")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	st, err := h.Settlements.GetByID(r.Context(), id)
	if err != nil {
		fail(w, h.Logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
