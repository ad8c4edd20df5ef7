package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/middleware"
	"github.com/lawgent/backend/internal/models"
)

type Checkout interface {
	CreateCheckoutSession(ctx context.Context, operatorID uuid.UUID, amountUSD decimal.Decimal) (*checkout.Result, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
}

// CheckoutHandler serves /v1/checkout/sessions.
type CheckoutHandler struct {
	Checkout Checkout
	Logger   *slog.Logger
}

type createSessionRequest struct {
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

type createSessionResponse struct {
	CheckoutID   string    `json:"checkout_id"`
	CheckoutURL  string    `json:"checkout_url"`
	CreditsToAdd int64     `json:"credits_to_add"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CreateSession handles POST /v1/checkout/sessions. Credits are granted later
// by the processor webhook, never here.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Checkout.CreateCheckoutSession(r.Context(), middleware.OperatorIDFromCtx(r.Context()), req.AmountUSD)
	if err != nil {
		fail(w, h.Logger, "create checkout session", err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		CheckoutID:   res.Session.ID.String(),
		CheckoutURL:  res.URL,
		CreditsToAdd: res.Session.CreditsToAdd,
		ExpiresAt:    res.ExpiresAt,
	})
}

// GetSession handles GET /v1/checkout/sessions/{id}.
func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sess, err := h.Checkout.GetSession(r.Context(), id)
	if err != nil {
		fail(w, h.Logger, "get checkout session", err)
		return
	}
	// Another operator's session is reported as missing.
	if sess.OperatorID != middleware.OperatorIDFromCtx(r.Context()) {
		writeErr(w, http.StatusNotFound, checkout.ErrSessionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
