package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/middleware"
	"github.com/lawgent/backend/internal/models"
)

// Ledger is the subset of ledger.Service served over HTTP.
type Ledger interface {
	Post(ctx context.Context, req ledger.PostRequest) (*models.CreditTransaction, error)
	GetBalance(ctx context.Context, operatorID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, operatorID uuid.UUID, f models.TransactionFilter, p models.Page) (*ledger.TransactionPage, error)
	MonthlyUsage(ctx context.Context, operatorID uuid.UUID, months int) ([]models.MonthlyUsage, error)
	TopReferenceTypes(ctx context.Context, operatorID uuid.UUID, limit int) ([]models.ReferenceSpend, error)
}

// LedgerHandler serves balance, history and usage for the calling operator.
type LedgerHandler struct {
	Ledger Ledger
	Logger *slog.Logger
}

type balanceResponse struct {
	OperatorID string `json:"operator_id"`
	Balance    int64  `json:"balance"`
}

// GetBalance handles GET /v1/balance.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	opID := middleware.OperatorIDFromCtx(r.Context())
	bal, err := h.Ledger.GetBalance(r.Context(), opID)
	if err != nil {
		fail(w, h.Logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{OperatorID: opID.String(), Balance: bal})
}

// ListTransactions handles GET /v1/transactions.
// Query: type, reference_type, from, to (RFC 3339), limit, offset.
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.TransactionFilter{
		Type:          models.CreditTransactionType(q.Get("type")),
		ReferenceType: q.Get("reference_type"),
	}
	if f.Type != "" && !f.Type.Valid() {
		writeErr(w, http.StatusBadRequest, "invalid type")
		return
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = &t
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid offset")
		return
	}

	page, err := h.Ledger.ListTransactions(r.Context(), middleware.OperatorIDFromCtx(r.Context()), f, models.Page{Limit: limit, Offset: offset})
	if err != nil {
		fail(w, h.Logger, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// MonthlyUsage handles GET /v1/usage/monthly?months=N.
func (h *LedgerHandler) MonthlyUsage(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months")
	if err != nil || months < 0 || months > 36 {
		writeErr(w, http.StatusBadRequest, "invalid months")
		return
	}
	usage, err := h.Ledger.MonthlyUsage(r.Context(), middleware.OperatorIDFromCtx(r.Context()), months)
	if err != nil {
		fail(w, h.Logger, "monthly usage", err)
		return
	}
	if usage == nil {
		usage = []models.MonthlyUsage{}
	}
	writeJSON(w, http.StatusOK, usage)
}

// TopReferences handles GET /v1/usage/top-references?limit=N.
func (h *LedgerHandler) TopReferences(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 || limit > 50 {
		writeErr(w, http.StatusBadRequest, "invalid limit")
		return
	}
	top, err := h.Ledger.TopReferenceTypes(r.Context(), middleware.OperatorIDFromCtx(r.Context()), limit)
	if err != nil {
		fail(w, h.Logger, "top references", err)
		return
	}
	if top == nil {
		top = []models.ReferenceSpend{}
	}
	writeJSON(w, http.StatusOK, top)
}

// --- POST /v1/deductions ---

type deductionRequest struct {
	Amount        int64  `json:"amount"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// Deduct handles POST /v1/deductions. The Idempotency-Key header is required;
// a replay with the same key returns the original posting with 200.
func (h *LedgerHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || len(key) > 255 {
		writeErr(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}
	var req deductionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeErr(w, http.StatusBadRequest, "amount must be > 0")
		return
	}
	if (req.ReferenceType == "") != (req.ReferenceID == "") {
		writeErr(w, http.StatusBadRequest, "reference_type and reference_id go together")
		return
	}

	post := ledger.PostRequest{
		OperatorID:     middleware.OperatorIDFromCtx(r.Context()),
		Type:           models.CreditDeduction,
		Amount:         -req.Amount,
		IdempotencyKey: key,
	}
	if req.ReferenceType != "" {
		post.Reference = &ledger.Reference{Type: req.ReferenceType, ID: req.ReferenceID}
	}

	t, err := h.Ledger.Post(r.Context(), post)
	switch {
	case errors.Is(err, ledger.ErrDuplicateOperation) && t != nil:
		writeJSON(w, http.StatusOK, t)
	case err != nil:
		fail(w, h.Logger, "post deduction", err)
	default:
		writeJSON(w, http.StatusCreated, t)
	}
}
