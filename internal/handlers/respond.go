package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/escrow"
	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/settlement"
)

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a domain error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidType),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, checkout.ErrAmountOutOfRange),
		errors.Is(err, settlement.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrDuplicateOperation),
		errors.Is(err, escrow.ErrInvalidEscrowTransition),
		errors.Is(err, settlement.ErrInvalidSettlementTransition),
		errors.Is(err, settlement.ErrPeriodAlreadySettled),
		errors.Is(err, settlement.ErrSettlementInFlight):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrNotAParty):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrOperatorNotFound),
		errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, escrow.ErrAgentNotFound),
		errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, settlement.ErrSettlementNotFound),
		errors.Is(err, settlement.ErrProviderNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and
// their text is not exposed.
func fail(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(op, "error", err)
		writeErr(w, status, "internal error")
		return
	}
	writeErr(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
