package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/escrow"
	"github.com/lawgent/backend/internal/middleware"
	"github.com/lawgent/backend/internal/models"
)

type Escrow interface {
	Create(ctx context.Context, buyerAgentID, sellerAgentID uuid.UUID, amount int64, currency string) (*models.EscrowTransaction, error)
	Fund(ctx context.Context, id uuid.UUID, amount int64) (*models.EscrowTransaction, error)
	Release(ctx context.Context, id, toParty uuid.UUID) (*models.EscrowTransaction, error)
	Refund(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	Dispute(ctx context.Context, id, callerAgentID uuid.UUID) (*models.EscrowTransaction, error)
	Resolve(ctx context.Context, id uuid.UUID, outcome escrow.Outcome) (*models.EscrowTransaction, error)
	GetStatus(ctx context.Context, id, callerAgentID uuid.UUID) (*models.EscrowTransaction, error)
}

// AgentLookup resolves an agent to its owning operator.
type AgentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// EscrowHandler serves /v1/escrows. Every call names the acting agent, which
// must belong to the authenticated operator.
type EscrowHandler struct {
	Escrow Escrow
	Agents AgentLookup
	Logger *slog.Logger
}

type createEscrowRequest struct {
	BuyerAgentID  uuid.UUID `json:"buyer_agent_id"`
	SellerAgentID uuid.UUID `json:"seller_agent_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
}

type fundEscrowRequest struct {
	AgentID uuid.UUID `json:"agent_id"`
	Amount  int64     `json:"amount"`
}

type releaseEscrowRequest struct {
	AgentID   uuid.UUID `json:"agent_id"`
	ToAgentID uuid.UUID `json:"to_agent_id"`
}

type agentRequest struct {
	AgentID uuid.UUID `json:"agent_id"`
}

type resolveEscrowRequest struct {
	AgentID uuid.UUID      `json:"agent_id"`
	Outcome escrow.Outcome `json:"outcome"`
}

// Create handles POST /v1/escrows. The buyer agent must be the caller's.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.ownsAgent(w, r, req.BuyerAgentID) {
		return
	}
	e, err := h.Escrow.Create(r.Context(), req.BuyerAgentID, req.SellerAgentID, req.Amount, req.Currency)
	if err != nil {
		fail(w, h.Logger, "create escrow", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// Fund handles POST /v1/escrows/{id}/fund. Only the buyer funds.
func (h *EscrowHandler) Fund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req fundEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, ok := h.authorize(w, r, id, req.AgentID)
	if !ok {
		return
	}
	if e.BuyerAgentID != req.AgentID {
		writeErr(w, http.StatusForbidden, "only the buyer can fund")
		return
	}
	h.respond(w, "fund escrow")(h.Escrow.Fund(r.Context(), id, req.Amount))
}

// Release handles POST /v1/escrows/{id}/release. Only the buyer releases.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req releaseEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, ok := h.authorize(w, r, id, req.AgentID)
	if !ok {
		return
	}
	if e.BuyerAgentID != req.AgentID {
		writeErr(w, http.StatusForbidden, "only the buyer can release")
		return
	}
	to := req.ToAgentID
	if to == uuid.Nil {
		to = e.SellerAgentID
	}
	h.respond(w, "release escrow")(h.Escrow.Release(r.Context(), id, to))
}

// Refund handles POST /v1/escrows/{id}/refund. Only the seller refunds.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req agentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, ok := h.authorize(w, r, id, req.AgentID)
	if !ok {
		return
	}
	if e.SellerAgentID != req.AgentID {
		writeErr(w, http.StatusForbidden, "only the seller can refund")
		return
	}
	h.respond(w, "refund escrow")(h.Escrow.Refund(r.Context(), id))
}

// Dispute handles POST /v1/escrows/{id}/dispute.
func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req agentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := h.authorize(w, r, id, req.AgentID); !ok {
		return
	}
	h.respond(w, "dispute escrow")(h.Escrow.Dispute(r.Context(), id, req.AgentID))
}

// Resolve handles POST /v1/escrows/{id}/resolve. A party settles its own
// dispute: the buyer may concede (release) and the seller may concede (refund).
func (h *EscrowHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req resolveEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, ok := h.authorize(w, r, id, req.AgentID)
	if !ok {
		return
	}
	switch {
	case req.Outcome == escrow.OutcomeRelease && req.AgentID == e.BuyerAgentID,
		req.Outcome == escrow.OutcomeRefund && req.AgentID == e.SellerAgentID:
	case req.Outcome != escrow.OutcomeRelease && req.Outcome != escrow.OutcomeRefund:
		writeErr(w, http.StatusBadRequest, "outcome must be release or refund")
		return
	default:
		writeErr(w, http.StatusForbidden, "a party can only resolve in the other party's favour")
		return
	}
	h.respond(w, "resolve escrow")(h.Escrow.Resolve(r.Context(), id, req.Outcome))
}

// Get handles GET /v1/escrows/{id}?agent_id=.
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	agentID, err := uuid.Parse(r.URL.Query().Get("agent_id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid agent_id")
		return
	}
	e, ok := h.authorize(w, r, id, agentID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// authorize checks agentID belongs to the caller and is a party to escrow id.
func (h *EscrowHandler) authorize(w http.ResponseWriter, r *http.Request, id, agentID uuid.UUID) (*models.EscrowTransaction, bool) {
	if !h.ownsAgent(w, r, agentID) {
		return nil, false
	}
	e, err := h.Escrow.GetStatus(r.Context(), id, agentID)
	if err != nil {
		fail(w, h.Logger, "load escrow", err)
		return nil, false
	}
	return e, true
}

func (h *EscrowHandler) ownsAgent(w http.ResponseWriter, r *http.Request, agentID uuid.UUID) bool {
	if agentID == uuid.Nil {
		writeErr(w, http.StatusBadRequest, "agent_id is required")
		return false
	}
	ag, err := h.Agents.GetByID(r.Context(), agentID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && ag.OperatorID != middleware.OperatorIDFromCtx(r.Context())) {
		writeErr(w, http.StatusForbidden, "agent does not belong to caller")
		return false
	}
	if err != nil {
		fail(w, h.Logger, "load agent", err)
		return false
	}
	return true
}

func (h *EscrowHandler) respond(w http.ResponseWriter, op string) func(*models.EscrowTransaction, error) {
	return func(e *models.EscrowTransaction, err error) {
		if err != nil {
			fail(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}
