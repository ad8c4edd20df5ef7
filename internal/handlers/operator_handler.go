package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lawgent/backend/internal/middleware"
	"github.com/lawgent/backend/internal/models"
)

type AgentRegistry interface {
	Create(ctx context.Context, ag *models.Agent) error
	ListByOperatorID(ctx context.Context, operatorID uuid.UUID) ([]*models.Agent, error)
}

// OperatorHandler serves the caller's profile and agent registry.
type OperatorHandler struct {
	Agents AgentRegistry
	Logger *slog.Logger
}

// Me handles GET /v1/me.
func (h *OperatorHandler) Me(w http.ResponseWriter, r *http.Request) {
	op := middleware.OperatorFromCtx(r.Context())
	if op == nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type createAgentRequest struct {
	Name string `json:"name"`
}

// CreateAgent handles POST /v1/agents.
func (h *OperatorHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 120 {
		writeErr(w, http.StatusBadRequest, "name is required (max 120 characters)")
		return
	}
	ag := &models.Agent{
		ID:         uuid.New(),
		OperatorID: middleware.OperatorIDFromCtx(r.Context()),
		Name:       req.Name,
	}
	if err := h.Agents.Create(r.Context(), ag); err != nil {
		fail(w, h.Logger, "create agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

// ListAgents handles GET /v1/agents.
func (h *OperatorHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Agents.ListByOperatorID(r.Context(), middleware.OperatorIDFromCtx(r.Context()))
	if err != nil {
		fail(w, h.Logger, "list agents", err)
		return
	}
	if list == nil {
		list = []*models.Agent{}
	}
	writeJSON(w, http.StatusOK, list)
}
