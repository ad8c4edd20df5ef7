package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an AI agent acting on behalf of an operator.
type Agent struct {
	ID         uuid.UUID `json:"id"`
	OperatorID uuid.UUID `json:"operator_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}
