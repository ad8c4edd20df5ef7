package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator status enums.
const (
	OperatorStatusActive    = "active"
	OperatorStatusSuspended = "suspended"
)

// Operator owns a prepaid credit balance. CreditBalance is a cached projection
// of the operator's credit_transactions and is only written alongside an insert.
type Operator struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	CreditBalance int64     `json:"credit_balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
