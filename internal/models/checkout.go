package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutSession status enums.
const (
	CheckoutOpen      = "OPEN"
	CheckoutCompleted = "COMPLETED"
	CheckoutExpired   = "EXPIRED"
)

// CheckoutSession is a credit purchase intent. It transitions out of OPEN
// exactly once and is terminal afterwards. ExternalSessionID is empty until
// the processor session has been opened.
type CheckoutSession struct {
	ID                uuid.UUID       `json:"id"`
	OperatorID        uuid.UUID       `json:"operator_id"`
	AmountUSD         decimal.Decimal `json:"amount_usd"`
	CreditsToAdd      int64           `json:"credits_to_add"`
	ExternalSessionID string          `json:"external_session_id,omitempty"`
	Status            string          `json:"status"`
	ExpiresAt         time.Time       `json:"expires_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
