package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider is a legal-service provider paid out through settlements.
// PayoutAccountID is the processor's connected account ("acct_...").
type Provider struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	PayoutAccountID *string   `json:"payout_account_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ServiceRequest status enums. Only completed requests are owed to providers.
const (
	ServiceRequestCompleted = "completed"
	ServiceRequestFailed    = "failed"
)

// ServiceRequest is a provider-service-request record written outside this
// core. EarningCents is what the platform owes the provider for it.
type ServiceRequest struct {
	ID           uuid.UUID `json:"id"`
	ProviderID   uuid.UUID `json:"provider_id"`
	OperatorID   uuid.UUID `json:"operator_id"`
	Status       string    `json:"status"`
	EarningCents int64     `json:"earning_cents"`
	CompletedAt  time.Time `json:"completed_at"`
}
