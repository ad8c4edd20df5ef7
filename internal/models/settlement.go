package models

import (
	"time"

	"github.com/google/uuid"
)

// SettlementStatus is the state of a provider settlement.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementPaid       SettlementStatus = "PAID"
	SettlementFailed     SettlementStatus = "FAILED"
)

// ProviderSettlement aggregates a provider's earnings for [PeriodStart, PeriodEnd).
type ProviderSettlement struct {
	ID          uuid.UUID        `json:"id"`
	ProviderID  uuid.UUID        `json:"provider_id"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	AmountCents int64            `json:"amount_cents"`
	Status      SettlementStatus `json:"status"`
	TransferID  *string          `json:"transfer_id,omitempty"`
	PaidAt      *time.Time       `json:"paid_at,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	Attempts    int              `json:"attempts"`
	NeedsReview bool             `json:"needs_review"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ProcessedWebhookEvent records that an external event id has been applied.
type ProcessedWebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
