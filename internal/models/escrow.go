package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is the state of an escrow transaction.
type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "PENDING"
	EscrowFunded   EscrowStatus = "FUNDED"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowRefunded EscrowStatus = "REFUNDED"
	EscrowDisputed EscrowStatus = "DISPUTED"
)

// Terminal reports whether no further transition is allowed.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// EscrowTransaction holds buyer funds pending release to the seller or refund.
type EscrowTransaction struct {
	ID            uuid.UUID    `json:"id"`
	BuyerAgentID  uuid.UUID    `json:"buyer_agent_id"`
	SellerAgentID uuid.UUID    `json:"seller_agent_id"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Status        EscrowStatus `json:"status"`
	PlatformFee   int64        `json:"platform_fee"`
	FundedAt      *time.Time   `json:"funded_at,omitempty"`
	ReleasedAt    *time.Time   `json:"released_at,omitempty"`
	ReleasedTo    *uuid.UUID   `json:"released_to,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsParty reports whether agentID is the buyer or the seller.
func (e *EscrowTransaction) IsParty(agentID uuid.UUID) bool {
	return agentID == e.BuyerAgentID || agentID == e.SellerAgentID
}
