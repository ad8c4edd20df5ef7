package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditTransactionType enumerates ledger posting kinds.
type CreditTransactionType string

const (
	CreditPurchase   CreditTransactionType = "PURCHASE"
	CreditDeduction  CreditTransactionType = "DEDUCTION"
	CreditRefund     CreditTransactionType = "REFUND"
	CreditPromo      CreditTransactionType = "PROMO"
	CreditAdjustment CreditTransactionType = "ADJUSTMENT"
)

// Valid reports whether t is one of the known posting kinds.
func (t CreditTransactionType) Valid() bool {
	switch t {
	case CreditPurchase, CreditDeduction, CreditRefund, CreditPromo, CreditAdjustment:
		return true
	}
	return false
}

// Reference types attached to ledger postings.
const (
	ReferenceServiceRequest = "service_request"
	ReferenceEscrow         = "escrow"
	ReferenceCheckout       = "checkout_session"
	ReferenceSettlement     = "settlement"
)

// CreditTransaction is an immutable ledger row. Amount is signed.
type CreditTransaction struct {
	ID             uuid.UUID             `json:"id"`
	OperatorID     uuid.UUID             `json:"operator_id"`
	Type           CreditTransactionType `json:"type"`
	Amount         int64                 `json:"amount"`
	ReferenceType  *string               `json:"reference_type,omitempty"`
	ReferenceID    *string               `json:"reference_id,omitempty"`
	IdempotencyKey *string               `json:"idempotency_key,omitempty"`
	BalanceAfter   int64                 `json:"balance_after"`
	CreatedAt      time.Time             `json:"created_at"`
}
