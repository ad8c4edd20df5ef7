package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionFilter narrows a ledger listing. Zero values match everything.
type TransactionFilter struct {
	Type          CreditTransactionType
	ReferenceType string
	From          *time.Time
	To            *time.Time
}

// Page is an offset page request.
type Page struct {
	Limit  int
	Offset int
}

// MonthlyUsage is the credits an operator spent in a calendar month (UTC).
type MonthlyUsage struct {
	Month   time.Time `json:"month"`
	Credits int64     `json:"credits"`
}

// ReferenceSpend is credits spent per reference type.
type ReferenceSpend struct {
	ReferenceType string `json:"reference_type"`
	Credits       int64  `json:"credits"`
	Count         int64  `json:"count"`
}

// BalanceCheck pairs an operator's cached balance with the sum of its log.
type BalanceCheck struct {
	OperatorID uuid.UUID `json:"operator_id"`
	Cached     int64     `json:"cached"`
	LogSum     int64     `json:"log_sum"`
}

// Drifted reports whether the cached balance disagrees with the log.
func (b BalanceCheck) Drifted() bool { return b.Cached != b.LogSum }
