package ledger

import "errors"

var (
	// ErrInsufficientBalance is returned when a posting would drive the balance below zero.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrDuplicateOperation is returned when the idempotency key was already used by the operator.
	ErrDuplicateOperation = errors.New("ledger: duplicate operation")
	ErrInvalidAmount      = errors.New("ledger: amount sign does not match transaction type")
	ErrInvalidType        = errors.New("ledger: unknown transaction type")
	ErrOperatorNotFound   = errors.New("ledger: operator not found")
)
