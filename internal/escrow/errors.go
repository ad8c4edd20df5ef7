package escrow

import "errors"

var (
	ErrInvalidEscrowTransition = errors.New("escrow: invalid state transition")
	// ErrFundingFailed wraps the ledger error that prevented the buyer deduction.
	ErrFundingFailed  = errors.New("escrow: funding failed")
	ErrNotAParty      = errors.New("escrow: caller is not a party to the transaction")
	ErrEscrowNotFound = errors.New("escrow: transaction not found")
	ErrInvalidAmount  = errors.New("escrow: invalid amount")
	ErrAgentNotFound  = errors.New("escrow: agent not found")
)
