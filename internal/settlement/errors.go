package settlement

import "errors"

var (
	ErrInvalidSettlementTransition = errors.New("settlement: invalid state transition")
	ErrPeriodAlreadySettled        = errors.New("settlement: period overlaps an existing settlement")
	// ErrExternalTransferFailed means the processor definitely did not move
	// the money. The settlement is FAILED and may be retried.
	ErrExternalTransferFailed = errors.New("settlement: external transfer failed")
	// ErrTransferOutcomeUnknown means the request may or may not have reached
	// the processor. The settlement stays PROCESSING for manual reconciliation.
	ErrTransferOutcomeUnknown = errors.New("settlement: transfer outcome unknown")
	ErrSettlementNotFound     = errors.New("settlement: not found")
	ErrSettlementInFlight     = errors.New("settlement: another settlement for this provider is processing")
	ErrInvalidPeriod          = errors.New("settlement: period start must be before end")
	ErrNothingToSettle        = errors.New("settlement: no earnings in period")
	ErrNoPayoutAccount        = errors.New("settlement: provider has no payout account")
	ErrProviderNotFound       = errors.New("settlement: provider not found")
)
