package checkout

import "errors"

var (
	ErrAmountOutOfRange = errors.New("checkout: amount out of range")
	ErrSessionNotFound  = errors.New("checkout: session not found")
)
