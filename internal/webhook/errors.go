package webhook

import "errors"

var (
	ErrSignatureInvalid = errors.New("webhook: signature invalid")
	ErrMalformedEvent   = errors.New("webhook: malformed event")
)
