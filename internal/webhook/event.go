package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/lawgent/backend/internal/settlement"
)

// Processor event types this service acts on.
const (
	TypeCheckoutCompleted      = "checkout.session.completed"
	TypeCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	TypeCheckoutExpired        = "checkout.session.expired"
	TypeTransferCreated        = "transfer.created"
	TypeTransferReversed       = "transfer.reversed"
	TypeTransferUpdated        = "transfer.updated"
)

// Transfer metadata keys carrying our settlement id and payout attempt.
const (
	MetadataSettlementID = "settlement_id"
	MetadataAttempt      = "settlement_attempt"
)

// Event is one of the kinds below. The set is closed: anything the decoder
// does not know becomes Unrecognized.
type Event interface {
	Envelope() Meta
}

// Meta is the envelope every event carries.
type Meta struct {
	ID   string
	Type string
}

func (m Meta) Envelope() Meta { return m }

// CheckoutCompleted is a finished checkout. Paid is false while an
// asynchronous payment method is still settling.
type CheckoutCompleted struct {
	Meta
	SessionID string
	Paid      bool
}

type CheckoutExpired struct {
	Meta
	SessionID string
}

type TransferCreated struct {
	Meta
	Ref settlement.TransferRef
}

type TransferReversed struct {
	Meta
	Ref settlement.TransferRef
}

// TransferUpdated carries the transfer's current state. Reversed means the
// transfer finally failed.
type TransferUpdated struct {
	Meta
	Ref      settlement.TransferRef
	Reversed bool
}

type Unrecognized struct {
	Meta
}

// Verify checks the Stripe-Signature header against the shared secret. The
// default tolerance of five minutes applies to the signed timestamp.
func Verify(payload []byte, header, secret string) error {
	if err := stripewebhook.ValidatePayload(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	return nil
}

// Decode turns a verified payload into an Event.
func Decode(payload []byte) (Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	meta := Meta{ID: raw.ID, Type: string(raw.Type)}

	switch meta.Type {
	case TypeCheckoutCompleted, TypeCheckoutAsyncSucceeded, TypeCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := decodeObject(raw, &cs); err != nil {
			return nil, err
		}
		if cs.ID == "" {
			return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
		}
		if meta.Type == TypeCheckoutExpired {
			return CheckoutExpired{Meta: meta, SessionID: cs.ID}, nil
		}
		paid := cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid
		return CheckoutCompleted{Meta: meta, SessionID: cs.ID, Paid: paid}, nil

	case TypeTransferCreated, TypeTransferReversed, TypeTransferUpdated:
		var tr stripe.Transfer
		if err := decodeObject(raw, &tr); err != nil {
			return nil, err
		}
		if tr.ID == "" {
			return nil, fmt.Errorf("%w: transfer without id", ErrMalformedEvent)
		}
		ref := settlement.TransferRef{TransferID: tr.ID}
		if v, ok := tr.Metadata[MetadataSettlementID]; ok {
			if id, err := uuid.Parse(v); err == nil {
				ref.SettlementID = id
			}
		}
		if v, ok := tr.Metadata[MetadataAttempt]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				ref.Attempt = n
			}
		}
		switch meta.Type {
		case TypeTransferCreated:
			return TransferCreated{Meta: meta, Ref: ref}, nil
		case TypeTransferReversed:
			return TransferReversed{Meta: meta, Ref: ref}, nil
		default:
			return TransferUpdated{Meta: meta, Ref: ref, Reversed: tr.Reversed}, nil
		}
	}
	return Unrecognized{Meta: meta}, nil
}

func decodeObject(raw stripe.Event, v any) error {
	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s without data.object", ErrMalformedEvent, raw.Type)
	}
	if err := json.Unmarshal(raw.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return nil
}
