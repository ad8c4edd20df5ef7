// Package processor talks to Stripe: checkout sessions for credit purchases
// and Connect transfers for provider settlements.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/settlement"
	"github.com/lawgent/backend/internal/webhook"
)

type Config struct {
	SecretKey string
	// BaseURL overrides the Stripe API endpoint (tests, local twins).
	BaseURL string
	Timeout time.Duration
	// ProductName labels the checkout line item.
	ProductName string
}

type Stripe struct {
	api  *client.API
	name string
	log  *slog.Logger
}

var (
	_ checkout.Gateway       = (*Stripe)(nil)
	_ settlement.Transferrer = (*Stripe)(nil)
)

func NewStripe(cfg Config, log *slog.Logger) *Stripe {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Credits"
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	api := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	backends := &stripe.Backends{API: api, Connect: api, Uploads: api}
	return &Stripe{api: client.New(cfg.SecretKey, backends), name: cfg.ProductName, log: log}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req checkout.ExternalSessionRequest) (*checkout.ExternalSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ReferenceID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ExpiresAt:         stripe.Int64(req.ExpiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%d %s", req.Credits, s.name)),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("operator_id", req.OperatorID.String())
	params.AddMetadata("checkout_id", req.ReferenceID)
	params.AddMetadata("credits", strconv.FormatInt(req.Credits, 10))

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("stripe checkout session failed", "checkout_id", req.ReferenceID, "error", err)
		return nil, err
	}
	return &checkout.ExternalSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) CreateTransfer(ctx context.Context, req settlement.TransferRequest) (*settlement.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String("settlement_" + req.SettlementID.String()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(webhook.MetadataSettlementID, req.SettlementID.String())
	if req.Attempt > 0 {
		params.AddMetadata(webhook.MetadataAttempt, strconv.Itoa(req.Attempt))
	}

	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &settlement.Transfer{ID: tr.ID}, nil
}

// classify maps a transfer error onto the settlement outcomes. Stripe 4xx
// responses and refused connections mean nothing happened; 5xx responses,
// timeouts and dropped connections may have moved money.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
			return fmt.Errorf("%w: %s (%s)", settlement.ErrExternalTransferFailed, se.Msg, se.Code)
		}
		return fmt.Errorf("%w: stripe status %d: %s", settlement.ErrTransferOutcomeUnknown, se.HTTPStatusCode, se.Msg)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", settlement.ErrExternalTransferFailed, err)
	}
	return fmt.Errorf("%w: %w", settlement.ErrTransferOutcomeUnknown, err)
}
