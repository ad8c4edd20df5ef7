// Package checkout opens processor checkout sessions for credit purchases.
// Opening a session never touches the ledger; credits are posted only when
// the processor reports the session completed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
)

// ExternalSessionRequest is what the processor needs to open a session.
type ExternalSessionRequest struct {
	ReferenceID    string
	OperatorID     uuid.UUID
	AmountCents    int64
	Credits        int64
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

type ExternalSession struct {
	ID  string
	URL string
}

// Gateway is the processor's checkout API.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req ExternalSessionRequest) (*ExternalSession, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *models.CheckoutSession) error
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, externalID string) (*models.CheckoutSession, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, completedAt *time.Time) error
}

type OperatorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error)
}

type Poster interface {
	PostTx(ctx context.Context, tx pgx.Tx, req ledger.PostRequest) (*models.CreditTransaction, error)
}

type Config struct {
	MinUSD        decimal.Decimal
	MaxUSD        decimal.Decimal
	CreditsPerUSD decimal.Decimal
	Window        time.Duration
	SuccessURL    string
	CancelURL     string
}

// Result is returned to the purchaser, who is redirected to URL.
type Result struct {
	Session   *models.CheckoutSession `json:"session"`
	URL       string                  `json:"url"`
	ExpiresAt time.Time               `json:"expires_at"`
}

type Service struct {
	gateway   Gateway
	sessions  SessionStore
	operators OperatorLookup
	ledger    Poster
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

func NewService(gateway Gateway, sessions SessionStore, operators OperatorLookup, poster Poster, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	return &Service{gateway: gateway, sessions: sessions, operators: operators, ledger: poster, cfg: cfg, log: log, now: time.Now}
}

// Credits converts a USD amount to credits at the configured rate, rounding down.
func (s *Service) Credits(amountUSD decimal.Decimal) int64 {
	return amountUSD.Mul(s.cfg.CreditsPerUSD).Floor().IntPart()
}

func (s *Service) CreateCheckoutSession(ctx context.Context, operatorID uuid.UUID, amountUSD decimal.Decimal) (*Result, error) {
	if amountUSD.LessThan(s.cfg.MinUSD) || amountUSD.GreaterThan(s.cfg.MaxUSD) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange, amountUSD, s.cfg.MinUSD, s.cfg.MaxUSD)
	}
	if !amountUSD.Equal(amountUSD.Round(2)) {
		return nil, fmt.Errorf("%w: %s is not a whole number of cents", ErrAmountOutOfRange, amountUSD)
	}
	credits := s.Credits(amountUSD)
	if credits <= 0 {
		return nil, fmt.Errorf("%w: %s buys no credits", ErrAmountOutOfRange, amountUSD)
	}
	if _, err := s.operators.GetByID(ctx, operatorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrOperatorNotFound
		}
		return nil, err
	}

	// The row goes in first so a processor session never exists without one.
	sess := &models.CheckoutSession{
		ID:           uuid.New(),
		OperatorID:   operatorID,
		AmountUSD:    amountUSD,
		CreditsToAdd: credits,
		Status:       models.CheckoutOpen,
		ExpiresAt:    s.now().Add(s.cfg.Window).UTC().Truncate(time.Second),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	log := s.log.With("operator_id", operatorID, "checkout_id", sess.ID)

	ext, err := s.gateway.CreateCheckoutSession(ctx, ExternalSessionRequest{
		ReferenceID:    sess.ID.String(),
		OperatorID:     operatorID,
		AmountCents:    amountUSD.Shift(2).IntPart(),
		Credits:        credits,
		SuccessURL:     s.cfg.SuccessURL,
		CancelURL:      s.cfg.CancelURL,
		ExpiresAt:      sess.ExpiresAt,
		IdempotencyKey: "checkout:" + sess.ID.String(),
	})
	if err != nil {
		log.Warn("processor session not opened, row left without external id", "error", err)
		return nil, fmt.Errorf("open processor session: %w", err)
	}
	if err := s.sessions.SetExternalID(ctx, sess.ID, ext.ID); err != nil {
		// The buyer never receives the URL, so the processor session cannot be paid.
		log.Error("processor session opened but not linked", "external_session_id", ext.ID, "error", err)
		return nil, fmt.Errorf("link processor session: %w", err)
	}
	sess.ExternalSessionID = ext.ID
	log.Info("checkout session opened", "amount_usd", amountUSD.String(), "credits", credits)
	return &Result{Session: sess, URL: ext.URL, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// CompleteTx marks the OPEN session COMPLETED and posts its credits, keyed by
// the processor event id. It returns false when the session had already left
// OPEN. Unknown sessions return ErrSessionNotFound.
func (s *Service) CompleteTx(ctx context.Context, tx pgx.Tx, externalID, eventID string) (bool, error) {
	sess, err := s.lockOpen(ctx, tx, externalID)
	if err != nil || sess == nil {
		return false, err
	}
	now := s.now()
	if err := s.sessions.UpdateStatus(ctx, tx, sess.ID, models.CheckoutCompleted, &now); err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	_, err = s.ledger.PostTx(ctx, tx, ledger.PostRequest{
		OperatorID:     sess.OperatorID,
		Type:           models.CreditPurchase,
		Amount:         sess.CreditsToAdd,
		Reference:      &ledger.Reference{Type: models.ReferenceCheckout, ID: sess.ID.String()},
		IdempotencyKey: eventID,
	})
	if errors.Is(err, ledger.ErrDuplicateOperation) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("post purchase: %w", err)
	}
	return true, nil
}

// ExpireTx moves an OPEN session to EXPIRED. No ledger effect.
func (s *Service) ExpireTx(ctx context.Context, tx pgx.Tx, externalID string) (bool, error) {
	sess, err := s.lockOpen(ctx, tx, externalID)
	if err != nil || sess == nil {
		return false, err
	}
	if err := s.sessions.UpdateStatus(ctx, tx, sess.ID, models.CheckoutExpired, nil); err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	return true, nil
}

// lockOpen returns nil, nil when the session exists but is no longer OPEN.
func (s *Service) lockOpen(ctx context.Context, tx pgx.Tx, externalID string) (*models.CheckoutSession, error) {
	sess, err := s.sessions.GetByExternalIDForUpdate(ctx, tx, externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if sess.Status != models.CheckoutOpen {
		return nil, nil
	}
	return sess, nil
}
