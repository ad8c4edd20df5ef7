// Package settlement batches provider earnings into settlements and pays
// them out through processor transfers.
//
// PENDING -> PROCESSING -> PAID | FAILED, FAILED -> PROCESSING on retry.
// PAID is terminal except for a processor reversal, which reopens the record
// as FAILED and flags it for review.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
)

type TransferRequest struct {
	SettlementID   uuid.UUID
	Attempt        int
	Destination    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type Transfer struct {
	ID string
}

// Transferrer creates processor transfers. Implementations wrap
// ErrTransferOutcomeUnknown when the request may have been applied; any other
// error is taken as a definite failure.
type Transferrer interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}

type SettlementStore interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.ProviderSettlement) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ProviderSettlement, error)
	GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, transferID string) (*models.ProviderSettlement, error)
	HasOverlap(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time) (bool, error)
	HasProcessing(ctx context.Context, tx pgx.Tx, providerID, excludeID uuid.UUID) (bool, error)
	Update(ctx context.Context, tx pgx.Tx, s *models.ProviderSettlement) error
	ListFailed(ctx context.Context, limit int) ([]*models.ProviderSettlement, error)
}

type ProviderStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Provider, error)
	SumEarnings(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time) (int64, error)
	ListWithEarnings(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
}

// Enqueuer schedules processing of a new settlement inside the transaction
// that created it.
type Enqueuer interface {
	EnqueueProcessTx(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID) error
}

type Config struct {
	TransferTimeout time.Duration
	Currency        string
}

type Service struct {
	db          ledger.TxBeginner
	settlements SettlementStore
	providers   ProviderStore
	transfers   Transferrer
	enqueuer    Enqueuer
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

func NewService(db ledger.TxBeginner, settlements SettlementStore, providers ProviderStore, transfers Transferrer, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{db: db, settlements: settlements, providers: providers, transfers: transfers, cfg: cfg, log: log, now: time.Now}
}

// SetEnqueuer installs the job enqueuer used by SettleAll. The worker client
// needs the service to exist first, hence the setter.
func (s *Service) SetEnqueuer(e Enqueuer) { s.enqueuer = e }

// ComputeSettlement creates a PENDING settlement for the provider's completed
// work in [start, end).
func (s *Service) ComputeSettlement(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*models.ProviderSettlement, error) {
	return s.compute(ctx, providerID, start, end, false)
}

// SettleAll creates settlements for every provider with earnings in the period
// and enqueues their processing. Providers already settled for an overlapping
// period are skipped.
func (s *Service) SettleAll(ctx context.Context, start, end time.Time) ([]*models.ProviderSettlement, error) {
	if !start.Before(end) {
		return nil, ErrInvalidPeriod
	}
	ids, err := s.providers.ListWithEarnings(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	var created []*models.ProviderSettlement
	var errs []error
	for _, id := range ids {
		st, err := s.compute(ctx, id, start, end, true)
		switch {
		case err == nil:
			created = append(created, st)
		case errors.Is(err, ErrPeriodAlreadySettled), errors.Is(err, ErrNothingToSettle):
			s.log.Debug("provider skipped", "provider_id", id, "reason", err)
		default:
			s.log.Error("settlement batching failed", "provider_id", id, "error", err)
			errs = append(errs, fmt.Errorf("provider %s: %w", id, err))
		}
	}
	s.log.Info("settlement batch finished",
		"period_start", start, "period_end", end, "providers", len(ids), "created", len(created))
	return created, errors.Join(errs...)
}

func (s *Service) compute(ctx context.Context, providerID uuid.UUID, start, end time.Time, enqueue bool) (*models.ProviderSettlement, error) {
	if !start.Before(end) {
		return nil, ErrInvalidPeriod
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.providers.GetByIDForUpdate(ctx, tx, providerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("lock provider: %w", err)
	}
	overlap, err := s.settlements.HasOverlap(ctx, tx, providerID, start, end)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, ErrPeriodAlreadySettled
	}
	amount, err := s.providers.SumEarnings(ctx, tx, providerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum earnings: %w", err)
	}
	if amount <= 0 {
		return nil, ErrNothingToSettle
	}

	st := &models.ProviderSettlement{
		ID:          uuid.New(),
		ProviderID:  providerID,
		PeriodStart: start,
		PeriodEnd:   end,
		AmountCents: amount,
		Status:      models.SettlementPending,
	}
	if err := s.settlements.Create(ctx, tx, st); err != nil {
		return nil, fmt.Errorf("create settlement: %w", err)
	}
	if enqueue && s.enqueuer != nil {
		if err := s.enqueuer.EnqueueProcessTx(ctx, tx, st.ID); err != nil {
			return nil, fmt.Errorf("enqueue processing: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("settlement computed", "settlement_id", st.ID, "provider_id", providerID, "amount_cents", amount)
	return st, nil
}

// Process pays out a PENDING settlement.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	return s.pay(ctx, id, models.SettlementPending)
}

// Retry re-attempts the transfer of a FAILED settlement under a fresh
// idempotency key.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	return s.pay(ctx, id, models.SettlementFailed)
}

func (s *Service) pay(ctx context.Context, id uuid.UUID, from models.SettlementStatus) (*models.ProviderSettlement, error) {
	st, dest, err := s.begin(ctx, id, from)
	if err != nil {
		return nil, err
	}
	log := s.log.With("settlement_id", st.ID, "provider_id", st.ProviderID, "attempt", st.Attempts)
	if dest == "" {
		return s.finish(ctx, st.ID, log, nil, ErrNoPayoutAccount)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
	defer cancel()
	tr, err := s.transfers.CreateTransfer(tctx, TransferRequest{
		SettlementID:   st.ID,
		Attempt:        st.Attempts,
		Destination:    dest,
		AmountCents:    st.AmountCents,
		Currency:       s.cfg.Currency,
		IdempotencyKey: "settlement:" + st.ID.String() + ":" + strconv.Itoa(st.Attempts),
	})
	if err != nil && !errors.Is(err, ErrTransferOutcomeUnknown) && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTransferOutcomeUnknown, err)
	}
	return s.finish(ctx, st.ID, log, tr, err)
}

// begin moves the settlement to PROCESSING under the provider lock, so two
// settlements of one provider never have transfers in flight together.
func (s *Service) begin(ctx context.Context, id uuid.UUID, from models.SettlementStatus) (*models.ProviderSettlement, string, error) {
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback(ctx)

	provider, err := s.providers.GetByIDForUpdate(ctx, tx, cur.ProviderID)
	if err != nil {
		return nil, "", fmt.Errorf("lock provider: %w", err)
	}
	st, err := s.settlements.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, "", fmt.Errorf("lock settlement: %w", err)
	}
	if st.Status != from {
		return nil, "", fmt.Errorf("%w: settlement is %s, want %s", ErrInvalidSettlementTransition, st.Status, from)
	}
	busy, err := s.settlements.HasProcessing(ctx, tx, st.ProviderID, st.ID)
	if err != nil {
		return nil, "", err
	}
	if busy {
		return nil, "", ErrSettlementInFlight
	}

	st.Status = models.SettlementProcessing
	st.Attempts++
	st.NeedsReview = false
	st.LastError = nil
	st.TransferID = nil
	if err := s.settlements.Update(ctx, tx, st); err != nil {
		return nil, "", fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	dest := ""
	if provider.PayoutAccountID != nil {
		dest = *provider.PayoutAccountID
	}
	return st, dest, nil
}

// finish records the transfer outcome on a PROCESSING settlement.
func (s *Service) finish(ctx context.Context, id uuid.UUID, log *slog.Logger, tr *Transfer, transferErr error) (*models.ProviderSettlement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	st, err := s.settlements.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock settlement: %w", err)
	}
	if st.Status != models.SettlementProcessing {
		// A webhook got here first (a reversal); keep what it recorded.
		log.Warn("settlement left processing before transfer result was recorded", "status", st.Status)
		if tr != nil && st.TransferID == nil {
			st.TransferID = &tr.ID
			if err := s.settlements.Update(ctx, tx, st); err != nil {
				return nil, err
			}
		}
		return st, tx.Commit(ctx)
	}

	var result error
	switch {
	case transferErr == nil:
		now := s.now()
		st.Status = models.SettlementPaid
		st.TransferID = &tr.ID
		st.PaidAt = &now
		st.LastError = nil
	case errors.Is(transferErr, ErrTransferOutcomeUnknown):
		msg := transferErr.Error()
		st.LastError = &msg
		result = transferErr
	default:
		msg := transferErr.Error()
		st.Status = models.SettlementFailed
		st.LastError = &msg
		result = transferErr
		if !errors.Is(transferErr, ErrExternalTransferFailed) && !errors.Is(transferErr, ErrNoPayoutAccount) {
			result = fmt.Errorf("%w: %w", ErrExternalTransferFailed, transferErr)
		}
	}
	if err := s.settlements.Update(ctx, tx, st); err != nil {
		return nil, fmt.Errorf("record transfer result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	switch st.Status {
	case models.SettlementPaid:
		log.Info("settlement paid", "transfer_id", *st.TransferID, "amount_cents", st.AmountCents)
	case models.SettlementFailed:
		log.Error("settlement transfer failed", "error", transferErr)
	default:
		log.Error("settlement transfer outcome unknown, left processing", "error", transferErr)
	}
	return st, result
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderSettlement, error) {
	st, err := s.settlements.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettlementNotFound
	}
	return st, err
}

// ListFailed returns FAILED settlements eligible for automatic retry.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*models.ProviderSettlement, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.settlements.ListFailed(ctx, limit)
}
