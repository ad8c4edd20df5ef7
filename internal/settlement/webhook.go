package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/models"
)

// TransferRef identifies the settlement a processor transfer belongs to.
// SettlementID comes from transfer metadata and is preferred; TransferID is
// the fallback for transfers created without it. Attempt is zero when the
// transfer carried no attempt metadata.
type TransferRef struct {
	TransferID   string
	SettlementID uuid.UUID
	Attempt      int
}

func (s *Service) lockByRef(ctx context.Context, tx pgx.Tx, ref TransferRef) (*models.ProviderSettlement, error) {
	var (
		st  *models.ProviderSettlement
		err error
	)
	if ref.SettlementID != uuid.Nil {
		st, err = s.settlements.GetByIDForUpdate(ctx, tx, ref.SettlementID)
	} else {
		st, err = s.settlements.GetByTransferIDForUpdate(ctx, tx, ref.TransferID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettlementNotFound
	}
	return st, err
}

// superseded reports whether ref belongs to an earlier attempt than the
// settlement's current one.
func superseded(st *models.ProviderSettlement, ref TransferRef) bool {
	if ref.Attempt != 0 && ref.Attempt != st.Attempts {
		return true
	}
	return ref.TransferID != "" && st.TransferID != nil && *st.TransferID != ref.TransferID
}

// RecordTransferTx stores the transfer id on the settlement if none is set.
// It never changes status. It reports whether anything was written.
func (s *Service) RecordTransferTx(ctx context.Context, tx pgx.Tx, ref TransferRef) (bool, error) {
	st, err := s.lockByRef(ctx, tx, ref)
	if err != nil {
		return false, err
	}
	if superseded(st, ref) {
		s.log.Warn("transfer event for superseded transfer ignored",
			"settlement_id", st.ID, "transfer_id", ref.TransferID, "attempt", st.Attempts)
		return false, nil
	}
	if st.TransferID != nil || ref.TransferID == "" {
		return false, nil
	}
	st.TransferID = &ref.TransferID
	if err := s.settlements.Update(ctx, tx, st); err != nil {
		return false, fmt.Errorf("record transfer id: %w", err)
	}
	return true, nil
}

// MarkReversedTx fails the settlement and flags it for review. A PAID
// settlement is reopened this way; it is never retried automatically.
func (s *Service) MarkReversedTx(ctx context.Context, tx pgx.Tx, ref TransferRef, reason string) (bool, error) {
	st, err := s.lockByRef(ctx, tx, ref)
	if err != nil {
		return false, err
	}
	if superseded(st, ref) {
		s.log.Warn("reversal of superseded transfer ignored",
			"settlement_id", st.ID, "transfer_id", ref.TransferID, "attempt", st.Attempts)
		return false, nil
	}
	if st.Status == models.SettlementFailed && st.NeedsReview {
		return false, nil
	}
	from := st.Status
	st.Status = models.SettlementFailed
	st.NeedsReview = true
	st.LastError = &reason
	if st.TransferID == nil && ref.TransferID != "" {
		st.TransferID = &ref.TransferID
	}
	if err := s.settlements.Update(ctx, tx, st); err != nil {
		return false, fmt.Errorf("mark reversed: %w", err)
	}
	s.log.Error("settlement transfer reversed, flagged for review",
		"settlement_id", st.ID, "provider_id", st.ProviderID, "from", from, "reason", reason)
	return true, nil
}
