// Package escrow tracks funds a buyer agent commits to a seller agent. Every
// transition locks the escrow row and posts its ledger effects in the same
// transaction, so a failed posting leaves the escrow where it was.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/models"
)

// DefaultCurrency is the ledger unit escrows are denominated in.
const DefaultCurrency = "credits"

type EscrowStore interface {
	Create(ctx context.Context, e *models.EscrowTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error)
	Update(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
}

type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// Poster is the ledger entry point escrow postings go through.
type Poster interface {
	PostTx(ctx context.Context, tx pgx.Tx, req ledger.PostRequest) (*models.CreditTransaction, error)
}

// Outcome is how a dispute is resolved.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// Config holds the platform fee applied on release. FeeBasisPoints is taken
// out of the escrowed amount; the fee goes to PlatformOperatorID when set.
type Config struct {
	FeeBasisPoints     int
	PlatformOperatorID uuid.UUID
}

type Service struct {
	db      ledger.TxBeginner
	escrows EscrowStore
	agents  AgentStore
	ledger  Poster
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

func NewService(db ledger.TxBeginner, escrows EscrowStore, agents AgentStore, poster Poster, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, escrows: escrows, agents: agents, ledger: poster, cfg: cfg, log: log, now: time.Now}
}

// Fee returns the platform fee for an escrowed amount, rounded down.
func (s *Service) Fee(amount int64) int64 {
	return amount * int64(s.cfg.FeeBasisPoints) / 10_000
}

// Create opens a PENDING escrow between two distinct agents.
func (s *Service) Create(ctx context.Context, buyerAgentID, sellerAgentID uuid.UUID, amount int64, currency string) (*models.EscrowTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if buyerAgentID == sellerAgentID {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrInvalidEscrowTransition)
	}
	for _, id := range []uuid.UUID{buyerAgentID, sellerAgentID} {
		if _, err := s.agent(ctx, id); err != nil {
			return nil, err
		}
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	e := &models.EscrowTransaction{
		ID:            uuid.New(),
		BuyerAgentID:  buyerAgentID,
		SellerAgentID: sellerAgentID,
		Amount:        amount,
		Currency:      currency,
		Status:        models.EscrowPending,
	}
	if err := s.escrows.Create(ctx, e); err != nil {
		return nil, err
	}
	s.log.Info("escrow created", "escrow_id", e.ID, "amount", amount)
	return e, nil
}

// Fund deducts the escrow amount from the buyer's operator and marks the
// escrow FUNDED. amount must equal the amount the escrow was created with.
func (s *Service) Fund(ctx context.Context, id uuid.UUID, amount int64) (*models.EscrowTransaction, error) {
	return s.transition(ctx, id, func(tx pgx.Tx, e *models.EscrowTransaction) (bool, error) {
		if e.Status != models.EscrowPending {
			return false, invalid(e.Status, "fund")
		}
		if amount != e.Amount {
			return false, fmt.Errorf("%w: fund %d, escrow holds %d", ErrInvalidAmount, amount, e.Amount)
		}
		buyer, err := s.agent(ctx, e.BuyerAgentID)
		if err != nil {
			return false, err
		}
		_, err = s.ledger.PostTx(ctx, tx, ledger.PostRequest{
			OperatorID:     buyer.OperatorID,
			Type:           models.CreditDeduction,
			Amount:         -e.Amount,
			Reference:      &ledger.Reference{Type: models.ReferenceEscrow, ID: e.ID.String()},
			IdempotencyKey: key(e.ID, "fund"),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
			return false, fmt.Errorf("%w: %w", ErrFundingFailed, err)
		}
		now := s.now()
		e.Status = models.EscrowFunded
		e.FundedAt = &now
		return true, nil
	})
}

// Release pays the escrowed amount, less the platform fee, to toParty's
// operator. Releasing an already RELEASED escrow returns it unchanged.
func (s *Service) Release(ctx context.Context, id, toParty uuid.UUID) (*models.EscrowTransaction, error) {
	return s.transition(ctx, id, func(tx pgx.Tx, e *models.EscrowTransaction) (bool, error) {
		switch e.Status {
		case models.EscrowReleased:
			return false, nil
		case models.EscrowFunded:
		default:
			return false, invalid(e.Status, "release")
		}
		if !e.IsParty(toParty) {
			return false, ErrNotAParty
		}
		return true, s.release(ctx, tx, e, toParty)
	})
}

// Refund returns the full escrowed amount to the buyer. Refunding an already
// REFUNDED escrow returns it unchanged.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return s.transition(ctx, id, func(tx pgx.Tx, e *models.EscrowTransaction) (bool, error) {
		switch e.Status {
		case models.EscrowRefunded:
			return false, nil
		case models.EscrowFunded:
		default:
			return false, invalid(e.Status, "refund")
		}
		return true, s.refund(ctx, tx, e)
	})
}

// Dispute freezes a FUNDED escrow until Resolve is called.
func (s *Service) Dispute(ctx context.Context, id, callerAgentID uuid.UUID) (*models.EscrowTransaction, error) {
	return s.transition(ctx, id, func(_ pgx.Tx, e *models.EscrowTransaction) (bool, error) {
		if !e.IsParty(callerAgentID) {
			return false, ErrNotAParty
		}
		if e.Status != models.EscrowFunded {
			return false, invalid(e.Status, "dispute")
		}
		e.Status = models.EscrowDisputed
		return true, nil
	})
}

// Resolve settles a DISPUTED escrow: release pays the seller, refund pays the
// buyer. Repeating a resolution that already happened returns the escrow.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, outcome Outcome) (*models.EscrowTransaction, error) {
	if outcome != OutcomeRelease && outcome != OutcomeRefund {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidEscrowTransition, outcome)
	}
	return s.transition(ctx, id, func(tx pgx.Tx, e *models.EscrowTransaction) (bool, error) {
		switch {
		case outcome == OutcomeRelease && e.Status == models.EscrowReleased,
			outcome == OutcomeRefund && e.Status == models.EscrowRefunded:
			return false, nil
		case e.Status != models.EscrowDisputed:
			return false, invalid(e.Status, "resolve")
		}
		if outcome == OutcomeRelease {
			return true, s.release(ctx, tx, e, e.SellerAgentID)
		}
		return true, s.refund(ctx, tx, e)
	})
}

// GetStatus returns the escrow only to one of its two agents.
func (s *Service) GetStatus(ctx context.Context, id, callerAgentID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := s.escrows.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	if !e.IsParty(callerAgentID) {
		return nil, ErrNotAParty
	}
	return e, nil
}

// transition runs fn against the locked escrow row. fn reports whether it
// changed e; unchanged escrows are returned without a write.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx, e *models.EscrowTransaction) (bool, error)) (*models.EscrowTransaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	e, err := s.escrows.GetByIDForUpdate(ctx, tx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock escrow: %w", err)
	}
	from := e.Status
	changed, err := fn(tx, e)
	if err != nil {
		if errors.Is(err, ErrFundingFailed) {
			s.log.Error("escrow funding failed", "escrow_id", id, "error", err)
		}
		return nil, err
	}
	if !changed {
		return e, nil
	}
	if err := s.escrows.Update(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit escrow: %w", err)
	}
	s.log.Info("escrow transition", "escrow_id", e.ID, "from", from, "to", e.Status)
	return e, nil
}

func (s *Service) release(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction, toParty uuid.UUID) error {
	recipient, err := s.agent(ctx, toParty)
	if err != nil {
		return err
	}
	ref := &ledger.Reference{Type: models.ReferenceEscrow, ID: e.ID.String()}
	fee := s.Fee(e.Amount)
	var postings []ledger.PostRequest
	if net := e.Amount - fee; net > 0 {
		postings = append(postings, ledger.PostRequest{
			OperatorID: recipient.OperatorID, Type: models.CreditAdjustment, Amount: net,
			Reference: ref, IdempotencyKey: key(e.ID, "release"),
		})
	}
	if fee > 0 && s.cfg.PlatformOperatorID != uuid.Nil {
		postings = append(postings, ledger.PostRequest{
			OperatorID: s.cfg.PlatformOperatorID, Type: models.CreditAdjustment, Amount: fee,
			Reference: ref, IdempotencyKey: key(e.ID, "fee"),
		})
	}
	if err := s.post(ctx, tx, postings); err != nil {
		return err
	}
	now := s.now()
	e.Status = models.EscrowReleased
	e.PlatformFee = fee
	e.ReleasedAt = &now
	e.ReleasedTo = &toParty
	return nil
}

func (s *Service) refund(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	buyer, err := s.agent(ctx, e.BuyerAgentID)
	if err != nil {
		return err
	}
	err = s.post(ctx, tx, []ledger.PostRequest{{
		OperatorID: buyer.OperatorID, Type: models.CreditRefund, Amount: e.Amount,
		Reference:      &ledger.Reference{Type: models.ReferenceEscrow, ID: e.ID.String()},
		IdempotencyKey: key(e.ID, "refund"),
	}})
	if err != nil {
		return err
	}
	now := s.now()
	e.Status = models.EscrowRefunded
	e.ReleasedAt = &now
	e.ReleasedTo = &e.BuyerAgentID
	return nil
}

// post applies postings in operator-id order so two transactions touching the
// same operators always lock them in the same order.
func (s *Service) post(ctx context.Context, tx pgx.Tx, postings []ledger.PostRequest) error {
	sort.Slice(postings, func(i, j int) bool {
		return postings[i].OperatorID.String() < postings[j].OperatorID.String()
	})
	for _, p := range postings {
		if _, err := s.ledger.PostTx(ctx, tx, p); err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
			return fmt.Errorf("post %s: %w", p.IdempotencyKey, err)
		}
	}
	return nil
}

func (s *Service) agent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	ag, err := s.agents.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return ag, err
}

func invalid(from models.EscrowStatus, op string) error {
	return fmt.Errorf("%w: cannot %s a %s escrow", ErrInvalidEscrowTransition, op, from)
}

func key(id uuid.UUID, step string) string {
	return "escrow:" + id.String() + ":" + step
}
