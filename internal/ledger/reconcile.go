package ledger

import (
	"context"

	"github.com/lawgent/backend/internal/models"
)

// Reconcile recomputes every operator's balance from the log and returns the
// operators whose cached balance disagrees. Drift is reported, never
// auto-corrected.
func (s *service) Reconcile(ctx context.Context) ([]models.BalanceCheck, error) {
	checks, err := s.txns.BalanceChecks(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []models.BalanceCheck
	for _, c := range checks {
		if c.Drifted() {
			s.log.Error("ledger balance drift",
				"operator_id", c.OperatorID, "cached", c.Cached, "log_sum", c.LogSum)
			drifted = append(drifted, c)
		}
	}
	s.log.Info("ledger reconciliation finished", "operators", len(checks), "drifted", len(drifted))
	return drifted, nil
}
