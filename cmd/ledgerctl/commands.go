package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lawgent/backend/internal/app"
	"github.com/lawgent/backend/internal/config"
	"github.com/lawgent/backend/internal/models"
	"github.com/lawgent/backend/internal/settlement"
)

// withApp loads configuration and opens an insert-only App for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.Open(ctx, cfg, app.NewLogger(cfg.LogLevel), false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job queue and ledger schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every cached balance with the sum of its ledger",
		Long: `Compare every operator's cached balance with the sum of its ledger
entries. Drift is reported and the command exits non-zero; nothing is corrected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				drift, err := a.Ledger.Reconcile(ctx)
				if err != nil {
					return err
				}
				if len(drift) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "all balances match their ledgers")
					return nil
				}
				if err := printJSON(cmd.OutOrStdout(), drift); err != nil {
					return err
				}
				return fmt.Errorf("%d operator balance(s) drifted", len(drift))
			})
		},
	}
}

func settleCmd() *cobra.Command {
	var provider, from, to string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Create settlements for a period",
		Long: `Create a PENDING settlement for --provider over [--from, --to).
Without --provider every provider with earnings in the period is settled and a
process job is queued for each new settlement.

Examples:
  ledgerctl settle --from 2026-05-01 --to 2026-06-01
  ledgerctl settle --provider 6f1c... --from 2026-05-01 --to 2026-05-08`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parsePeriod(from, to)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if provider == "" {
					created, err := a.Settlements.SettleAll(ctx, start, end)
					if perr := printJSON(cmd.OutOrStdout(), created); perr != nil {
						return perr
					}
					return err
				}
				id, err := uuid.Parse(provider)
				if err != nil {
					return fmt.Errorf("invalid --provider: %w", err)
				}
				st, err := a.Settlements.ComputeSettlement(ctx, id, start, end)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider id (default: all providers)")
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&to, "to", "", "period end, exclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [settlement-id]",
		Short: "Transfer a PENDING settlement now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args[0], (*settlement.Service).Process)
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [settlement-id]",
		Short: "Re-attempt the transfer of a FAILED settlement",
		Long: `Re-attempt the transfer of a FAILED settlement. This also clears the
review flag set when a paid transfer was reversed, so check the provider's
payout account first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args[0], (*settlement.Service).Retry)
		},
	}
}

func runTransfer(cmd *cobra.Command, rawID string, op func(*settlement.Service, context.Context, uuid.UUID) (*models.ProviderSettlement, error)) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid settlement id: %w", err)
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		st, err := op(a.Settlements, ctx, id)
		if st != nil {
			if perr := printJSON(cmd.OutOrStdout(), st); perr != nil {
				return perr
			}
		}
		if errors.Is(err, settlement.ErrTransferOutcomeUnknown) {
			return fmt.Errorf("%w: the settlement stays PROCESSING until the processor confirms", err)
		}
		return err
	})
}

func failedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List FAILED settlements eligible for retry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				failed, err := a.Settlements.ListFailed(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), failed)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum results")
	return cmd
}

func operatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operators",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an operator with a zero balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				op := &models.Operator{ID: uuid.New(), Name: name, Status: models.OperatorStatusActive}
				if err := a.Operators.Create(ctx, op); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), op)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (required)")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create, operatorListCmd())
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [operator-id]",
		Short: "Issue an API bearer token for an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid operator id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Operators.GetByID(ctx, id); err != nil {
					return fmt.Errorf("operator %s: %w", id, err)
				}
				tok, err := a.Tokens.Issue(id, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

// parsePeriod accepts YYYY-MM-DD (UTC midnight) or RFC 3339 bounds.
func parsePeriod(from, to string) (time.Time, time.Time, error) {
	start, err := parseTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	end, err := parseTime(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --from must be before --to", settlement.ErrInvalidPeriod)
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
