package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/lawgent/backend/internal/app"
	"github.com/lawgent/backend/internal/models"
)

type operatorLister interface {
	List(ctx context.Context) ([]*models.Operator, error)
}

type providerStore interface {
	Create(ctx context.Context, p *models.Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	RecordServiceRequest(ctx context.Context, sr *models.ServiceRequest) error
}

// show prints the record get returns, turning a missing row into a readable error.
func show[T any](w io.Writer, what string, key string, get func() (*T, error)) error {
	v, err := get()
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s not found", what, key)
	}
	if err != nil {
		return err
	}
	return printJSON(w, v)
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id: %w", what, err)
	}
	return id, nil
}

func listOperators(ctx context.Context, w io.Writer, ops operatorLister) error {
	list, err := ops.List(ctx)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*models.Operator{}
	}
	return printJSON(w, list)
}

func operatorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operators with their cached balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return listOperators(ctx, cmd.OutOrStdout(), a.Operators)
			})
		},
	}
}

func transactionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transaction [transaction-id]",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("transaction", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return show(cmd.OutOrStdout(), "transaction", args[0], func() (*models.CreditTransaction, error) {
					return a.Credits.GetByID(ctx, id)
				})
			})
		},
	}
}

func eventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "event [event-id]",
		Short: "Show whether a processor webhook event was processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return show(cmd.OutOrStdout(), "event", args[0], func() (*models.ProcessedWebhookEvent, error) {
					return a.WebhookEvents.Get(ctx, args[0])
				})
			})
		},
	}
}

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage service providers and their earnings",
	}

	var name, account string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return createProvider(ctx, cmd.OutOrStdout(), a.Providers, name, account)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (required)")
	create.Flags().StringVar(&account, "payout-account", "", "processor connected account, acct_...")
	_ = create.MarkFlagRequired("name")

	showCmd := &cobra.Command{
		Use:   "show [provider-id]",
		Short: "Show a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("provider", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return show(cmd.OutOrStdout(), "provider", args[0], func() (*models.Provider, error) {
					return a.Providers.GetByID(ctx, id)
				})
			})
		},
	}

	var operator, at string
	var cents int64
	earning := &cobra.Command{
		Use:   "earning [provider-id]",
		Short: "Record a completed service request owed to a provider",
		Long: `Record a completed service request owed to a provider. Use this to
backfill earnings before settling a period that missed them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, err := parseID("provider", args[0])
			if err != nil {
				return err
			}
			operatorID, err := parseID("operator", operator)
			if err != nil {
				return err
			}
			completedAt := time.Now().UTC()
			if at != "" {
				if completedAt, err = parseTime(at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}
			sr := &models.ServiceRequest{
				ID:           uuid.New(),
				ProviderID:   providerID,
				OperatorID:   operatorID,
				Status:       models.ServiceRequestCompleted,
				EarningCents: cents,
				CompletedAt:  completedAt,
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return recordEarning(ctx, cmd.OutOrStdout(), a.Providers, sr)
			})
		},
	}
	earning.Flags().StringVar(&operator, "operator", "", "operator the service was delivered to (required)")
	earning.Flags().Int64Var(&cents, "cents", 0, "amount owed in cents (required)")
	earning.Flags().StringVar(&at, "at", "", "completion time, YYYY-MM-DD or RFC 3339 (default: now)")
	_ = earning.MarkFlagRequired("operator")
	_ = earning.MarkFlagRequired("cents")

	cmd.AddCommand(create, showCmd, earning)
	return cmd
}

func createProvider(ctx context.Context, w io.Writer, providers providerStore, name, account string) error {
	p := &models.Provider{ID: uuid.New(), Name: name}
	if account != "" {
		p.PayoutAccountID = &account
	}
	if err := providers.Create(ctx, p); err != nil {
		return err
	}
	return printJSON(w, p)
}

func recordEarning(ctx context.Context, w io.Writer, providers providerStore, sr *models.ServiceRequest) error {
	if sr.EarningCents <= 0 {
		return fmt.Errorf("--cents must be positive, got %d", sr.EarningCents)
	}
	if _, err := providers.GetByID(ctx, sr.ProviderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("provider %s not found", sr.ProviderID)
		}
		return err
	}
	if err := providers.RecordServiceRequest(ctx, sr); err != nil {
		return err
	}
	return printJSON(w, sr)
}
