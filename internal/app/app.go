// Package app wires configuration, storage, services and the job client
// shared by the API server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/lawgent/backend/internal/auth"
	"github.com/lawgent/backend/internal/checkout"
	"github.com/lawgent/backend/internal/config"
	"github.com/lawgent/backend/internal/escrow"
	"github.com/lawgent/backend/internal/execution"
	"github.com/lawgent/backend/internal/ledger"
	"github.com/lawgent/backend/internal/processor"
	"github.com/lawgent/backend/internal/repository"
	"github.com/lawgent/backend/internal/settlement"
	"github.com/lawgent/backend/internal/webhook"
)

type App struct {
	Config *config.Config
	Log    *slog.Logger
	Pool   *pgxpool.Pool

	Operators     *repository.OperatorRepo
	Agents        *repository.AgentRepo
	Providers     *repository.ProviderRepo
	Credits       *repository.CreditRepo
	WebhookEvents *repository.WebhookEventRepo

	Ledger      ledger.Service
	Escrow      *escrow.Service
	Checkout    *checkout.Service
	Settlements *settlement.Service
	Reconciler  *webhook.Reconciler
	Tokens      *auth.Tokens
	River       *river.Client[pgx.Tx]
}

// NewLogger returns the JSON logger at the configured level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Open connects to Postgres and builds every service. With runWorkers false
// the River client is insert-only.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, runWorkers bool) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach database: %w", err)
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Pool:      pool,
		Operators:     repository.NewOperatorRepo(pool),
		Agents:        repository.NewAgentRepo(pool),
		Providers:     repository.NewProviderRepo(pool),
		Credits:       repository.NewCreditRepo(pool),
		WebhookEvents: repository.NewWebhookEventRepo(pool),
	}

	a.Tokens, err = auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		pool.Close()
		return nil, err
	}

	stripe := processor.NewStripe(processor.Config{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeBaseURL,
		Timeout:   cfg.TransferTimeout,
	}, log)

	a.Ledger = ledger.NewService(pool, a.Operators, a.Credits, log)
	a.Escrow = escrow.NewService(pool, repository.NewEscrowRepo(pool), a.Agents, a.Ledger, escrow.Config{
		FeeBasisPoints:     cfg.EscrowFeeBasisPoints,
		PlatformOperatorID: cfg.PlatformOperatorID,
	}, log)
	a.Checkout = checkout.NewService(stripe, repository.NewCheckoutRepo(pool), a.Operators, a.Ledger, checkout.Config{
		MinUSD:        cfg.CheckoutMinUSD,
		MaxUSD:        cfg.CheckoutMaxUSD,
		CreditsPerUSD: cfg.CreditsPerUSD,
		Window:        cfg.CheckoutWindow,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	}, log)
	a.Settlements = settlement.NewService(pool, repository.NewSettlementRepo(pool), a.Providers, stripe, settlement.Config{
		TransferTimeout: cfg.TransferTimeout,
	}, log)
	a.Reconciler = webhook.NewReconciler(pool, a.WebhookEvents, a.Checkout, a.Settlements, log)

	// Settlement creation enqueues through the client, and the client's
	// workers call the settlement service, hence the late SetEnqueuer.
	riverCfg := &river.Config{Logger: log}
	if runWorkers {
		riverCfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.WorkerConcurrency},
		}
		riverCfg.Workers = execution.Workers(a.Settlements, a.Ledger, log)
		riverCfg.PeriodicJobs = execution.PeriodicJobs(execution.Schedule{
			SettlementPeriod:  cfg.SettlementPeriod,
			ReconcileInterval: cfg.ReconcileInterval,
			RetryFailedEvery:  cfg.RetryFailedEvery,
		}, time.Now)
	}
	a.River, err = river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}
	a.Settlements.SetEnqueuer(execution.NewEnqueuer(execution.ClientInsert(a.River)))
	return a, nil
}

// Migrate applies the River schema and then the application schema.
func (a *App) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(a.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if err := repository.Migrate(ctx, a.Pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (a *App) Close() {
	a.Pool.Close()
}
