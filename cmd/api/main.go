package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawgent/backend/internal/app"
	"github.com/lawgent/backend/internal/config"
	"github.com/lawgent/backend/internal/handlers"
	"github.com/lawgent/backend/internal/router"
	"github.com/lawgent/backend/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		slog.Error("Startup failed. Ensure PostgreSQL is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := a.Migrate(ctx); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	api := router.New(router.Deps{
		Operators:      &handlers.OperatorHandler{Agents: a.Agents, Logger: logger},
		Ledger:         &handlers.LedgerHandler{Ledger: a.Ledger, Logger: logger},
		Checkout:       &handlers.CheckoutHandler{Checkout: a.Checkout, Logger: logger},
		Escrow:         &handlers.EscrowHandler{Escrow: a.Escrow, Agents: a.Agents, Logger: logger},
		Settlements:    &handlers.SettlementHandler{Settlements: a.Settlements, PlatformOperatorID: cfg.PlatformOperatorID, Logger: logger},
		Webhook:        webhook.NewHandler(a.Reconciler, cfg.StripeWebhookSecret, logger),
		Health:         handlers.Health(a.Pool),
		Tokens:         a.Tokens,
		OperatorLookup: a.Operators,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	// Start River client (processes settlement and periodic jobs)
	if err := a.River.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := a.River.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}
