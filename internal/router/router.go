package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/lawgent/backend/internal/handlers"
	"github.com/lawgent/backend/internal/middleware"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Operators      *handlers.OperatorHandler
	Ledger         *handlers.LedgerHandler
	Checkout       *handlers.CheckoutHandler
	Escrow         *handlers.EscrowHandler
	Settlements    *handlers.SettlementHandler
	Webhook        http.Handler
	Health         http.HandlerFunc
	Tokens         middleware.TokenVerifier
	OperatorLookup middleware.OperatorLookup
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New returns the API handler. The processor webhook is authenticated by its
// signature and sits outside the bearer-auth group.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLog(d.Logger))

	r.Get("/healthz", d.Health)
	r.Post("/webhooks/stripe", d.Webhook.ServeHTTP)

	r.Route("/v1", func(api chi.Router) {
		api.Use(middleware.BearerAuth(d.Tokens))
		api.Use(middleware.ActiveOperator(d.OperatorLookup, d.Logger))

		api.Get("/me", d.Operators.Me)
		api.Post("/agents", d.Operators.CreateAgent)
		api.Get("/agents", d.Operators.ListAgents)

		api.Get("/balance", d.Ledger.GetBalance)
		api.Get("/transactions", d.Ledger.ListTransactions)
		api.Get("/usage/monthly", d.Ledger.MonthlyUsage)
		api.Get("/usage/top-references", d.Ledger.TopReferences)
		api.Post("/deductions", d.Ledger.Deduct)

		api.Post("/checkout/sessions", d.Checkout.CreateSession)
		api.Get("/checkout/sessions/{id}", d.Checkout.GetSession)

		api.Post("/escrows", d.Escrow.Create)
		api.Get("/escrows/{id}", d.Escrow.Get)
		api.Post("/escrows/{id}/fund", d.Escrow.Fund)
		api.Post("/escrows/{id}/release", d.Escrow.Release)
		api.Post("/escrows/{id}/refund", d.Escrow.Refund)
		api.Post("/escrows/{id}/dispute", d.Escrow.Dispute)
		api.Post("/escrows/{id}/resolve", d.Escrow.Resolve)

		api.Get("/settlements/{id}", d.Settlements.Get)
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(r)
}

func requestLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
