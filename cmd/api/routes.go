package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/smsbra/otp-api/internal/config"
	"github.com/smsbra/otp-api/internal/domain/account"
	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/domain/payment"
	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/domain/rental"
	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/jwt"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
	"github.com/smsbra/otp-api/internal/pkg/resilience"
	"github.com/smsbra/otp-api/internal/pkg/response"
)

type routerDeps struct {
	cfg      *config.Config
	jwt      *jwt.Service
	metrics  *metrics.Metrics
	upstream *resilience.Executor
	// active gates routes that spend or buy credits; nil skips the check.
	active middleware.ActiveCheck

	accounts *account.Handler
	ledger   *ledger.Handler
	catalog  *catalog.Handler
	rentals  *rental.Handler
	payments *payment.Handler
	provider *provider.Handler
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.metrics))
	r.Use(middleware.Recover(d.metrics))
	r.Use(middleware.CORSHandler(d.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		upstream := "ok"
		if d.upstream != nil && d.upstream.IsOpen() {
			upstream = "degraded"
		}
		response.OK(w, map[string]string{
			"status":   "ok",
			"provider": upstream,
		})
	})
	r.Handle("/metrics", d.metrics.Handler())

	authMiddleware := middleware.Auth(d.jwt)
	spendMiddleware := authMiddleware
	if d.active != nil {
		guard := middleware.RequireActiveAccount(d.active)
		spendMiddleware = func(next http.Handler) http.Handler {
			return authMiddleware(guard(next))
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/accounts", d.accounts.Routes(authMiddleware))
		r.Mount("/credits", d.ledger.Routes(authMiddleware))
		r.Mount("/services", d.catalog.Routes())
		r.Mount("/rentals", d.rentals.Routes(spendMiddleware))
		r.Mount("/payments", d.payments.Routes(spendMiddleware))

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/provider", d.rentals.ProviderWebhook)
			r.Mount("/payments", d.payments.WebhookRoutes())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware, middleware.RequireAdmin())
			d.accounts.RegisterAdmin(r)
			d.ledger.RegisterAdmin(r)
			d.catalog.RegisterAdmin(r)
			d.payments.RegisterAdmin(r)
			d.provider.RegisterAdmin(r)
		})
	})

	return r
}
