package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smsbra/otp-api/internal/config"
	"github.com/smsbra/otp-api/internal/domain/account"
	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/domain/payment"
	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/domain/rental"
	"github.com/smsbra/otp-api/internal/pkg/database"
	"github.com/smsbra/otp-api/internal/pkg/jwt"
	"github.com/smsbra/otp-api/internal/pkg/lock"
	"github.com/smsbra/otp-api/internal/pkg/logger"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
	"github.com/smsbra/otp-api/internal/pkg/resilience"
	"github.com/smsbra/otp-api/internal/pkg/smsactivate"
)

const lockPrefix = "otp:"

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting OTP API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)
	if redis == nil {
		log.Warn().Msg("REDIS_URL not set: catalog cache off, sweeps unguarded across replicas")
	}

	m := metrics.New()
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	locker := lock.NewLocker(redis, lockPrefix)

	// ---------- Provider ----------
	smsClient := smsactivate.NewClient(cfg.SMSActivateBaseURL, cfg.SMSActivateAPIKey, cfg.SMSActivateTimeout, m)
	upstream := resilience.New(resilience.Config{
		Name:         "sms_provider",
		MaxRetries:   cfg.ProviderMaxRetries,
		BaseDelay:    cfg.ProviderRetryDelay,
		BreakerDelay: cfg.ProviderBreakerTimeout,
		Retryable:    provider.IsRetryable,
		OpenErr:      provider.ErrUnavailable,
	})

	// ---------- Services ----------
	accountService := account.NewService(account.NewRepository(db))
	ledgerService := ledger.NewService(ledger.NewRepository(db), m)
	serviceCatalog := catalog.NewCatalog(catalog.NewCachedRepository(catalog.NewRepository(db), redis, cfg.CatalogCacheTTL))
	rentalService := rental.NewService(
		rental.NewRepository(db),
		ledgerService,
		accountService,
		serviceCatalog,
		smsClient,
		upstream,
		m,
		rental.Config{
			Window:         cfg.RentalWindow,
			RefundUnused:   cfg.RentalRefundUnused,
			PersistRetries: cfg.ProviderMaxRetries,
		},
	)
	paymentService := payment.NewService(ledgerService, payment.NewRepository(db), m, cfg.PaymentWebhookSecret)

	if cfg.PaymentWebhookSecret == "" {
		log.Warn().Msg("PAYMENT_WEBHOOK_SECRET not set: every payment callback will be rejected")
	}

	// ---------- Background jobs ----------
	supervisor := rental.NewSupervisor(rentalService, locker, m, cfg.RentalSweepInterval, cfg.RentalSweepBatch)
	supervisor.Start()
	defer supervisor.Stop()

	expiryWorker := payment.NewWorker(paymentService, locker, cfg.PaymentPendingTTL, cfg.PaymentExpiryInterval)
	expiryWorker.Start()
	defer expiryWorker.Stop()

	// ---------- Router ----------
	r := newRouter(routerDeps{
		cfg:      cfg,
		jwt:      jwtService,
		metrics:  m,
		upstream: upstream,
		active: func(ctx context.Context, id uuid.UUID) error {
			_, err := accountService.RequireActive(ctx, id)
			return err
		},
		accounts: account.NewHandler(accountService),
		ledger:   ledger.NewHandler(ledgerService),
		catalog:  catalog.NewHandler(serviceCatalog),
		rentals:  rental.NewHandler(rentalService, cfg.ProviderWebhookToken),
		payments: payment.NewHandler(paymentService),
		provider: provider.NewHandler(smsClient),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
