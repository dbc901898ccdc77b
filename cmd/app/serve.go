package main

import (
	"context"
	"errors"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/infra/api"
	pg "premium-subscription-gateway/internal/infra/db/postgres"
	"premium-subscription-gateway/internal/infra/events"
	"premium-subscription-gateway/internal/infra/logging"
	"premium-subscription-gateway/internal/infra/metrics"
	"premium-subscription-gateway/internal/infra/payment"
	red "premium-subscription-gateway/internal/infra/redis"
	"premium-subscription-gateway/internal/infra/sched"
	"premium-subscription-gateway/internal/usecase"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification webhook and entitlement reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit, string(cfg.Payment.Mode))
	logger.Info().
		Str("mode", string(cfg.Payment.Mode)).
		Str("merchant_id", cfg.Payment.MerchantID).
		Str("merchant_key", logging.Redact(cfg.Payment.MerchantKey, cfg.Runtime.Dev)).
		Bool("passphrase_set", cfg.Payment.Passphrase != "").
		Msg("payment processor configured")

	// Initiation re-checks this per request; here we only make it loud.
	if err := cfg.Payment.Validate(); err != nil {
		logger.Error().Err(err).Msg("payment configuration incomplete; initiation will be refused")
	}
	if u, err := url.Parse(cfg.Payment.NotifyURL); err == nil && u.Path != "" && u.Path != api.NotifyPath {
		logger.Warn().Str("notify_url", cfg.Payment.NotifyURL).Str("route", api.NotifyPath).Msg("notify_url path does not match the webhook route")
	}

	plans, err := cfg.PlanCatalog()
	if err != nil {
		return err
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// ---- Repositories ----
	subRepo := pg.NewSubscriptionRepo(pool)
	entRepo := pg.NewEntitlementRepoCacheDecorator(pg.NewEntitlementRepo(pool), redisClient, cfg.Entitlement.CacheTTL)
	txm := pg.NewTxManager(pool)

	// ---- Adapters ----
	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var validator adapter.RemoteValidator = payment.NewRemoteValidator(cfg.Payment.Mode.ValidateURL(), cfg.Payment.ValidateTimeout, logger)
	if cfg.Payment.SkipRemoteValidation {
		logger.Warn().Msg("remote notification validation disabled")
		validator = payment.AlwaysValid{}
	}

	cidrs := cfg.Payment.TrustedCIDRs
	if len(cidrs) == 0 && cfg.Payment.Mode == payment.ModeLive {
		cidrs = payment.DefaultProcessorCIDRs
	}
	guard, err := payment.NewSourceGuard(cidrs)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	entUC := usecase.NewEntitlementUseCase(entRepo, entRepo, subRepo, publisher, logger)
	subUC := usecase.NewSubscriptionUseCase(cfg.Payment, plans, subRepo, red.NewRateLimiter(redisClient), cfg.RateLimit.InitiatePerMinute, logger)
	notifyUC := usecase.NewNotificationUseCase(cfg.Payment, plans, subRepo, entUC, txm, validator, guard, logger)

	// ---- HTTP ----
	router := api.NewServer(subUC, entUC, notifyUC, api.NewAuthenticator(cfg.Auth), cfg.HTTP, logger).Router()
	httpSrv := api.NewHTTPServer(cfg.HTTP, router, logger)

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Start() }()

	// ---- Entitlement reconciler ----
	reconciler := sched.NewEntitlementReconciler(cfg.Entitlement.ReconcileInterval, cfg.Entitlement.ReconcileWindow, entUC, red.NewLocker(redisClient), logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("entitlement reconciler stopped")
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return nil
}

func newPublisher(cfg config.EventsConfig, logger *zerolog.Logger) (adapter.EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(logger), nil
	}
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}
