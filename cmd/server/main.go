// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/config"
	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/handler"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/middleware"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider/payhero"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/internal/router"
	"github.com/SHANKHAN254/fys-investment-bot/internal/scheduler"
	"github.com/SHANKHAN254/fys-investment-bot/internal/session"
	"github.com/SHANKHAN254/fys-investment-bot/internal/usecase"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	logger, err := newLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting deposit bot")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	defaults := domain.Settings{
		MinDeposit:     cfg.Bot.MinDeposit,
		MaxDeposit:     cfg.Bot.MaxDeposit,
		WelcomeMessage: cfg.Bot.WelcomeMessage,
	}

	store, err := openStore(cfg.Database, defaults, logger)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}
	defer store.Close()

	// Redis backs sessions, deposit events and webhook rate limiting when configured.
	var (
		sessions  session.Store    = session.NewMemoryStore(cfg.Bot.SessionTTL)
		publisher events.Publisher = events.NopPublisher{}
		rateLimit func(http.Handler) http.Handler
	)
	if cfg.Redis.Enabled {
		rdb := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, continuing; requests will fail open", zap.Error(err))
		}
		cancel()

		redisCache := cache.NewCache(rdb)
		sessions = session.NewRedisStore(redisCache, cfg.Bot.SessionTTL)
		publisher = events.NewRedisPublisher(rdb, logger)
		rateLimit = middleware.RateLimiter(redisCache, cfg.Server.RateLimit, cfg.Server.RateWindow, cfg.Server.RateBlock, "whatsapp", logger)

		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	var sender messaging.Sender
	switch cfg.WhatsApp.Driver {
	case "log":
		sender = messaging.NewLogSender(logger)
	default:
		sender = messaging.NewWhatsAppGateway(cfg.WhatsApp, logger)
	}

	aggregator := payhero.NewPayHeroProvider(cfg.PayHero, logger)

	statusUC := usecase.NewStatusUsecase(store, aggregator, sender, publisher, logger)
	poller := scheduler.NewStatusPoller(statusUC, scheduler.PollerConfig{
		InitialDelay: cfg.Bot.StatusCheckDelay,
		Interval:     cfg.Bot.StatusCheckInterval,
		Attempts:     cfg.Bot.StatusCheckAttempts,
	}, logger)

	depositUC := usecase.NewDepositUsecase(store, aggregator, sender, publisher, poller, usecase.DepositConfig{
		PhonePattern:     cfg.Bot.PhonePattern,
		AlertRecipient:   cfg.Bot.AlertRecipient,
		StatusCheckDelay: cfg.Bot.StatusCheckDelay,
		Location:         cfg.Bot.TimeZone,
		CallbackURL:      cfg.PayHero.CallbackURL,
		CallbackSecret:   cfg.PayHero.CallbackSecret,
	}, logger)
	adminUC := usecase.NewAdminUsecase(store, aggregator, statusUC, poller, sender, publisher, cfg.Bot.TimeZone, logger)
	callbackUC := usecase.NewCallbackUsecase(store, aggregator, statusUC, poller, cfg.PayHero.CallbackSecret, logger)
	conversationUC := usecase.NewConversationUsecase(store, sessions, depositUC, adminUC, sender, usecase.ConversationConfig{
		PhonePromptDelay: cfg.Bot.PhonePromptDelay,
		Location:         cfg.Bot.TimeZone,
		IsAdmin:          cfg.Bot.IsAdmin,
	}, logger)

	reconciler := scheduler.NewReconciler(store, poller, cfg.Bot.ReconcileSchedule, logger)
	if err := reconciler.Start(context.Background()); err != nil {
		logger.Fatal("failed to start reconciliation", zap.Error(err))
	}

	r := router.SetupRoutes(router.Handlers{
		Webhook:  handler.NewWebhookHandler(conversationUC, logger),
		Callback: handler.NewCallbackHandler(callbackUC, logger),
		Admin:    handler.NewAdminHandler(adminUC, logger),
		Health:   handler.NewHealthHandler(poller.Len),
	}, router.Options{
		Verifier:       middleware.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		RateLimit:      rateLimit,
		WebhookSecret:  cfg.Server.WebhookSecret,
		WebhookMaxSkew: cfg.Server.WebhookMaxSkew,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin API is disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("deposit bot started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		adminUC.AnnounceOnline(ctx, cfg.Bot.SuperAdmin+"@c.us")
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-reconciler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("reconciliation job still running at shutdown")
	}

	if err := poller.Shutdown(ctx); err != nil {
		logger.Warn("status checks still running at shutdown",
			zap.Int("pending", poller.Len()),
			zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg config.DatabaseConfig, defaults domain.Settings, logger *zap.Logger) (repository.Store, error) {
	if cfg.Driver != "postgres" {
		fs, err := repository.NewFileStore(cfg.FilePath, defaults, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("connected to database", zap.String("database", cfg.DBName))
	return repository.NewPostgresStore(pool, defaults, logger), nil
}
