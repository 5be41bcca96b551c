// Package main запускает HTTP-сервер сервиса заказов витрины.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/config"
	"github.com/mmeshcher/storefront/internal/events"
	"github.com/mmeshcher/storefront/internal/gateway"
	"github.com/mmeshcher/storefront/internal/guard"
	"github.com/mmeshcher/storefront/internal/handler"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var (
		repo service.Repository
		ping func(ctx context.Context) error
	)
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo, ping = pg, pg.Ping
	} else {
		sugar.Warn("DATABASE_URI is empty, orders are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	var locker guard.Locker
	if cfg.RedisAddr != "" {
		rl := guard.NewRedisLocker(cfg.RedisAddr, "storefront", cfg.SubmissionLockTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rl.Ping(pingCtx)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rl.Close()
		locker = rl
	} else {
		locker = guard.NewMemoryLocker(cfg.SubmissionLockTTL)
	}

	var (
		publisher events.Publisher = events.NopPublisher{}
		mq        *events.RabbitMQ
	)
	if cfg.RabbitMQURL != "" {
		mq, err = events.NewRabbitMQ(events.Config{
			URL:              cfg.RabbitMQURL,
			Exchange:         cfg.OrderExchange,
			FulfillmentQueue: cfg.FulfillmentQueue,
			DeadLetterQueue:  cfg.DeadLetterQueue,
		}, logger)
		if err != nil {
			sugar.Fatalw("rabbitmq initialization error", "error", err.Error())
		}
		defer mq.Close()
		publisher = mq
	}

	gateways := map[model.PaymentMethod]service.Gateway{
		model.PaymentMethodCard: gateway.NewClient(gateway.Options{
			Provider:  "card",
			BaseURL:   cfg.GatewayURL,
			KeyID:     cfg.GatewayKeyID,
			KeySecret: cfg.GatewayKeySecret,
			Timeout:   cfg.GatewayTimeout,
		}),
		model.PaymentMethodAltWallet: gateway.NewClient(gateway.Options{
			Provider:  "wallet",
			BaseURL:   cfg.WalletGatewayURL,
			KeyID:     cfg.WalletKeyID,
			KeySecret: cfg.WalletKeySecret,
			Timeout:   cfg.GatewayTimeout,
		}),
	}

	svc := service.NewService(repo, gateways, locker, publisher, logger, service.Options{
		Currency:          cfg.Currency,
		IdempotencyWindow: cfg.IdempotencyWindow,
	})
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, tokens from the identity provider will be rejected")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		RequestTimeout:     cfg.RequestTimeout,
		PaymentWaitTimeout: cfg.PaymentWaitTimeout,
		Ping:               ping,
	})

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Приём статусов доставки
	if mq != nil {
		consumer := events.NewConsumer(svc, logger)
		g.Go(func() error {
			sugar.Infow("starting fulfillment consumer", "queue", cfg.FulfillmentQueue)
			return mq.Consume(ctx, consumer)
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
