package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/health"
	"github.com/amorozov/storefront/internal/messaging/kafka"
	"github.com/amorozov/storefront/internal/service/cart"
	"github.com/amorozov/storefront/internal/service/coupon"
	"github.com/amorozov/storefront/internal/service/lifecycle"
	"github.com/amorozov/storefront/internal/service/outbox"
	"github.com/amorozov/storefront/internal/service/sweep"
	transport "github.com/amorozov/storefront/internal/transport/http"
	"github.com/amorozov/storefront/internal/version"
)

// Run собирает сервис из конфигурации и работает до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	validator := coupon.NewValidator(deps.Coupons, deps.Products, deps.Carts, nil)
	cartSvc := cart.NewService(deps.Carts, deps.Products, validator, nil)

	orchestrator := lifecycle.NewOrchestrator(lifecycle.Deps{
		Orders:   deps.Orders,
		Products: deps.Products,
		Carts:    deps.Carts,
		Usages:   deps.Coupons,
		Gateway:  deps.Gateway,
		Carrier:  deps.Carrier,
		Outbox:   deps.Outbox,
		Coupons:  validator,
	}, lifecycle.Config{
		MaxPaymentAttempts:    cfg.Lifecycle.MaxPaymentAttempts,
		OrderWindow:           cfg.Lifecycle.PaymentWindow,
		Currency:              cfg.Lifecycle.Currency,
		ShippingFeeFlatMinor:  cfg.Lifecycle.ShippingFeeFlatMinor,
		FreeShippingOverMinor: cfg.Lifecycle.FreeShippingOverMinor,
	})

	sweeper := sweep.NewWorker(deps.Orders, deps.Products,
		sweep.WithInterval(cfg.SweepInterval),
	)

	dispatcher := outbox.NewDispatcher(deps.Outbox, buildPublishers(deps),
		outbox.WithPollInterval(cfg.OutboxPoll),
	)

	apiHandler := transport.NewHandler(orchestrator, cartSvc, validator, deps.Orders, nil)
	webhookHandler := transport.NewWebhookHandler(
		orchestrator,
		deps.GatewayClient,
		deps.Deduper,
		orchestrator.Metrics(),
		cfg.Shiprocket.WebhookToken,
		nil,
	)

	router := transport.NewRouter(transport.RouterDeps{
		API:        apiHandler,
		Webhooks:   webhookHandler,
		Health:     buildHealth(deps),
		Outbox:     dispatcher,
		AdminToken: cfg.AdminToken,
		Logger:     nil,
	})

	// Фоновые воркеры: уборка просроченных резервов и доставка outbox.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildPublishers собирает карту publishers по каналам outbox.
// События уходят в Kafka, интенты уведомлений — провайдеру сообщений.
func buildPublishers(deps *Dependencies) map[string]domain.OutboxPublisher {
	publishers := map[string]domain.OutboxPublisher{
		domain.OutboxChannelEmail: outbox.NewNotifierPublisher(
			deps.EmailNotifier, outbox.RecipientEmail, nil),
		domain.OutboxChannelWhatsApp: outbox.NewNotifierPublisher(
			deps.WANotifier, outbox.RecipientPhone, nil),
	}
	if deps.Producer != nil {
		publishers[domain.OutboxChannelEvents] = kafka.NewOutboxPublisher(
			deps.Producer, kafka.TopicOrderEvents)
	} else {
		publishers[domain.OutboxChannelEvents] = outbox.NewLogPublisher(nil)
	}
	return publishers
}

// buildHealth регистрирует проверки подключённых компонентов.
func buildHealth(deps *Dependencies) *health.Registry {
	registry := health.NewRegistry(version.Short())
	if deps.Store != nil {
		registry.Register("postgres", deps.Store.Ping)
	}
	if deps.Redis != nil {
		registry.Register("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	return registry
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
