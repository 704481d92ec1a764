package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/carrier"
	"github.com/amorozov/storefront/internal/carrier/shiprocket"
	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/gateway"
	"github.com/amorozov/storefront/internal/gateway/razorpay"
	"github.com/amorozov/storefront/internal/messaging/kafka"
	"github.com/amorozov/storefront/internal/notifier"
	"github.com/amorozov/storefront/internal/notifier/msg91"
	"github.com/amorozov/storefront/internal/redisx"
	"github.com/amorozov/storefront/internal/storage/memory"
	"github.com/amorozov/storefront/internal/storage/postgres"
)

// Dependencies содержит все внешние зависимости приложения.
// Незаполненные учётные данные провайдеров заменяются mock-реализациями,
// чтобы сервис поднимался в dev-режиме без внешних сервисов.
type Dependencies struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Carts    domain.CartRepository
	Coupons  domain.CouponRepository
	Outbox   domain.OutboxRepository

	Gateway       domain.PaymentGateway
	Carrier       domain.ShippingCarrier
	EmailNotifier domain.Notifier
	WANotifier    domain.Notifier

	// GatewayClient проверяет webhook-подписи; с пустым webhook-секретом
	// любые подписи отклоняются.
	GatewayClient *razorpay.Client

	Store    *postgres.Store
	Redis    *redis.Client
	Deduper  *redisx.Deduper
	Producer *kafka.Producer

	Logger *log.Entry
}

// newDependencies инициализирует зависимости согласно конфигурации.
func newDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger}

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}
	deps.initRedis(ctx, cfg, logger)
	deps.initKafka(cfg, logger)
	deps.initProviders(cfg, logger)

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	if cfg.PostgresDSN == "" {
		logger.Warn("postgres DSN is not set, using in-memory repositories")
		d.Orders = memory.NewOrderRepository()
		d.Products = memory.NewProductRepository()
		d.Carts = memory.NewCartRepository()
		d.Coupons = memory.NewCouponRepository()
		d.Outbox = memory.NewOutboxRepository()
		return nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	d.Store = store
	d.Orders = postgres.NewOrderRepository(store)
	d.Products = postgres.NewProductRepository(store)
	d.Carts = postgres.NewCartRepository(store)
	d.Coupons = postgres.NewCouponRepository(store)
	d.Outbox = postgres.NewOutboxRepository(store)
	logger.Info("postgres storage initialized")
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context, cfg Config, logger *log.Entry) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis address is not set, webhook deduplication disabled")
		d.Deduper = redisx.NewDeduper(nil)
		return
	}

	client, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, webhook deduplication disabled")
		d.Deduper = redisx.NewDeduper(nil)
		return
	}
	d.Redis = client
	d.Deduper = redisx.NewDeduper(client)
	logger.WithField("addr", cfg.RedisAddr).Info("redis initialized")
}

func (d *Dependencies) initKafka(cfg Config, logger *log.Entry) {
	if cfg.KafkaBrokers == "" {
		logger.Warn("kafka brokers are not set, order events will not be published")
		return
	}

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}
	d.Producer = producer
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
}

func (d *Dependencies) initProviders(cfg Config, logger *log.Entry) {
	// Клиент создаётся всегда: webhook-подписи проверяются им даже в
	// dev-режиме, а пустой webhook-секрет отклоняет любые подписи.
	d.GatewayClient = razorpay.NewClient(razorpay.Config{
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
	})
	if cfg.Razorpay.KeyID != "" {
		d.Gateway = d.GatewayClient
	} else {
		logger.Warn("razorpay credentials are not set, using mock payment gateway")
		d.Gateway = gateway.NewMockGateway()
	}

	if cfg.Shiprocket.Email != "" {
		d.Carrier = shiprocket.NewClient(shiprocket.Config{
			Email:          cfg.Shiprocket.Email,
			Password:       cfg.Shiprocket.Password,
			PickupLocation: cfg.Shiprocket.PickupLocation,
		})
	} else {
		logger.Warn("shiprocket credentials are not set, using mock carrier")
		d.Carrier = carrier.NewMockCarrier()
	}

	if cfg.MSG91.AuthKey != "" {
		client := msg91.NewClient(msg91.Config{
			AuthKey:    cfg.MSG91.AuthKey,
			FromEmail:  cfg.MSG91.FromEmail,
			FromDomain: cfg.MSG91.FromDomain,
			WANumber:   cfg.MSG91.WANumber,
		})
		d.EmailNotifier = msg91.NewEmailNotifier(client)
		d.WANotifier = msg91.NewWhatsAppNotifier(client)
	} else {
		logger.Warn("msg91 credentials are not set, using mock notifiers")
		d.EmailNotifier = notifier.NewMockNotifier(logger.WithField("channel", "email"))
		d.WANotifier = notifier.NewMockNotifier(logger.WithField("channel", "whatsapp"))
	}
}

// Close освобождает внешние соединения в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.Producer != nil {
		if err := d.Producer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			d.Logger.Info("kafka producer closed")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
