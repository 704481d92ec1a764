package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config собирает все настройки сервиса из окружения.
type Config struct {
	HTTPAddr string

	// PostgresDSN пустой — репозитории в памяти (dev-режим).
	PostgresDSN string
	// RedisAddr пустой — webhook-дедупликация отключена.
	RedisAddr string
	// KafkaBrokers пустой — события outbox не публикуются в шину.
	KafkaBrokers string

	// AdminToken защищает ops-эндпоинты; пустой — эндпоинты отключены.
	AdminToken string

	Razorpay   RazorpayConfig
	Shiprocket ShiprocketConfig
	MSG91      MSG91Config

	Lifecycle LifecycleConfig

	SweepInterval time.Duration
	OutboxPoll    time.Duration
}

// RazorpayConfig — учётные данные платёжного провайдера.
// Пустой KeyID включает mock-шлюз.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// ShiprocketConfig — учётные данные перевозчика.
// Пустой Email включает mock-перевозчика.
type ShiprocketConfig struct {
	Email          string
	Password       string
	PickupLocation string
	// WebhookToken аутентифицирует carrier webhooks.
	WebhookToken string
}

// MSG91Config — учётные данные провайдера уведомлений.
// Пустой AuthKey включает mock-notifier.
type MSG91Config struct {
	AuthKey    string
	FromEmail  string
	FromDomain string
	WANumber   string
}

// LifecycleConfig — параметры бизнес-логики жизненного цикла.
type LifecycleConfig struct {
	MaxPaymentAttempts    int
	PaymentWindow         time.Duration
	Currency              string
	ShippingFeeFlatMinor  int64
	FreeShippingOverMinor int64
}

// DefaultConfig возвращает настройки dev-режима без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr: ":8080",
		Lifecycle: LifecycleConfig{
			MaxPaymentAttempts: 3,
			PaymentWindow:      30 * time.Minute,
			Currency:           "INR",
		},
		SweepInterval: 5 * time.Minute,
		OutboxPoll:    time.Second,
	}
}

// LoadConfig читает настройки из окружения поверх значений по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = getEnv("STOREFRONT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresDSN = getEnv("STOREFRONT_POSTGRES_DSN", "")
	cfg.RedisAddr = getEnv("STOREFRONT_REDIS_ADDR", "")
	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", "")
	cfg.AdminToken = getEnv("STOREFRONT_ADMIN_TOKEN", "")

	cfg.Razorpay.KeyID = getEnv("RAZORPAY_KEY_ID", "")
	cfg.Razorpay.KeySecret = getEnv("RAZORPAY_KEY_SECRET", "")
	cfg.Razorpay.WebhookSecret = getEnv("RAZORPAY_WEBHOOK_SECRET", "")

	cfg.Shiprocket.Email = getEnv("SHIPROCKET_EMAIL", "")
	cfg.Shiprocket.Password = getEnv("SHIPROCKET_PASSWORD", "")
	cfg.Shiprocket.PickupLocation = getEnv("SHIPROCKET_PICKUP_LOCATION", "Primary")
	cfg.Shiprocket.WebhookToken = getEnv("SHIPROCKET_WEBHOOK_TOKEN", "")

	cfg.MSG91.AuthKey = getEnv("MSG91_AUTH_KEY", "")
	cfg.MSG91.FromEmail = getEnv("MSG91_FROM_EMAIL", "")
	cfg.MSG91.FromDomain = getEnv("MSG91_FROM_DOMAIN", "")
	cfg.MSG91.WANumber = getEnv("MSG91_WA_NUMBER", "")

	cfg.Lifecycle.MaxPaymentAttempts = getEnvInt("STOREFRONT_MAX_PAYMENT_ATTEMPTS", cfg.Lifecycle.MaxPaymentAttempts)
	cfg.Lifecycle.PaymentWindow = getEnvDuration("STOREFRONT_PAYMENT_WINDOW", cfg.Lifecycle.PaymentWindow)
	cfg.Lifecycle.Currency = getEnv("STOREFRONT_CURRENCY", cfg.Lifecycle.Currency)
	cfg.Lifecycle.ShippingFeeFlatMinor = getEnvInt64("STOREFRONT_SHIPPING_FEE_MINOR", cfg.Lifecycle.ShippingFeeFlatMinor)
	cfg.Lifecycle.FreeShippingOverMinor = getEnvInt64("STOREFRONT_FREE_SHIPPING_OVER_MINOR", cfg.Lifecycle.FreeShippingOverMinor)

	cfg.SweepInterval = getEnvDuration("STOREFRONT_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.OutboxPoll = getEnvDuration("STOREFRONT_OUTBOX_POLL", cfg.OutboxPoll)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil && v >= 0 {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}
