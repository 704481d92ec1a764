package domain

import (
	"context"
	"time"
)

// GatewayOrderRequest — запрос на создание платёжной сессии у провайдера.
type GatewayOrderRequest struct {
	// AmountMinor — сумма в минимальных денежных единицах.
	AmountMinor int64
	Currency    string
	// Receipt — человекочитаемый код заказа для сверки на стороне провайдера.
	Receipt string
	Notes   map[string]string
}

// GatewayOrder — созданная провайдером платёжная сессия.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
}

// GatewayPayment — канонические данные платежа, полученные от провайдера.
// Клиентским суммам и статусам доверять нельзя.
type GatewayPayment struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      string
	Method      string
	Email       string
	Contact     string
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateOrder создаёт платёжную сессию под заказ.
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	// FetchPayment возвращает канонические данные платежа по его идентификатору.
	FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error)
	// VerifySignature локально сверяет подпись клиента над парой order|payment.
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// Shipment — созданное у перевозчика отправление.
type Shipment struct {
	ShipmentID  string
	WaybillCode string
	Courier     string
}

// ShippingCarrier описывает взаимодействие со службой доставки.
type ShippingCarrier interface {
	// CreateShipment регистрирует отправление для оплаченного заказа.
	CreateShipment(ctx context.Context, order Order) (Shipment, error)
}

// Notification — транзакционное сообщение покупателю о вехе заказа.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier отправляет транзакционные сообщения по одному каналу.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Каналы маршрутизации сообщений outbox.
const (
	// OutboxChannelEvents — события жизненного цикла заказа для шины.
	OutboxChannelEvents = "events"
	// OutboxChannelEmail — транзакционные письма.
	OutboxChannelEmail = "notify.email"
	// OutboxChannelWhatsApp — сообщения WhatsApp.
	OutboxChannelWhatsApp = "notify.whatsapp"
)

// OutboxMessage хранит данные для публикуемого события или уведомления.
type OutboxMessage struct {
	ID            string
	Channel       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует сообщения одного канала outbox.
type OutboxPublisher interface {
	// Publish передаёт сообщение наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять сообщения для последующей доставки.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
	// RequeueFailed возвращает failed-сообщения в pending для повторной доставки.
	RequeueFailed(limit int) (int, error)
}
