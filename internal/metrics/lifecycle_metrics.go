package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики жизненного цикла заказов.
type LifecycleMetrics struct {
	// Счётчики операций
	ordersPlaced      prometheus.Counter
	paymentsConfirmed prometheus.Counter
	paymentsFailed    prometheus.Counter
	ordersCancelled   prometheus.Counter
	ordersReturned    prometheus.Counter
	stockRejections   prometheus.Counter

	// Гистограммы времени выполнения
	placeDuration  prometheus.Histogram
	verifyDuration prometheus.Histogram

	// Webhook события по провайдеру и результату
	webhookEvents *prometheus.CounterVec

	// Счётчик сообщений, поставленных в outbox
	outboxMessages prometheus.Counter
}

// NewLifecycleMetrics создаёт метрики в default-регистраторе Prometheus.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders materialized from carts",
		}),
		paymentsConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_confirmed_total",
			Help: "Total number of payments confirmed as paid",
		}),
		paymentsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_failed_total",
			Help: "Total number of payments marked failed",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_cancelled_total",
			Help: "Total number of cancelled orders",
		}),
		ordersReturned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_returned_total",
			Help: "Total number of returned orders",
		}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_rejections_total",
			Help: "Total number of checkouts rejected by the atomic stock guard",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_place_order_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		verifyDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_verify_payment_duration_seconds",
			Help:    "Duration of payment verification in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Webhook events grouped by provider and outcome",
		}, []string{"provider", "result"}),
		outboxMessages: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_messages_total",
			Help: "Total number of messages enqueued into the outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *LifecycleMetrics) RecordOrderPlaced() { m.ordersPlaced.Inc() }

// RecordPaymentConfirmed увеличивает счётчик подтверждённых оплат.
func (m *LifecycleMetrics) RecordPaymentConfirmed() { m.paymentsConfirmed.Inc() }

// RecordPaymentFailed увеличивает счётчик неуспешных оплат.
func (m *LifecycleMetrics) RecordPaymentFailed() { m.paymentsFailed.Inc() }

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *LifecycleMetrics) RecordOrderCancelled() { m.ordersCancelled.Inc() }

// RecordOrderReturned увеличивает счётчик возвратов.
func (m *LifecycleMetrics) RecordOrderReturned() { m.ordersReturned.Inc() }

// RecordStockRejection увеличивает счётчик отказов атомарного списания остатка.
func (m *LifecycleMetrics) RecordStockRejection() { m.stockRejections.Inc() }

// RecordPlaceDuration записывает длительность оформления заказа.
func (m *LifecycleMetrics) RecordPlaceDuration(d time.Duration) {
	m.placeDuration.Observe(d.Seconds())
}

// RecordVerifyDuration записывает длительность верификации платежа.
func (m *LifecycleMetrics) RecordVerifyDuration(d time.Duration) {
	m.verifyDuration.Observe(d.Seconds())
}

// RecordWebhookEvent фиксирует webhook событие провайдера и его исход.
func (m *LifecycleMetrics) RecordWebhookEvent(provider, result string) {
	m.webhookEvents.WithLabelValues(provider, result).Inc()
}

// RecordOutboxMessage увеличивает счётчик сообщений outbox.
func (m *LifecycleMetrics) RecordOutboxMessage() { m.outboxMessages.Inc() }
