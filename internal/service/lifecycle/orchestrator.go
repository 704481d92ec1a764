package lifecycle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/metrics"
	"github.com/amorozov/storefront/internal/service/coupon"
)

const (
	defaultMaxPaymentAttempts = 3
	defaultPaymentTimeout     = 15 * time.Minute
	defaultOrderWindow        = 24 * time.Hour
	defaultCurrency           = "INR"
)

// Config задаёт платёжные окна и параметры доставки оркестратора.
type Config struct {
	MaxPaymentAttempts int
	// PaymentTimeout — дедлайн одной платёжной сессии и складского резерва.
	PaymentTimeout time.Duration
	// OrderWindow — окно, в течение которого по заказу можно создавать платёжные сессии.
	OrderWindow time.Duration
	Currency    string
	// ShippingFeeFlatMinor — фиксированная стоимость доставки.
	ShippingFeeFlatMinor int64
	// FreeShippingOverMinor — порог subtotal, после которого доставка бесплатна; 0 — порога нет.
	FreeShippingOverMinor int64
}

// DefaultConfig возвращает параметры жизненного цикла по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxPaymentAttempts: defaultMaxPaymentAttempts,
		PaymentTimeout:     defaultPaymentTimeout,
		OrderWindow:        defaultOrderWindow,
		Currency:           defaultCurrency,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxPaymentAttempts <= 0 {
		c.MaxPaymentAttempts = defaultMaxPaymentAttempts
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = defaultPaymentTimeout
	}
	if c.OrderWindow <= 0 {
		c.OrderWindow = defaultOrderWindow
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	return c
}

// Orchestrator проводит заказ через все законные переходы состояния:
// оформление, платёжные сессии, верификацию, отмену, возврат и webhooks.
type Orchestrator struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	carts    domain.CartRepository
	usages   domain.CouponRepository
	gateway  domain.PaymentGateway
	carrier  domain.ShippingCarrier
	outbox   domain.OutboxRepository
	coupons  *coupon.Validator

	cfg     Config
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
	now     func() time.Time
}

// Deps перечисляет зависимости оркестратора.
type Deps struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Carts    domain.CartRepository
	Usages   domain.CouponRepository
	Gateway  domain.PaymentGateway
	Carrier  domain.ShippingCarrier
	Outbox   domain.OutboxRepository
	// Coupons опционален: без него купоны корзины молча игнорируются.
	Coupons *coupon.Validator
	Logger  *log.Entry
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "lifecycle")
	}
	return &Orchestrator{
		orders:   deps.Orders,
		products: deps.Products,
		carts:    deps.Carts,
		usages:   deps.Usages,
		gateway:  deps.Gateway,
		carrier:  deps.Carrier,
		outbox:   deps.Outbox,
		coupons:  deps.Coupons,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics.NewLifecycleMetrics(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(deps Deps, cfg Config) *Orchestrator {
	o := NewOrchestrator(deps, cfg)
	o.metrics = nil
	return o
}

// Metrics отдаёт счётчики жизненного цикла: webhook-транспорт пишет в те же
// метрики, что и оркестратор. Может быть nil.
func (o *Orchestrator) Metrics() *metrics.LifecycleMetrics { return o.metrics }

// PlaceOrderInput — данные checkout, присланные покупателем.
type PlaceOrderInput struct {
	ShippingAddress       domain.Address
	BillingAddress        domain.Address
	BillingSameAsShipping bool
	PaymentMethod         domain.PaymentMethod
	CustomerEmail         string
}

// PlaceOrder материализует корзину покупателя в заказ: атомарно списывает
// остатки, снимает цены, применяет купон и очищает корзину.
func (o *Orchestrator) PlaceOrder(ctx context.Context, customerID string, input PlaceOrderInput) (domain.Order, error) {
	start := o.now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordPlaceDuration(time.Since(start))
		}
	}()

	if !input.PaymentMethod.Valid() {
		return domain.Order{}, domain.ErrPaymentMethodInvalid
	}

	cart, err := o.carts.Get(customerID)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.Empty() {
		return domain.Order{}, domain.ErrEmptyCart
	}

	items, err := o.buildItems(cart)
	if err != nil {
		return domain.Order{}, err
	}

	// Списываем остатки одним условным обновлением на позицию; при отказе
	// возвращаем уже списанное, чтобы резерв в сумме остался нулевым.
	decremented := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if err := o.products.DecrementStock(item.ProductID, item.Qty); err != nil {
			o.restockItems(decremented)
			if domain.IsInsufficientStock(err) && o.metrics != nil {
				o.metrics.RecordStockRejection()
			}
			return domain.Order{}, err
		}
		decremented = append(decremented, item)
	}

	order, usage := o.materializeOrder(customerID, cart, items, input)

	if err := o.orders.Create(order); err != nil {
		o.restockItems(decremented)
		return domain.Order{}, err
	}

	if usage != nil {
		usage.OrderID = order.ID
		if err := o.usages.RecordUsage(*usage); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to record coupon usage")
		}
	}

	if err := o.carts.Clear(customerID); err != nil {
		o.logger.WithError(err).WithField("customer_id", customerID).Warn("failed to clear cart after checkout")
	}

	if o.metrics != nil {
		o.metrics.RecordOrderPlaced()
	}
	o.emitEvent(&order, "order.created", map[string]any{
		"code":         order.Code,
		"grand_total":  order.GrandTotalMinor,
		"payment_mode": string(order.PaymentMethod),
	})
	o.enqueueNotification(&order, "order_placed")

	return order, nil
}

// Cancel отменяет заказ покупателя. Законен только до отгрузки; остатки
// возвращаются на склад всегда — единая политика для всех путей отмены.
func (o *Orchestrator) Cancel(ctx context.Context, customerID, orderID, reason string) (domain.Order, error) {
	order, err := o.orders.GetForCustomer(customerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.CanCancel() {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	if reason == "" {
		reason = "cancelled by customer"
	}
	err = o.saveWithRetry(&order, func(ord *domain.Order) error {
		if !ord.CanCancel() {
			return domain.ErrInvalidTransition
		}
		ord.Status = domain.OrderStatusCanceled
		ord.CancelledAt = o.now()
		ord.CancelReason = reason
		ord.ReservationReleased = true
		if ord.PaymentStatus == domain.PaymentStatusPending {
			ord.PaymentStatus = domain.PaymentStatusCanceled
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	// Остатки возвращаются после фиксации отмены: политика едина для всех
	// путей отмены до отгрузки.
	o.restockItems(order.Items)

	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.emitEvent(&order, "order.cancelled", map[string]any{"reason": reason})
	o.enqueueNotification(&order, "order_cancelled")

	return order, nil
}

// Return переводит доставленный заказ в статус returned.
func (o *Orchestrator) Return(ctx context.Context, customerID, orderID string) (domain.Order, error) {
	order, err := o.orders.GetForCustomer(customerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.CanReturn() {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	err = o.saveWithRetry(&order, func(ord *domain.Order) error {
		if !ord.CanReturn() {
			return domain.ErrInvalidTransition
		}
		ord.Status = domain.OrderStatusReturned
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordOrderReturned()
	}
	o.emitEvent(&order, "order.returned", nil)
	o.enqueueNotification(&order, "order_returned")

	return order, nil
}

// buildItems строит позиции заказа по живому каталогу: снимаем обе цены —
// базовую и со скидкой.
func (o *Orchestrator) buildItems(cart domain.Cart) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		if ci.Qty <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		product, err := o.products.Get(ci.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:                product.ID,
			SKU:                      product.SKU,
			Qty:                      ci.Qty,
			UnitPriceMinor:           product.PriceMinor,
			DiscountedUnitPriceMinor: product.EffectivePriceMinor(),
		})
	}
	return items, nil
}

// materializeOrder собирает документ заказа и, если купон корзины ещё
// применим, аудиторскую запись его использования.
func (o *Orchestrator) materializeOrder(customerID string, cart domain.Cart, items []domain.OrderItem, input PlaceOrderInput) (domain.Order, *domain.CouponUsage) {
	now := o.now()

	var subtotal, productDiscount int64
	for _, item := range items {
		subtotal += int64(item.Qty) * item.UnitPriceMinor
		productDiscount += int64(item.Qty) * (item.UnitPriceMinor - item.DiscountedUnitPriceMinor)
	}

	var couponDiscount int64
	var couponCode string
	var usage *domain.CouponUsage
	if cart.Coupon != nil && o.coupons != nil {
		quote, err := o.coupons.Validate(customerID, cart.Coupon.Code)
		if err != nil {
			// Ставший неприменимым купон молча отбрасывается при оформлении.
			o.logger.WithFields(log.Fields{
				"customer_id": customerID,
				"coupon":      cart.Coupon.Code,
				"reason":      err.Error(),
			}).Info("cart coupon dropped at checkout")
		} else {
			couponDiscount = quote.DiscountMinor
			couponCode = quote.Coupon.Code
			usage = &domain.CouponUsage{
				ID:            uuid.NewString(),
				CouponID:      quote.Coupon.ID,
				CustomerID:    customerID,
				DiscountMinor: quote.DiscountMinor,
				UsedAt:        now,
			}
		}
	}

	shippingFee := o.cfg.ShippingFeeFlatMinor
	if o.cfg.FreeShippingOverMinor > 0 && subtotal-productDiscount-couponDiscount >= o.cfg.FreeShippingOverMinor {
		shippingFee = 0
	}

	billing := input.BillingAddress
	if input.BillingSameAsShipping {
		billing = input.ShippingAddress
	}

	order := domain.Order{
		ID:                    uuid.NewString(),
		Code:                  newOrderCode(),
		CustomerID:            customerID,
		CustomerEmail:         input.CustomerEmail,
		Items:                 items,
		ShippingAddress:       input.ShippingAddress,
		BillingAddress:        billing,
		BillingSameAsShipping: input.BillingSameAsShipping,
		SubtotalMinor:         subtotal,
		ProductDiscountMinor:  productDiscount,
		CouponDiscountMinor:   couponDiscount,
		ShippingFeeMinor:      shippingFee,
		CouponCode:            couponCode,
		PaymentMethod:         input.PaymentMethod,
		PaymentStatus:         domain.PaymentStatusPending,
		Status:                domain.OrderStatusPending,
		Version:               0,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	order.RecomputeGrandTotal()

	// Онлайн-оплата держит складской резерв до платёжного дедлайна;
	// COD резерва по времени не требует.
	if input.PaymentMethod.Online() {
		order.ReservationExpiresAt = now.Add(o.cfg.PaymentTimeout)
	}

	return order, usage
}

func (o *Orchestrator) restockItems(items []domain.OrderItem) {
	for _, item := range items {
		if err := o.products.Restock(item.ProductID, item.Qty); err != nil {
			o.logger.WithError(err).WithField("product_id", item.ProductID).Error("restock failed")
		}
	}
}

// saveWithRetry сохраняет заказ с учётом optimistic locking: на конфликте
// версий перечитывает свежую копию и повторно применяет мутацию.
func (o *Orchestrator) saveWithRetry(order *domain.Order, mutate func(*domain.Order) error) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := mutate(order); err != nil {
			return err
		}
		order.UpdatedAt = o.now()

		err := o.orders.Save(*order)
		if err == nil {
			order.Version++
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxRetries-1 {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist order")
			return err
		}

		o.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := o.orders.Get(order.ID)
		if loadErr != nil {
			return loadErr
		}
		*order = fresh

		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return domain.ErrOrderVersionConflict
}

// emitEvent ставит событие жизненного цикла в outbox для шины событий.
func (o *Orchestrator) emitEvent(order *domain.Order, eventType string, payload map[string]any) {
	if o.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = order.ID
	payload["customer_id"] = order.CustomerID
	payload["status"] = string(order.Status)
	payload["payment_status"] = string(order.PaymentStatus)
	payload["ts"] = o.now().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	o.enqueue(domain.OutboxMessage{
		Channel:       domain.OutboxChannelEvents,
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	})
}

// enqueueNotification ставит интент уведомления в outbox; доставкой и
// повторами занимается отдельный диспетчер, провал отправки не влияет
// на исход операции заказа.
func (o *Orchestrator) enqueueNotification(order *domain.Order, template string) {
	if o.outbox == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"template":    template,
		"order_code":  order.Code,
		"recipient":   order.CustomerEmail,
		"phone":       order.ShippingAddress.Phone,
		"grand_total": order.GrandTotalMinor,
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("marshal notification failed")
		return
	}

	if order.CustomerEmail != "" {
		o.enqueue(domain.OutboxMessage{
			Channel:       domain.OutboxChannelEmail,
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     template,
			Payload:       payload,
		})
	}
	if order.ShippingAddress.Phone != "" {
		o.enqueue(domain.OutboxMessage{
			Channel:       domain.OutboxChannelWhatsApp,
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     template,
			Payload:       payload,
		})
	}
}

func (o *Orchestrator) enqueue(msg domain.OutboxMessage) {
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": msg.AggregateID,
			"event":        msg.EventType,
		}).Error("enqueue outbox message failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxMessage()
	}
}

// newOrderCode генерирует человекочитаемый код заказа.
func newOrderCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:10])
}
