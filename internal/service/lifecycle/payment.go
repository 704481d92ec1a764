package lifecycle

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// amountToleranceMinor — допуск на расхождение сумм при сверке с провайдером
// (округление на стороне шлюза).
const amountToleranceMinor = 1

// GatewaySession — платёжная сессия, возвращаемая клиенту для оплаты.
type GatewaySession struct {
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	Attempt        int
	TimeoutAt      time.Time
}

// VerifyPaymentInput — данные, присланные клиентом после оплаты у провайдера.
type VerifyPaymentInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// CreateGatewayOrder создаёт платёжную сессию у провайдера для онлайн-заказа.
func (o *Orchestrator) CreateGatewayOrder(ctx context.Context, orderID string) (GatewaySession, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return GatewaySession{}, err
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return GatewaySession{}, domain.ErrAlreadyPaid
	}
	if !order.PaymentMethod.Online() {
		return GatewaySession{}, domain.ErrPaymentMethodInvalid
	}
	if o.now().Sub(order.CreatedAt) > o.cfg.OrderWindow {
		return GatewaySession{}, domain.ErrOrderExpired
	}
	if order.PaymentAttempts >= o.cfg.MaxPaymentAttempts {
		return GatewaySession{}, domain.ErrRetryNotAllowed
	}

	gw, err := o.gateway.CreateOrder(ctx, domain.GatewayOrderRequest{
		AmountMinor: order.GrandTotalMinor,
		Currency:    o.cfg.Currency,
		Receipt:     order.Code,
		Notes: map[string]string{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		},
	})
	if err != nil {
		return GatewaySession{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	now := o.now()
	deadline := now.Add(o.cfg.PaymentTimeout)
	err = o.saveWithRetry(&order, func(ord *domain.Order) error {
		if ord.PaymentStatus == domain.PaymentStatusPaid {
			return domain.ErrAlreadyPaid
		}
		ord.GatewayOrderID = gw.ID
		ord.PaymentAttempts++
		ord.LastAttemptAt = now
		ord.PaymentTimeoutAt = deadline
		// Резерв живёт до платёжного дедлайна.
		ord.ReservationExpiresAt = deadline
		ord.ReservationReleased = false
		return nil
	})
	if err != nil {
		return GatewaySession{}, err
	}

	return GatewaySession{
		GatewayOrderID: gw.ID,
		AmountMinor:    gw.AmountMinor,
		Currency:       gw.Currency,
		Attempt:        order.PaymentAttempts,
		TimeoutAt:      deadline,
	}, nil
}

// VerifyPayment сверяет клиентскую подпись с локально вычисленной и,
// не доверяя клиентским суммам, подтверждает платёж каноническими данными
// провайдера. Несовпадение подписи закрывает платёж как failed; заказ
// гаснет следом, только если попыток больше не осталось.
func (o *Orchestrator) VerifyPayment(ctx context.Context, orderID string, input VerifyPaymentInput) (domain.Order, error) {
	start := o.now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordVerifyDuration(time.Since(start))
		}
	}()

	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	// Оплаченный заказ: повторная верификация идемпотентна.
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}

	if !o.gateway.VerifySignature(input.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		o.failPayment(&order, "payment signature mismatch")
		return domain.Order{}, domain.ErrSignatureMismatch
	}

	payment, err := o.gateway.FetchPayment(ctx, input.GatewayPaymentID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if payment.OrderID != order.GatewayOrderID {
		o.failPayment(&order, "gateway order id mismatch")
		return domain.Order{}, domain.ErrSignatureMismatch
	}
	if diff := payment.AmountMinor - order.GrandTotalMinor; diff > amountToleranceMinor || diff < -amountToleranceMinor {
		o.failPayment(&order, "payment amount mismatch")
		return domain.Order{}, domain.ErrPaymentAmountMismatch
	}

	if err := o.markPaid(ctx, &order, input.GatewayPaymentID, input.Signature); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// RetryPayment повторяет платёжную попытку в рамках лимита и дедлайна.
// Остатки перепроверяются: за время простоя резерв мог быть снят и распродан.
func (o *Orchestrator) RetryPayment(ctx context.Context, orderID string) (GatewaySession, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return GatewaySession{}, err
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return GatewaySession{}, domain.ErrAlreadyPaid
	}
	if !order.PaymentMethod.Online() {
		return GatewaySession{}, domain.ErrPaymentMethodInvalid
	}
	if !o.retryAllowed(&order) {
		return GatewaySession{}, domain.ErrRetryNotAllowed
	}

	if err := o.validateStockForRetry(&order); err != nil {
		return GatewaySession{}, err
	}

	return o.CreateGatewayOrder(ctx, orderID)
}

// retryAllowed сообщает, осталась ли у заказа законная платёжная попытка:
// лимит не исчерпан и дедлайн последней сессии ещё не прошёл.
func (o *Orchestrator) retryAllowed(order *domain.Order) bool {
	if order.PaymentAttempts >= o.cfg.MaxPaymentAttempts {
		return false
	}
	if !order.PaymentTimeoutAt.IsZero() && o.now().After(order.PaymentTimeoutAt) {
		return false
	}
	return true
}

// validateStockForRetry гарантирует, что позиции заказа всё ещё обеспечены
// остатком. Если резерв был снят sweep'ом, остатки списываются заново и
// резерв перевзводится.
func (o *Orchestrator) validateStockForRetry(order *domain.Order) error {
	if order.HasActiveReservation() {
		return nil
	}

	decremented := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if err := o.products.DecrementStock(item.ProductID, item.Qty); err != nil {
			o.restockItems(decremented)
			return err
		}
		decremented = append(decremented, item)
	}

	return o.saveWithRetry(order, func(ord *domain.Order) error {
		ord.ReservationExpiresAt = o.now().Add(o.cfg.PaymentTimeout)
		ord.ReservationReleased = false
		return nil
	})
}

// markPaid выполняет односторонний переход в paid/processing, гасит резерв
// и запускает best-effort создание отправления у перевозчика. Заказ,
// погашенный в failed исчерпанными попытками, оплата воскрешает: деньги
// списаны, заказ обязан поехать дальше.
func (o *Orchestrator) markPaid(ctx context.Context, order *domain.Order, gatewayPaymentID, signature string) error {
	err := o.saveWithRetry(order, func(ord *domain.Order) error {
		if ord.PaymentStatus == domain.PaymentStatusPaid {
			return nil
		}
		ord.PaymentStatus = domain.PaymentStatusPaid
		if ord.Status == domain.OrderStatusFailed || ord.CanAdvanceTo(domain.OrderStatusProcessing) {
			ord.Status = domain.OrderStatusProcessing
		}
		ord.GatewayPaymentID = gatewayPaymentID
		if signature != "" {
			ord.GatewaySignature = signature
		}
		// Резерв погашен продажей: остатки не возвращаются.
		ord.ReservationReleased = true
		return nil
	})
	if err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordPaymentConfirmed()
	}
	o.emitEvent(order, "payment.confirmed", map[string]any{
		"gateway_payment_id": gatewayPaymentID,
	})
	o.enqueueNotification(order, "payment_confirmed")

	o.createShipment(ctx, order)

	return nil
}

// createShipment создаёт отправление у перевозчика. Ошибка перевозчика
// логируется и проглатывается: она не должна провалить подтверждение оплаты.
func (o *Orchestrator) createShipment(ctx context.Context, order *domain.Order) {
	if o.carrier == nil {
		return
	}

	shipment, err := o.carrier.CreateShipment(ctx, *order)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("carrier shipment creation failed")
		return
	}

	err = o.saveWithRetry(order, func(ord *domain.Order) error {
		ord.ShipmentID = shipment.ShipmentID
		ord.WaybillCode = shipment.WaybillCode
		return nil
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to persist shipment ids")
		return
	}

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"awb":      shipment.WaybillCode,
		"courier":  shipment.Courier,
	}).Info("carrier shipment created")
}

// failPayment закрывает платёж как failed. Пока retry ещё законен, заказ
// остаётся pending: терминальный failed сделал бы успешную повторную
// верификацию невозможной. Статус гаснет только когда попытки исчерпаны
// или дедлайн прошёл, и только из pending.
func (o *Orchestrator) failPayment(order *domain.Order, reason string) {
	err := o.saveWithRetry(order, func(ord *domain.Order) error {
		if ord.PaymentStatus == domain.PaymentStatusPaid {
			return domain.ErrAlreadyPaid
		}
		ord.PaymentStatus = domain.PaymentStatusFailed
		if ord.Status == domain.OrderStatusPending && !o.retryAllowed(ord) {
			ord.Status = domain.OrderStatusFailed
		}
		return nil
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist payment failure")
		return
	}

	if o.metrics != nil {
		o.metrics.RecordPaymentFailed()
	}
	o.emitEvent(order, "payment.failed", map[string]any{"reason": reason})

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Warn("payment verification failed closed")
}
