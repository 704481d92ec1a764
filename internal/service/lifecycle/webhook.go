package lifecycle

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// CarrierStatusUpdate — разобранный на границе webhook перевозчика.
type CarrierStatusUpdate struct {
	Waybill    string
	ShipmentID string
	OrderCode  string
	Status     string
	Courier    string
	// Scans — история сканирований, самые свежие первыми.
	Scans []domain.TrackingEvent
}

// carrierStatusMap переводит свободный текст перевозчика во внутренний статус.
// Неизвестный статус оставляет заказ без изменений.
var carrierStatusMap = map[string]domain.OrderStatus{
	"picked":           domain.OrderStatusShipped,
	"picked up":        domain.OrderStatusShipped,
	"shipped":          domain.OrderStatusShipped,
	"in transit":       domain.OrderStatusShipped,
	"out for delivery": domain.OrderStatusShipped,
	"delivered":        domain.OrderStatusDelivered,
}

// mapCarrierStatus нормализует статус перевозчика; rto-статусы означают возврат.
func mapCarrierStatus(raw string) (domain.OrderStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(normalized, "rto") {
		return domain.OrderStatusReturned, true
	}
	status, ok := carrierStatusMap[normalized]
	return status, ok
}

// ApplyCarrierStatus применяет webhook перевозчика: ищет заказ по трём
// корреляционным идентификаторам, двигает статус только вперёд и дописывает
// историю сканирований. Терминальные статусы никогда не откатываются.
// Ошибка возвращается для логирования; транспорт всё равно отвечает 200.
func (o *Orchestrator) ApplyCarrierStatus(ctx context.Context, update CarrierStatusUpdate) error {
	order, err := o.orders.FindByCorrelation(update.Waybill, update.ShipmentID, update.OrderCode)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("carrier", "order_not_found")
		}
		o.logger.WithFields(log.Fields{
			"awb":         update.Waybill,
			"shipment_id": update.ShipmentID,
			"order_code":  update.OrderCode,
		}).Warn("carrier webhook for unknown order")
		return err
	}

	mapped, recognized := mapCarrierStatus(update.Status)

	err = o.saveWithRetry(&order, func(ord *domain.Order) error {
		if update.Waybill != "" && ord.WaybillCode == "" {
			ord.WaybillCode = update.Waybill
		}
		ord.PrependTracking(update.Scans...)

		if !recognized || !ord.CanAdvanceTo(mapped) {
			return nil
		}
		ord.Status = mapped

		// COD: деньги физически собраны при вручении.
		if mapped == domain.OrderStatusDelivered &&
			ord.PaymentMethod == domain.PaymentMethodCOD &&
			ord.PaymentStatus != domain.PaymentStatusPaid {
			ord.PaymentStatus = domain.PaymentStatusCOD
		}
		return nil
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("carrier", "save_failed")
		}
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordWebhookEvent("carrier", "applied")
	}
	if recognized && order.Status == mapped {
		o.emitEvent(&order, "shipment."+string(mapped), map[string]any{"awb": order.WaybillCode})
		if mapped == domain.OrderStatusDelivered {
			o.enqueueNotification(&order, "order_delivered")
		}
	}

	return nil
}

// GatewayEvent — разобранное на границе webhook событие платёжного провайдера.
type GatewayEvent struct {
	Name             string
	EventID          string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountMinor      int64
	CustomerEmail    string
}

// statusPair — целевые статусы оплаты и заказа для события провайдера.
type statusPair struct {
	payment domain.PaymentStatus
	order   domain.OrderStatus
}

// gatewayEventMap переводит имя события провайдера в целевую пару статусов.
var gatewayEventMap = map[string]statusPair{
	"payment.captured":  {domain.PaymentStatusPaid, domain.OrderStatusProcessing},
	"order.paid":        {domain.PaymentStatusPaid, domain.OrderStatusProcessing},
	"payment.failed":    {domain.PaymentStatusFailed, domain.OrderStatusFailed},
	"payment.cancelled": {domain.PaymentStatusCanceled, domain.OrderStatusCanceled},
}

// ApplyGatewayEvent применяет webhook платёжного провайдера. Payload
// сверяется с сохранённой сессией; расхождение логируется для ручного
// разбора, но обработку не прерывает. Статус paid необратим при любой
// последовательности событий.
func (o *Orchestrator) ApplyGatewayEvent(ctx context.Context, event GatewayEvent) error {
	pair, ok := gatewayEventMap[event.Name]
	if !ok {
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("gateway", "ignored")
		}
		o.logger.WithField("event", event.Name).Debug("gateway event ignored")
		return nil
	}

	order, err := o.orders.FindByGatewayOrderID(event.GatewayOrderID)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("gateway", "order_not_found")
		}
		o.logger.WithFields(log.Fields{
			"event":            event.Name,
			"gateway_order_id": event.GatewayOrderID,
		}).Warn("gateway webhook for unknown order")
		return err
	}

	o.checkEventIntegrity(&order, event)

	switch pair.payment {
	case domain.PaymentStatusPaid:
		if order.PaymentStatus == domain.PaymentStatusPaid {
			if o.metrics != nil {
				o.metrics.RecordWebhookEvent("gateway", "duplicate")
			}
			return nil
		}
		err = o.markPaid(ctx, &order, event.GatewayPaymentID, "")
	case domain.PaymentStatusFailed:
		if order.PaymentStatus == domain.PaymentStatusPaid {
			err = o.blockPaidRegression(&order, event)
			break
		}
		o.failPayment(&order, "gateway reported failure")
	case domain.PaymentStatusCanceled:
		if order.PaymentStatus == domain.PaymentStatusPaid {
			err = o.blockPaidRegression(&order, event)
			break
		}
		err = o.cancelFromGateway(&order)
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("gateway", "save_failed")
		}
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordWebhookEvent("gateway", "applied")
	}
	return nil
}

// checkEventIntegrity сверяет payload события с сохранённой платёжной
// сессией: сумма (с допуском на округление) и получатель. Расхождение —
// сигнал безопасности, заказ помечается для ручного разбора.
func (o *Orchestrator) checkEventIntegrity(order *domain.Order, event GatewayEvent) {
	fields := log.Fields{
		"order_id": order.ID,
		"event":    event.Name,
	}

	if event.AmountMinor != 0 {
		if diff := event.AmountMinor - order.GrandTotalMinor; diff > amountToleranceMinor || diff < -amountToleranceMinor {
			fields["event_amount"] = event.AmountMinor
			fields["order_amount"] = order.GrandTotalMinor
			o.logger.WithFields(fields).Error("gateway event amount mismatch, flagged for manual review")
			if o.metrics != nil {
				o.metrics.RecordWebhookEvent("gateway", "integrity_mismatch")
			}
			return
		}
	}
	if event.CustomerEmail != "" && order.CustomerEmail != "" && !strings.EqualFold(event.CustomerEmail, order.CustomerEmail) {
		o.logger.WithFields(fields).Error("gateway event customer mismatch, flagged for manual review")
		if o.metrics != nil {
			o.metrics.RecordWebhookEvent("gateway", "integrity_mismatch")
		}
	}
}

// cancelFromGateway гасит платёжную сессию: заказ отменяется, только если
// это ещё законно, остатки возвращаются по единой политике.
func (o *Orchestrator) cancelFromGateway(order *domain.Order) error {
	canCancel := order.CanCancel()
	err := o.saveWithRetry(order, func(ord *domain.Order) error {
		if ord.PaymentStatus == domain.PaymentStatusPaid {
			return domain.ErrAlreadyPaid
		}
		ord.PaymentStatus = domain.PaymentStatusCanceled
		if ord.CanCancel() {
			ord.Status = domain.OrderStatusCanceled
			ord.CancelledAt = o.now()
			ord.CancelReason = "payment cancelled by gateway"
			ord.ReservationReleased = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyPaid) {
			return nil
		}
		return err
	}

	if canCancel {
		o.restockItems(order.Items)
		if o.metrics != nil {
			o.metrics.RecordOrderCancelled()
		}
		o.emitEvent(order, "order.cancelled", map[string]any{"reason": "payment cancelled by gateway"})
	}
	return nil
}

// blockPaidRegression фиксирует попытку отката оплаченного заказа; состояние
// не меняется, событие только логируется.
func (o *Orchestrator) blockPaidRegression(order *domain.Order, event GatewayEvent) error {
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    event.Name,
	}).Warn("gateway event would regress paid order, ignored")
	if o.metrics != nil {
		o.metrics.RecordWebhookEvent("gateway", "paid_regression_blocked")
	}
	return nil
}
