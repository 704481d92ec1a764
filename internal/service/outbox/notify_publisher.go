package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// RecipientField выбирает поле payload с адресатом канала.
type RecipientField string

const (
	// RecipientEmail — почтовый адрес покупателя.
	RecipientEmail RecipientField = "recipient"
	// RecipientPhone — телефон из адреса доставки.
	RecipientPhone RecipientField = "phone"
)

// notifyPayload — интент уведомления, сохранённый в outbox оркестратором.
type notifyPayload struct {
	Template   string `json:"template"`
	OrderCode  string `json:"order_code"`
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	GrandTotal int64  `json:"grand_total"`
}

// NotifierPublisher доставляет интенты уведомлений из outbox через
// Notifier одного канала, рендеря шаблон в тему и текст.
type NotifierPublisher struct {
	notifier  domain.Notifier
	recipient RecipientField
	logger    *log.Entry
}

var _ domain.OutboxPublisher = (*NotifierPublisher)(nil)

// NewNotifierPublisher создаёт publisher канала уведомлений.
func NewNotifierPublisher(notifier domain.Notifier, recipient RecipientField, logger *log.Entry) *NotifierPublisher {
	if logger == nil {
		logger = log.WithField("component", "notify-publisher")
	}
	return &NotifierPublisher{notifier: notifier, recipient: recipient, logger: logger}
}

// Publish разбирает интент и отправляет уведомление адресату канала.
// Интент без адресата считается доставленным: повтор его не исправит.
func (p *NotifierPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	var payload notifyPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode notification payload: %v", domain.ErrOutboxPublish, err)
	}

	recipient := payload.Recipient
	if p.recipient == RecipientPhone {
		recipient = payload.Phone
	}
	if recipient == "" {
		p.logger.WithFields(log.Fields{
			"outbox_id": msg.ID,
			"template":  payload.Template,
		}).Warn("notification intent has no recipient, skipping")
		return nil
	}

	subject, body := renderTemplate(payload)
	return p.notifier.Send(ctx, domain.Notification{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
}

// renderTemplate собирает тему и текст по имени шаблона. Суммы
// форматируются в главных единицах.
func renderTemplate(payload notifyPayload) (subject, body string) {
	total := fmt.Sprintf("%d.%02d", payload.GrandTotal/100, payload.GrandTotal%100)

	switch payload.Template {
	case "order_placed":
		return fmt.Sprintf("Order %s confirmed", payload.OrderCode),
			fmt.Sprintf("Thank you for your order %s. Total: %s. We will notify you once it ships.", payload.OrderCode, total)
	case "payment_confirmed":
		return fmt.Sprintf("Payment received for order %s", payload.OrderCode),
			fmt.Sprintf("We received your payment of %s for order %s. Your order is being prepared.", total, payload.OrderCode)
	case "payment_failed":
		return fmt.Sprintf("Payment failed for order %s", payload.OrderCode),
			fmt.Sprintf("Your payment for order %s could not be completed. You can retry from your orders page.", payload.OrderCode)
	case "order_cancelled":
		return fmt.Sprintf("Order %s cancelled", payload.OrderCode),
			fmt.Sprintf("Your order %s has been cancelled. Any held amount will be released shortly.", payload.OrderCode)
	case "order_delivered":
		return fmt.Sprintf("Order %s delivered", payload.OrderCode),
			fmt.Sprintf("Your order %s has been delivered. We hope you enjoy it.", payload.OrderCode)
	case "order_returned":
		return fmt.Sprintf("Return registered for order %s", payload.OrderCode),
			fmt.Sprintf("We registered the return for order %s. Refund processing will follow.", payload.OrderCode)
	default:
		return fmt.Sprintf("Update on order %s", payload.OrderCode),
			fmt.Sprintf("There is an update on your order %s.", payload.OrderCode)
	}
}
