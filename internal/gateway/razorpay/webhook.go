package razorpay

import (
	"encoding/json"
	"fmt"
)

// WebhookEvent — типизированное webhook-событие провайдера после
// разбора сырого тела. Дальше границы транспорта сырой JSON не уходит.
type WebhookEvent struct {
	Name             string
	EventID          string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountMinor      int64
	Email            string
	Contact          string
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	EventID string `json:"event_id"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
				Email   string `json:"email"`
				Contact string `json:"contact"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook разбирает сырое тело webhook в типизированное событие.
// Подпись тела проверяется отдельно, до разбора.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook body: %w", err)
	}
	if envelope.Event == "" {
		return WebhookEvent{}, fmt.Errorf("webhook body has no event name")
	}

	event := WebhookEvent{
		Name:             envelope.Event,
		EventID:          envelope.EventID,
		GatewayOrderID:   envelope.Payload.Payment.Entity.OrderID,
		GatewayPaymentID: envelope.Payload.Payment.Entity.ID,
		AmountMinor:      envelope.Payload.Payment.Entity.Amount,
		Email:            envelope.Payload.Payment.Entity.Email,
		Contact:          envelope.Payload.Payment.Entity.Contact,
	}
	// order.paid несёт сумму в order-сущности, платёжной может не быть.
	if event.GatewayOrderID == "" {
		event.GatewayOrderID = envelope.Payload.Order.Entity.ID
	}
	if event.AmountMinor == 0 {
		event.AmountMinor = envelope.Payload.Order.Entity.Amount
	}
	return event, nil
}
