package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

// Topics шины событий.
const (
	TopicOrderEvents = "storefront.order.events"
)

// OutboxTopicPublisher публикует outbox-сообщения канала событий в Kafka.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// Publish отправляет сообщение в topic; ключ — идентификатор агрегата,
// чтобы события одного заказа попадали в одну партицию.
func (p *OutboxTopicPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	envelope := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.topic, key, envelope)
}
