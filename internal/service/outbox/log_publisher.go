package outbox

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// LogPublisher пишет сообщения в лог вместо внешней шины. Используется в
// dev-режиме без Kafka, чтобы события не копились в outbox как failed.
type LogPublisher struct {
	logger *log.Entry
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)

// NewLogPublisher создаёт publisher, считающий доставкой запись в лог.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish логирует событие и подтверждает доставку.
func (p *LogPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"id":         msg.ID,
		"channel":    msg.Channel,
		"event_type": msg.EventType,
	}).Info("outbox event delivered to log")
	return nil
}
