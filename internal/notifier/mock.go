package notifier

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// MockNotifier — заглушка Notifier: пишет сообщения в лог и запоминает их.
type MockNotifier struct {
	mu sync.Mutex

	SendErr error
	Sent    []domain.Notification

	logger *log.Entry
}

// NewMockNotifier возвращает mock с успешной отправкой по умолчанию.
func NewMockNotifier(logger *log.Entry) *MockNotifier {
	if logger == nil {
		logger = log.WithField("component", "mock-notifier")
	}
	return &MockNotifier{logger: logger}
}

// Send логирует сообщение и сохраняет его для проверок в тестах.
func (m *MockNotifier) Send(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, n)
	m.logger.WithFields(log.Fields{
		"recipient": n.Recipient,
		"subject":   n.Subject,
	}).Info("mock notification delivered")
	return nil
}

var _ domain.Notifier = (*MockNotifier)(nil)
