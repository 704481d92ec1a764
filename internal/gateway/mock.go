package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/amorozov/storefront/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов и
// dev-режима без учётных данных провайдера.
type MockGateway struct {
	mu sync.Mutex

	CreateErr      error
	FetchErr       error
	SignatureValid bool
	PaymentStatus  string
	PaymentMethod  string

	CreateCalls int
	FetchCalls  int

	lastOrder domain.GatewayOrder
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		SignatureValid: true,
		PaymentStatus:  "captured",
		PaymentMethod:  "card",
	}
}

// CreateOrder выдаёт платёжную сессию с детерминированным идентификатором.
func (m *MockGateway) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return domain.GatewayOrder{}, m.CreateErr
	}
	order := domain.GatewayOrder{
		ID:          fmt.Sprintf("order_mock_%d", m.CreateCalls),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      "created",
	}
	m.lastOrder = order
	return order, nil
}

// FetchPayment возвращает платёж с настроенным статусом и суммой
// последней созданной сессии.
func (m *MockGateway) FetchPayment(_ context.Context, paymentID string) (domain.GatewayPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++
	if m.FetchErr != nil {
		return domain.GatewayPayment{}, m.FetchErr
	}
	return domain.GatewayPayment{
		ID:          paymentID,
		OrderID:     m.lastOrder.ID,
		AmountMinor: m.lastOrder.AmountMinor,
		Currency:    m.lastOrder.Currency,
		Status:      m.PaymentStatus,
		Method:      m.PaymentMethod,
	}, nil
}

// VerifySignature возвращает настроенный результат.
func (m *MockGateway) VerifySignature(_, _, _ string) bool {
	return m.SignatureValid
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
