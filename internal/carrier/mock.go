package carrier

import (
	"context"
	"fmt"
	"sync"

	"github.com/amorozov/storefront/internal/domain"
)

// MockCarrier — конфигурируемая заглушка ShippingCarrier для тестов и
// dev-режима без учётных данных перевозчика.
type MockCarrier struct {
	mu sync.Mutex

	CreateErr   error
	Courier     string
	CreateCalls int
}

// NewMockCarrier возвращает mock с успешным сценарием по умолчанию.
func NewMockCarrier() *MockCarrier {
	return &MockCarrier{Courier: "Mock Express"}
}

// CreateShipment выдаёт отправление с детерминированными идентификаторами.
func (m *MockCarrier) CreateShipment(_ context.Context, order domain.Order) (domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return domain.Shipment{}, m.CreateErr
	}
	return domain.Shipment{
		ShipmentID:  fmt.Sprintf("ship_mock_%d", m.CreateCalls),
		WaybillCode: fmt.Sprintf("AWB%06d", m.CreateCalls),
		Courier:     m.Courier,
	}, nil
}

var _ domain.ShippingCarrier = (*MockCarrier)(nil)
