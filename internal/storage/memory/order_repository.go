package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetForCustomer возвращает заказ покупателя; чужой заказ неотличим от отсутствующего.
func (r *orderRepositoryInMemory) GetForCustomer(customerID, orderID string) (domain.Order, error) {
	order, err := r.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.CustomerID != customerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// FindByCorrelation ищет заказ по waybill, shipment id или коду заказа — в этом порядке.
func (r *orderRepositoryInMemory) FindByCorrelation(waybill, shipmentID, orderCode string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lookups := []func(domain.Order) bool{
		func(o domain.Order) bool { return waybill != "" && o.WaybillCode == waybill },
		func(o domain.Order) bool { return shipmentID != "" && o.ShipmentID == shipmentID },
		func(o domain.Order) bool { return orderCode != "" && o.Code == orderCode },
	}
	for _, match := range lookups {
		for _, order := range r.items {
			if match(order) {
				return cloneOrder(order), nil
			}
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// FindByGatewayOrderID ищет заказ по идентификатору платёжной сессии.
func (r *orderRepositoryInMemory) FindByGatewayOrderID(gatewayOrderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if gatewayOrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	for _, order := range r.items {
		if order.GatewayOrderID == gatewayOrderID {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// ListByCustomer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListExpiredReservations возвращает заказы с неснятым резервом, истёкшим до before.
func (r *orderRepositoryInMemory) ListExpiredReservations(before time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if !order.HasActiveReservation() {
			continue
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			continue
		}
		if order.ReservationExpiresAt.After(before) {
			continue
		}
		result = append(result, cloneOrder(order))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// cloneOrder копирует заказ вместе со слайсами, чтобы избежать мутаций извне.
func cloneOrder(order domain.Order) domain.Order {
	clone := order
	if len(order.Items) > 0 {
		clone.Items = append([]domain.OrderItem(nil), order.Items...)
	}
	if len(order.StatusHistory) > 0 {
		clone.StatusHistory = append([]domain.TrackingEvent(nil), order.StatusHistory...)
	}
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
