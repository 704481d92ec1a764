package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetForCustomer возвращает заказ покупателя; чужой заказ неотличим от отсутствующего.
	GetForCustomer(customerID, orderID string) (Order, error)
	// FindByCorrelation ищет заказ по waybill, shipment id или коду заказа — в этом порядке.
	FindByCorrelation(waybill, shipmentID, orderCode string) (Order, error)
	// FindByGatewayOrderID ищет заказ по идентификатору платёжной сессии провайдера.
	FindByGatewayOrderID(gatewayOrderID string) (Order, error)
	// ListByCustomer возвращает заказы покупателя с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// ListExpiredReservations возвращает заказы с неснятым резервом, истёкшим до before,
	// и неподтверждённой оплатой.
	ListExpiredReservations(before time.Time, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// ProductRepository описывает каталог с атомарными операциями над остатком.
type ProductRepository interface {
	Get(id string) (Product, error)
	// DecrementStock уменьшает остаток одним условным обновлением
	// (stock >= qty); при нехватке возвращает InsufficientStockError.
	DecrementStock(productID string, qty int32) error
	// Restock атомарно возвращает qty единиц на остаток.
	Restock(productID string, qty int32) error
}

// CartRepository хранит рабочие корзины покупателей.
type CartRepository interface {
	// Get возвращает корзину покупателя; отсутствие корзины — пустая корзина, не ошибка.
	Get(customerID string) (Cart, error)
	Save(cart Cart) error
	// Clear очищает корзину покупателя после оформления заказа.
	Clear(customerID string) error
}

// CouponRepository хранит купоны и аудит их применения.
type CouponRepository interface {
	// GetByCode ищет купон по нормализованному коду или возвращает ErrCouponNotFound.
	GetByCode(code string) (Coupon, error)
	// CountUsages возвращает число применений купона данным покупателем.
	CountUsages(couponID, customerID string) (int, error)
	// RecordUsage сохраняет неизменяемую запись применения.
	RecordUsage(usage CouponUsage) error
}
