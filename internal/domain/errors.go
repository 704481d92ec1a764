package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия subtotal и сумм позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка несоответствия товарной скидки и позиций.
	ErrProductDiscountMismatch = errors.New("product discount does not match items")
	// Ошибка нарушения денежного инварианта: grand = subtotal - скидки + доставка.
	ErrGrandTotalMismatch = errors.New("grand total does not satisfy order money invariant")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("unsupported payment method")

	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому покупателю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductNotFound возвращается при неизвестном товаре.
	ErrProductNotFound = errors.New("product not found")
	// ErrCartNotFound возвращается при отсутствии корзины покупателя.
	ErrCartNotFound = errors.New("cart not found")

	// ErrEmptyCart — оформление заказа из пустой корзины запрещено.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAlreadyPaid — операция запрещена для уже оплаченного заказа.
	ErrAlreadyPaid = errors.New("order is already paid")
	// ErrOrderExpired — с момента создания заказа прошло больше платёжного окна.
	ErrOrderExpired = errors.New("order payment window expired")
	// ErrSignatureMismatch — подпись провайдера не совпала с локально вычисленной.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrRetryNotAllowed — повтор оплаты запрещён (лимит попыток или истёкший дедлайн).
	ErrRetryNotAllowed = errors.New("payment retry is not allowed")
	// ErrInvalidTransition — запрошенный переход статуса незаконен.
	ErrInvalidTransition = errors.New("illegal order status transition")
	// ErrPaymentAmountMismatch — сумма у провайдера не совпала с итогом заказа.
	ErrPaymentAmountMismatch = errors.New("payment amount does not match order total")

	// ErrCouponNotFound возвращается при неизвестном коде купона.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponInactive — купон выключен администратором.
	ErrCouponInactive = errors.New("coupon is inactive")
	// ErrCouponNotYetActive — окно действия купона ещё не началось.
	ErrCouponNotYetActive = errors.New("coupon is not active yet")
	// ErrCouponExpired — окно действия купона закончилось.
	ErrCouponExpired = errors.New("coupon has expired")
	// ErrCouponUsageLimit — исчерпан персональный лимит применений.
	ErrCouponUsageLimit = errors.New("coupon usage limit exceeded")
	// ErrCouponMinimumOrder — применимая сумма меньше минимума купона.
	ErrCouponMinimumOrder = errors.New("minimum order amount not met")
	// ErrCouponNotApplicable — вычисленная скидка равна нулю.
	ErrCouponNotApplicable = errors.New("coupon is not applicable to this cart")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrGatewayUnavailable — платёжный провайдер недоступен или ответил ошибкой.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrCarrierUnavailable — служба доставки недоступна или ответила ошибкой.
	ErrCarrierUnavailable = errors.New("shipping carrier unavailable")
)

// InsufficientStockError называет товар, по которому не хватило остатка.
type InsufficientStockError struct {
	ProductID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, является ли ошибка отсутствием сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}
