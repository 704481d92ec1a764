package domain

import "time"

// CartItem — позиция рабочей корзины покупателя.
type CartItem struct {
	ProductID string
	Qty       int32
	// PriceAtAddMinor — цена на момент добавления; справочная, итоги считаются по каталогу.
	PriceAtAddMinor int64
	AddedAt         time.Time
}

// AppliedCoupon — снимок применённого к корзине купона.
type AppliedCoupon struct {
	Code          string
	DiscountMinor int64
	AppliedAt     time.Time
}

// Cart — рабочая корзина; одна на покупателя.
type Cart struct {
	CustomerID string
	Items      []CartItem
	// Coupon хранит применённый купон; nil — купона нет. Переоценивается при каждом чтении.
	Coupon    *AppliedCoupon
	UpdatedAt time.Time
}

// Empty сообщает, пуста ли корзина.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// FindItem возвращает индекс позиции по товару или -1.
func (c *Cart) FindItem(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}
