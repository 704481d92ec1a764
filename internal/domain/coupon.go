package domain

import "time"

// CouponType определяет правило вычисления скидки.
type CouponType string

const (
	// CouponTypeFlat — фиксированная сумма скидки.
	CouponTypeFlat CouponType = "flat"
	// CouponTypePercent — процент от применимой суммы.
	CouponTypePercent CouponType = "percent"
	// CouponTypePercentCapped — процент с верхней границей скидки.
	CouponTypePercentCapped CouponType = "percent_capped"
)

// Coupon задаёт правило скидки и условия применимости.
type Coupon struct {
	ID   string
	Code string
	Type CouponType
	// ValueMinor — сумма для flat-купона.
	ValueMinor int64
	// Percent — процент для percent-купонов.
	Percent int
	// MaxDiscountMinor — потолок скидки для percent_capped.
	MaxDiscountMinor int64
	// MinOrderMinor — минимальная применимая сумма корзины.
	MinOrderMinor int64
	// CategoryIDs ограничивает купон категориями; пустой список — глобальный купон.
	CategoryIDs []string
	// UserUsageLimit — персональный лимит применений; 0 — без лимита.
	UserUsageLimit int
	Active         bool
	StartsAt       time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Global сообщает, действует ли купон на весь каталог.
func (c *Coupon) Global() bool {
	return len(c.CategoryIDs) == 0
}

// AppliesToCategory проверяет, входит ли категория в allow-list купона.
func (c *Coupon) AppliesToCategory(categoryID string) bool {
	if c.Global() {
		return true
	}
	for _, id := range c.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// WindowState описывает положение момента времени относительно окна действия купона.
func (c *Coupon) WindowState(now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	if !c.StartsAt.IsZero() && now.Before(c.StartsAt) {
		return ErrCouponNotYetActive
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return ErrCouponExpired
	}
	return nil
}

// DiscountFor вычисляет скидку для применимой суммы. Скидка никогда не
// превышает саму применимую сумму.
func (c *Coupon) DiscountFor(applicableMinor int64) int64 {
	var discount int64
	switch c.Type {
	case CouponTypeFlat:
		discount = c.ValueMinor
	case CouponTypePercent:
		discount = applicableMinor * int64(c.Percent) / 100
	case CouponTypePercentCapped:
		discount = applicableMinor * int64(c.Percent) / 100
		if c.MaxDiscountMinor > 0 && discount > c.MaxDiscountMinor {
			discount = c.MaxDiscountMinor
		}
	}
	if discount > applicableMinor {
		discount = applicableMinor
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// CouponUsage — неизменяемая аудиторская запись применения купона к заказу.
type CouponUsage struct {
	ID            string
	CouponID      string
	CustomerID    string
	OrderID       string
	DiscountMinor int64
	UsedAt        time.Time
}
