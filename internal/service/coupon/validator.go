package coupon

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

// Quote — результат проверки купона против текущей корзины покупателя.
type Quote struct {
	Coupon domain.Coupon
	// ApplicableMinor — часть subtotal, на которую распространяется купон.
	ApplicableMinor int64
	SubtotalMinor   int64
	DiscountMinor   int64
	// NewTotalMinor — subtotal за вычетом скидки купона (без доставки).
	NewTotalMinor int64
}

// Validator решает, применим ли купон к корзине покупателя, и считает скидку.
type Validator struct {
	coupons  domain.CouponRepository
	products domain.ProductRepository
	carts    domain.CartRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewValidator создаёт валидатор купонов.
func NewValidator(
	coupons domain.CouponRepository,
	products domain.ProductRepository,
	carts domain.CartRepository,
	logger *log.Entry,
) *Validator {
	if logger == nil {
		logger = log.WithField("component", "coupon-validator")
	}
	return &Validator{
		coupons:  coupons,
		products: products,
		carts:    carts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// line — одна позиция корзины, сведённая к категории и применимой сумме.
type line struct {
	categoryID  string
	amountMinor int64
}

// Validate проверяет купон против текущей корзины покупателя. Для одинаковых
// входных данных результат детерминирован.
func (v *Validator) Validate(customerID, code string) (Quote, error) {
	cart, err := v.carts.Get(customerID)
	if err != nil {
		return Quote{}, err
	}

	lines, err := v.cartLines(cart)
	if err != nil {
		return Quote{}, err
	}

	return v.validateLines(customerID, code, lines)
}

// Apply валидирует купон и сохраняет его снимок на корзине.
func (v *Validator) Apply(customerID, code string) (Quote, error) {
	quote, err := v.Validate(customerID, code)
	if err != nil {
		return Quote{}, err
	}

	cart, err := v.carts.Get(customerID)
	if err != nil {
		return Quote{}, err
	}
	cart.Coupon = &domain.AppliedCoupon{
		Code:          quote.Coupon.Code,
		DiscountMinor: quote.DiscountMinor,
		AppliedAt:     v.now(),
	}
	if err := v.carts.Save(cart); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// Revalidate переоценивает купон на корзине после мутации. Ставший
// неприменимым купон молча снимается; это не ошибка для вызывающего кода.
// Возвращает true, если купон был снят или его скидка пересчитана.
func (v *Validator) Revalidate(cart *domain.Cart) bool {
	if cart == nil || cart.Coupon == nil {
		return false
	}

	lines, err := v.cartLines(*cart)
	if err != nil {
		v.logger.WithError(err).WithField("customer_id", cart.CustomerID).Warn("coupon revalidation failed, dropping coupon")
		cart.Coupon = nil
		return true
	}

	quote, err := v.validateLines(cart.CustomerID, cart.Coupon.Code, lines)
	if err != nil {
		v.logger.WithFields(log.Fields{
			"customer_id": cart.CustomerID,
			"coupon":      cart.Coupon.Code,
			"reason":      err.Error(),
		}).Info("coupon no longer eligible, dropped from cart")
		cart.Coupon = nil
		return true
	}
	if cart.Coupon.DiscountMinor != quote.DiscountMinor {
		cart.Coupon.DiscountMinor = quote.DiscountMinor
		return true
	}
	return false
}

func (v *Validator) cartLines(cart domain.Cart) ([]line, error) {
	lines := make([]line, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, err := v.products.Get(item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line{
			categoryID:  product.CategoryID,
			amountMinor: int64(item.Qty) * product.EffectivePriceMinor(),
		})
	}
	return lines, nil
}

func (v *Validator) validateLines(customerID, code string, lines []line) (Quote, error) {
	coupon, err := v.coupons.GetByCode(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Quote{}, err
	}

	if err := coupon.WindowState(v.now()); err != nil {
		return Quote{}, err
	}

	if coupon.UserUsageLimit > 0 {
		used, err := v.coupons.CountUsages(coupon.ID, customerID)
		if err != nil {
			return Quote{}, err
		}
		if used >= coupon.UserUsageLimit {
			return Quote{}, domain.ErrCouponUsageLimit
		}
	}

	var subtotal, applicable int64
	for _, l := range lines {
		subtotal += l.amountMinor
		if coupon.AppliesToCategory(l.categoryID) {
			applicable += l.amountMinor
		}
	}

	if applicable < coupon.MinOrderMinor {
		return Quote{}, domain.ErrCouponMinimumOrder
	}

	discount := coupon.DiscountFor(applicable)
	if discount == 0 {
		return Quote{}, domain.ErrCouponNotApplicable
	}

	return Quote{
		Coupon:          coupon,
		ApplicableMinor: applicable,
		SubtotalMinor:   subtotal,
		DiscountMinor:   discount,
		NewTotalMinor:   subtotal - discount,
	}, nil
}
