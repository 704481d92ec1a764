package cart

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/service/coupon"
)

// Totals — расчётные итоги корзины по актуальным каталожным ценам.
type Totals struct {
	SubtotalMinor        int64
	ProductDiscountMinor int64
	CouponDiscountMinor  int64
	GrandTotalMinor      int64
}

// View — корзина вместе с пересчитанными итогами.
type View struct {
	Cart   domain.Cart
	Totals Totals
}

// Service управляет корзиной покупателя: позиции, количества и
// перепроверка применённого купона после каждой мутации.
type Service struct {
	carts    domain.CartRepository
	products domain.ProductRepository
	coupons  *coupon.Validator

	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис корзины. Validator может быть nil, тогда
// перепроверка купона пропускается.
func NewService(carts domain.CartRepository, products domain.ProductRepository, coupons *coupon.Validator, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart-service")
	}
	return &Service{
		carts:    carts,
		products: products,
		coupons:  coupons,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get возвращает корзину покупателя с итогами по актуальным ценам.
// Купон, переставший проходить проверку, молча снимается.
func (s *Service) Get(customerID string) (View, error) {
	cart, err := s.carts.Get(customerID)
	if err != nil {
		return View{}, fmt.Errorf("load cart: %w", err)
	}

	changed := s.dropVanished(&cart)
	if s.coupons != nil && s.coupons.Revalidate(&cart) {
		changed = true
	}
	if changed {
		cart.UpdatedAt = s.now()
		if err := s.carts.Save(cart); err != nil {
			return View{}, fmt.Errorf("save refreshed cart: %w", err)
		}
	}

	return s.view(cart)
}

// AddItem добавляет позицию либо увеличивает количество существующей.
func (s *Service) AddItem(customerID, productID string, qty int32) (View, error) {
	if qty <= 0 {
		return View{}, domain.ErrItemQtyInvalid
	}

	product, err := s.products.Get(productID)
	if err != nil {
		return View{}, err
	}

	cart, err := s.carts.Get(customerID)
	if err != nil {
		return View{}, fmt.Errorf("load cart: %w", err)
	}
	cart.CustomerID = customerID

	if i := cart.FindItem(productID); i >= 0 {
		cart.Items[i].Qty += qty
	} else {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:       product.ID,
			Qty:             qty,
			PriceAtAddMinor: product.EffectivePriceMinor(),
			AddedAt:         s.now(),
		})
	}

	return s.persist(cart)
}

// UpdateQty выставляет количество позиции; qty == 0 удаляет позицию.
func (s *Service) UpdateQty(customerID, productID string, qty int32) (View, error) {
	if qty < 0 {
		return View{}, domain.ErrItemQtyInvalid
	}
	if qty == 0 {
		return s.RemoveItem(customerID, productID)
	}

	cart, err := s.carts.Get(customerID)
	if err != nil {
		return View{}, fmt.Errorf("load cart: %w", err)
	}

	i := cart.FindItem(productID)
	if i < 0 {
		return View{}, domain.ErrProductNotFound
	}
	cart.Items[i].Qty = qty

	return s.persist(cart)
}

// RemoveItem удаляет позицию из корзины.
func (s *Service) RemoveItem(customerID, productID string) (View, error) {
	cart, err := s.carts.Get(customerID)
	if err != nil {
		return View{}, fmt.Errorf("load cart: %w", err)
	}

	kept := cart.Items[:0]
	found := false
	for _, item := range cart.Items {
		if item.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		return View{}, domain.ErrProductNotFound
	}
	cart.Items = kept

	return s.persist(cart)
}

// Clear опустошает корзину покупателя.
func (s *Service) Clear(customerID string) error {
	if err := s.carts.Clear(customerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *Service) persist(cart domain.Cart) (View, error) {
	if s.coupons != nil {
		s.coupons.Revalidate(&cart)
	}
	cart.UpdatedAt = s.now()
	if err := s.carts.Save(cart); err != nil {
		return View{}, fmt.Errorf("save cart: %w", err)
	}
	return s.view(cart)
}

// view пересчитывает итоги по актуальным каталожным ценам; снимок цены
// в позиции корзины остаётся справочным.
func (s *Service) view(cart domain.Cart) (View, error) {
	var totals Totals
	for _, item := range cart.Items {
		product, err := s.products.Get(item.ProductID)
		if err != nil {
			return View{}, err
		}
		totals.SubtotalMinor += int64(item.Qty) * product.PriceMinor
		totals.ProductDiscountMinor += int64(item.Qty) * (product.PriceMinor - product.EffectivePriceMinor())
	}
	if cart.Coupon != nil {
		totals.CouponDiscountMinor = cart.Coupon.DiscountMinor
	}
	totals.GrandTotalMinor = totals.SubtotalMinor - totals.ProductDiscountMinor - totals.CouponDiscountMinor
	if totals.GrandTotalMinor < 0 {
		totals.GrandTotalMinor = 0
	}
	return View{Cart: cart, Totals: totals}, nil
}

// dropVanished убирает из корзины товары, исчезнувшие из каталога.
func (s *Service) dropVanished(cart *domain.Cart) bool {
	changed := false
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if _, err := s.products.Get(item.ProductID); domain.IsNotFound(err) {
			s.logger.WithField("product_id", item.ProductID).Warn("dropping vanished product from cart")
			changed = true
			continue
		}
		kept = append(kept, item)
	}
	cart.Items = kept
	return changed
}
