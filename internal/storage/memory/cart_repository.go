package memory

import (
	"sync"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

// cartRepositoryInMemory хранит корзины покупателей в памяти.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Cart
}

// NewCartRepository возвращает in-memory реализацию CartRepository.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		items: make(map[string]domain.Cart),
	}
}

// Get возвращает корзину покупателя; отсутствие корзины — пустая корзина.
func (r *cartRepositoryInMemory) Get(customerID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.items[customerID]
	if !ok {
		return domain.Cart{CustomerID: customerID}, nil
	}
	return cloneCart(cart), nil
}

// Save перезаписывает корзину покупателя.
func (r *cartRepositoryInMemory) Save(cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart.UpdatedAt = time.Now().UTC()
	r.items[cart.CustomerID] = cloneCart(cart)
	return nil
}

// Clear очищает корзину покупателя.
func (r *cartRepositoryInMemory) Clear(customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, customerID)
	return nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	if len(cart.Items) > 0 {
		clone.Items = append([]domain.CartItem(nil), cart.Items...)
	}
	if cart.Coupon != nil {
		coupon := *cart.Coupon
		clone.Coupon = &coupon
	}
	return clone
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
