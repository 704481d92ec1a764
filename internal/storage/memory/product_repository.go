package memory

import (
	"sync"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

// productRepositoryInMemory — in-memory каталог с атомарными операциями над остатком.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory реализацию ProductRepository.
func NewProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Put сохраняет товар (используется при сидировании в тестах и dev-режиме).
func (r *productRepositoryInMemory) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product.UpdatedAt = time.Now().UTC()
	r.items[product.ID] = product
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// DecrementStock уменьшает остаток под блокировкой: проверка и списание —
// одна атомарная операция, продать ниже нуля нельзя.
func (r *productRepositoryInMemory) DecrementStock(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock < qty {
		return &domain.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: product.Stock,
		}
	}
	product.Stock -= qty
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product
	return nil
}

// Restock возвращает qty единиц на остаток.
func (r *productRepositoryInMemory) Restock(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Stock += qty
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
