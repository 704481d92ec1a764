package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amorozov/storefront/internal/domain"
)

// couponRepositoryInMemory хранит купоны и аудит применений в памяти.
type couponRepositoryInMemory struct {
	mu     sync.RWMutex
	byCode map[string]domain.Coupon
	usages []domain.CouponUsage
}

// NewCouponRepository возвращает in-memory реализацию CouponRepository.
func NewCouponRepository() *couponRepositoryInMemory {
	return &couponRepositoryInMemory{
		byCode: make(map[string]domain.Coupon),
	}
}

// Put сохраняет купон (сидирование в тестах и dev-режиме).
func (r *couponRepositoryInMemory) Put(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	r.byCode[strings.ToUpper(coupon.Code)] = coupon
}

// GetByCode ищет купон по нормализованному коду.
func (r *couponRepositoryInMemory) GetByCode(code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.byCode[strings.ToUpper(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// CountUsages возвращает число применений купона данным покупателем.
func (r *couponRepositoryInMemory) CountUsages(couponID, customerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, usage := range r.usages {
		if usage.CouponID == couponID && usage.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

// RecordUsage сохраняет неизменяемую запись применения.
func (r *couponRepositoryInMemory) RecordUsage(usage domain.CouponUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}
	r.usages = append(r.usages, usage)
	return nil
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
