package domain

import "time"

// Product — каталожная запись с изменяемым остатком.
type Product struct {
	ID         string
	SKU        string
	Name       string
	CategoryID string
	// PriceMinor — базовая цена в минимальных денежных единицах.
	PriceMinor int64
	// DiscountPriceMinor — цена по товарной скидке; 0 означает отсутствие скидки.
	DiscountPriceMinor int64
	Stock              int32
	// Габариты для перевозчика; нули заменяются дефолтами при создании отправления.
	WeightGrams int32
	LengthCm    int32
	BreadthCm   int32
	HeightCm    int32
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectivePriceMinor возвращает действующую цену единицы с учётом товарной скидки.
func (p *Product) EffectivePriceMinor() int64 {
	if p.DiscountPriceMinor > 0 && p.DiscountPriceMinor < p.PriceMinor {
		return p.DiscountPriceMinor
	}
	return p.PriceMinor
}
