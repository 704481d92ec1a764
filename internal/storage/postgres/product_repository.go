package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/amorozov/storefront/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

var _ domain.ProductRepository = (*productRepository)(nil)

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var p domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category_id, price_minor, discount_price_minor,
		       stock, weight_grams, length_cm, breadth_cm, height_cm,
		       version, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.PriceMinor, &p.DiscountPriceMinor,
		&p.Stock, &p.WeightGrams, &p.LengthCm, &p.BreadthCm, &p.HeightCm,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// DecrementStock списывает остаток одним условным обновлением: проверка
// доступности и списание происходят в одном statement, гонка двух
// покупателей за последнюю единицу исключена на уровне БД.
func (r *productRepository) DecrementStock(productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Либо товара нет, либо остатка не хватило.
	var available int32
	err = r.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("select stock: %w", err)
	}
	return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (r *productRepository) Restock(productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("restock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}
