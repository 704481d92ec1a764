package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amorozov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

var _ domain.CartRepository = (*cartRepository)(nil)

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

// Get возвращает корзину покупателя; отсутствие строки — пустая корзина.
func (r *cartRepository) Get(customerID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		items  []byte
		coupon []byte
		cart   domain.Cart
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_id, items, coupon, updated_at
		FROM carts
		WHERE customer_id = $1
	`, customerID).Scan(&cart.CustomerID, &items, &coupon, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{CustomerID: customerID}, nil
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &cart.Items); err != nil {
			return domain.Cart{}, fmt.Errorf("decode cart items: %w", err)
		}
	}
	if len(coupon) > 0 {
		if err := json.Unmarshal(coupon, &cart.Coupon); err != nil {
			return domain.Cart{}, fmt.Errorf("decode cart coupon: %w", err)
		}
	}
	return cart, nil
}

func (r *cartRepository) Save(cart domain.Cart) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	items, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}
	var coupon any
	if cart.Coupon != nil {
		encoded, err := json.Marshal(cart.Coupon)
		if err != nil {
			return fmt.Errorf("encode cart coupon: %w", err)
		}
		coupon = encoded
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (customer_id, items, coupon, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id)
		DO UPDATE SET items = EXCLUDED.items, coupon = EXCLUDED.coupon, updated_at = EXCLUDED.updated_at
	`, cart.CustomerID, items, coupon, cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

func (r *cartRepository) Clear(customerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
