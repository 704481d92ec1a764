package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amorozov/storefront/internal/domain"
)

type couponRepository struct {
	db *sql.DB
}

var _ domain.CouponRepository = (*couponRepository)(nil)

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) GetByCode(code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		c          domain.Coupon
		kind       string
		categories []byte
		startsAt   sql.NullTime
		expiresAt  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, type, value_minor, percent, max_discount_minor,
		       min_order_minor, category_ids, user_usage_limit, active,
		       starts_at, expires_at, created_at, updated_at
		FROM coupons
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&c.ID, &c.Code, &kind, &c.ValueMinor, &c.Percent, &c.MaxDiscountMinor,
		&c.MinOrderMinor, &categories, &c.UserUsageLimit, &c.Active,
		&startsAt, &expiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}

	c.Type = domain.CouponType(kind)
	c.StartsAt = startsAt.Time
	c.ExpiresAt = expiresAt.Time
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &c.CategoryIDs); err != nil {
			return domain.Coupon{}, fmt.Errorf("decode coupon categories: %w", err)
		}
	}
	return c, nil
}

func (r *couponRepository) CountUsages(couponID, customerID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_usages
		WHERE coupon_id = $1 AND customer_id = $2
	`, couponID, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count coupon usages: %w", err)
	}
	return count, nil
}

func (r *couponRepository) RecordUsage(usage domain.CouponUsage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, customer_id, order_id, discount_minor, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, usage.ID, usage.CouponID, usage.CustomerID, usage.OrderID, usage.DiscountMinor, usage.UsedAt)
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}
	return nil
}
