package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amorozov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, code, customer_id, customer_email,
	shipping_address, billing_address, billing_same_as_shipping,
	subtotal_minor, product_discount_minor, coupon_discount_minor,
	shipping_fee_minor, grand_total_minor, coupon_code,
	payment_method, payment_status, payment_attempts,
	last_attempt_at, payment_timeout_at,
	gateway_order_id, gateway_payment_id, gateway_signature,
	status, shipment_id, waybill_code, status_history,
	reservation_expires_at, reservation_released,
	cancelled_at, cancel_reason,
	version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

var _ domain.OrderRepository = (*orderRepository)(nil)

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	shipping, billing, history, err := encodeOrderJSON(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
		        $19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
	`,
		order.ID, order.Code, order.CustomerID, order.CustomerEmail,
		shipping, billing, order.BillingSameAsShipping,
		order.SubtotalMinor, order.ProductDiscountMinor, order.CouponDiscountMinor,
		order.ShippingFeeMinor, order.GrandTotalMinor, order.CouponCode,
		string(order.PaymentMethod), string(order.PaymentStatus), order.PaymentAttempts,
		nullTime(order.LastAttemptAt), nullTime(order.PaymentTimeoutAt),
		order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
		string(order.Status), order.ShipmentID, order.WaybillCode, history,
		nullTime(order.ReservationExpiresAt), order.ReservationReleased,
		nullTime(order.CancelledAt), order.CancelReason,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = insertItems(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	return r.getOne(`WHERE id = $1`, id)
}

func (r *orderRepository) GetForCustomer(customerID, orderID string) (domain.Order, error) {
	return r.getOne(`WHERE id = $1 AND customer_id = $2`, orderID, customerID)
}

func (r *orderRepository) FindByGatewayOrderID(gatewayOrderID string) (domain.Order, error) {
	if gatewayOrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.getOne(`WHERE gateway_order_id = $1`, gatewayOrderID)
}

// FindByCorrelation пробует идентификаторы перевозчика в порядке их надёжности.
func (r *orderRepository) FindByCorrelation(waybill, shipmentID, orderCode string) (domain.Order, error) {
	lookups := []struct {
		clause string
		value  string
	}{
		{`WHERE waybill_code = $1`, waybill},
		{`WHERE shipment_id = $1`, shipmentID},
		{`WHERE code = $1`, orderCode},
	}
	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}
		order, err := r.getOne(lookup.clause, lookup.value)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return r.queryOrders(ctx, query, args...)
}

func (r *orderRepository) ListExpiredReservations(before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE reservation_expires_at IS NOT NULL
		  AND NOT reservation_released
		  AND reservation_expires_at <= $1
		  AND payment_status <> $2
		ORDER BY reservation_expires_at
		LIMIT $3`

	return r.queryOrders(ctx, query, before, string(domain.PaymentStatusPaid), limit)
}

// Save перезаписывает заказ при совпадении версии; несовпадение означает
// конкурентное обновление и возвращается как ErrOrderVersionConflict.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	shipping, billing, history, err := encodeOrderJSON(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			customer_email = $2,
			shipping_address = $3, billing_address = $4, billing_same_as_shipping = $5,
			subtotal_minor = $6, product_discount_minor = $7, coupon_discount_minor = $8,
			shipping_fee_minor = $9, grand_total_minor = $10, coupon_code = $11,
			payment_method = $12, payment_status = $13, payment_attempts = $14,
			last_attempt_at = $15, payment_timeout_at = $16,
			gateway_order_id = $17, gateway_payment_id = $18, gateway_signature = $19,
			status = $20, shipment_id = $21, waybill_code = $22, status_history = $23,
			reservation_expires_at = $24, reservation_released = $25,
			cancelled_at = $26, cancel_reason = $27,
			version = version + 1, updated_at = $28
		WHERE id = $1 AND version = $29
	`,
		order.ID, order.CustomerEmail,
		shipping, billing, order.BillingSameAsShipping,
		order.SubtotalMinor, order.ProductDiscountMinor, order.CouponDiscountMinor,
		order.ShippingFeeMinor, order.GrandTotalMinor, order.CouponCode,
		string(order.PaymentMethod), string(order.PaymentStatus), order.PaymentAttempts,
		nullTime(order.LastAttemptAt), nullTime(order.PaymentTimeoutAt),
		order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
		string(order.Status), order.ShipmentID, order.WaybillCode, history,
		nullTime(order.ReservationExpiresAt), order.ReservationReleased,
		nullTime(order.CancelledAt), order.CancelReason,
		order.UpdatedAt, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if checkErr := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID,
		).Scan(&exists); checkErr != nil {
			err = fmt.Errorf("check order existence: %w", checkErr)
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	// Позиции неизменяемы после оформления, но перезапись держит строки
	// согласованными с агрегатом.
	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if err = insertItems(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func (r *orderRepository) getOne(where string, args ...any) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	orders, err := r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders `+where+` LIMIT 1`, args...)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func scanOrder(rows *sql.Rows) (domain.Order, error) {
	var (
		order                       domain.Order
		shipping, billing, history  []byte
		method, payStatus, status   string
		lastAttempt, payTimeout     sql.NullTime
		reservationExp, cancelledAt sql.NullTime
	)

	err := rows.Scan(
		&order.ID, &order.Code, &order.CustomerID, &order.CustomerEmail,
		&shipping, &billing, &order.BillingSameAsShipping,
		&order.SubtotalMinor, &order.ProductDiscountMinor, &order.CouponDiscountMinor,
		&order.ShippingFeeMinor, &order.GrandTotalMinor, &order.CouponCode,
		&method, &payStatus, &order.PaymentAttempts,
		&lastAttempt, &payTimeout,
		&order.GatewayOrderID, &order.GatewayPaymentID, &order.GatewaySignature,
		&status, &order.ShipmentID, &order.WaybillCode, &history,
		&reservationExp, &order.ReservationReleased,
		&cancelledAt, &order.CancelReason,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	order.PaymentMethod = domain.PaymentMethod(method)
	order.PaymentStatus = domain.PaymentStatus(payStatus)
	order.Status = domain.OrderStatus(status)
	order.LastAttemptAt = lastAttempt.Time
	order.PaymentTimeoutAt = payTimeout.Time
	order.ReservationExpiresAt = reservationExp.Time
	order.CancelledAt = cancelledAt.Time

	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &order.StatusHistory); err != nil {
			return domain.Order{}, fmt.Errorf("decode status history: %w", err)
		}
	}
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, sku, qty, unit_price_minor, discounted_unit_price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Qty,
			&item.UnitPriceMinor, &item.DiscountedUnitPriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID string, items []domain.OrderItem) error {
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, sku, qty,
				unit_price_minor, discounted_unit_price_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, orderID, i, item.ProductID, item.SKU, item.Qty,
			item.UnitPriceMinor, item.DiscountedUnitPriceMinor); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func encodeOrderJSON(order domain.Order) (shipping, billing, history []byte, err error) {
	if shipping, err = json.Marshal(order.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode shipping address: %w", err)
	}
	if billing, err = json.Marshal(order.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode billing address: %w", err)
	}
	if order.StatusHistory == nil {
		history = []byte("[]")
		return shipping, billing, history, nil
	}
	if history, err = json.Marshal(order.StatusHistory); err != nil {
		return nil, nil, nil, fmt.Errorf("encode status history: %w", err)
	}
	return shipping, billing, history, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// isUniqueViolation распознаёт нарушение уникального ограничения (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
