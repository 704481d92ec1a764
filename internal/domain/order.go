package domain

import "time"

// OrderStatus описывает жизненный цикл заказа на витрине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата подтверждена, заказ готовится к отгрузке.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — перевозчик забрал отправление.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — отправление вручено получателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён до отгрузки.
	OrderStatusCanceled OrderStatus = "cancelled"
	// OrderStatusReturned — заказ возвращён после доставки.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusFailed — оплата окончательно не состоялась.
	OrderStatusFailed OrderStatus = "failed"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата инициирована, но не подтверждена.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена провайдером; переход односторонний.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер отклонил платёж или подпись не сошлась.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCanceled — платёжная сессия отменена.
	PaymentStatusCanceled PaymentStatus = "cancelled"
	// PaymentStatusCOD — оплата наличными, собрана при вручении.
	PaymentStatusCOD PaymentStatus = "cod"
)

// PaymentMethod определяет способ оплаты, выбранный на checkout.
type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "cod"
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodHDFC     PaymentMethod = "hdfc"
)

// Online сообщает, требует ли способ оплаты платёжной сессии у провайдера.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodRazorpay || m == PaymentMethodHDFC
}

// Valid проверяет, что способ оплаты относится к поддерживаемым значениям.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodRazorpay, PaymentMethodHDFC:
		return true
	default:
		return false
	}
}

// Address хранит почтовый адрес доставки или выставления счёта.
type Address struct {
	Name     string
	Phone    string
	Line1    string
	Line2    string
	City     string
	State    string
	PostCode string
	Country  string
}

// OrderItem представляет одну позицию заказа. Цены снимаются в момент
// оформления и далее не пересчитываются по живому каталогу.
type OrderItem struct {
	ProductID string
	SKU       string
	Qty       int32
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах (пайсы).
	UnitPriceMinor int64
	// DiscountedUnitPriceMinor — цена после товарной скидки; равна UnitPriceMinor, если скидки нет.
	DiscountedUnitPriceMinor int64
}

// TrackingEvent — одна запись append-only истории статусов от перевозчика.
type TrackingEvent struct {
	Status   string
	Location string
	Activity string
	Occurred time.Time
}

// Order агрегирует состояние заказа, его оплату и доставку.
type Order struct {
	ID         string
	Code       string
	CustomerID string
	// CustomerEmail снимается при оформлении для транзакционных уведомлений.
	CustomerEmail string

	Items []OrderItem

	ShippingAddress       Address
	BillingAddress        Address
	BillingSameAsShipping bool

	SubtotalMinor        int64
	ProductDiscountMinor int64
	CouponDiscountMinor  int64
	ShippingFeeMinor     int64
	GrandTotalMinor      int64
	CouponCode           string

	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentAttempts  int
	LastAttemptAt    time.Time
	PaymentTimeoutAt time.Time
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string

	Status        OrderStatus
	ShipmentID    string
	WaybillCode   string
	StatusHistory []TrackingEvent

	// ReservationExpiresAt помечает активный складской резерв; нулевое время — резерва нет.
	ReservationExpiresAt time.Time
	ReservationReleased  bool

	CancelledAt  time.Time
	CancelReason string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// statusRank задаёт порядок прямого движения статусов. Терминальные статусы
// отмены/возврата/провала вне ранга: в них входят только по явным правилам.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

// Terminal сообщает, находится ли статус в поглощающем состоянии.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCanceled, OrderStatusReturned, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// CanAdvanceTo проверяет, что переход не откатывает заказ назад по жизненному циклу.
func (o *Order) CanAdvanceTo(next OrderStatus) bool {
	if o.Status == next || o.Status.Terminal() {
		return false
	}
	curRank, curOK := statusRank[o.Status]
	nextRank, nextOK := statusRank[next]
	if curOK && nextOK {
		return nextRank > curRank
	}
	switch next {
	case OrderStatusCanceled:
		return o.CanCancel()
	case OrderStatusReturned:
		// RTO: перевозчик возвращает недоставленное отправление отправителю.
		return o.Status == OrderStatusShipped
	case OrderStatusFailed:
		return o.Status == OrderStatusPending
	default:
		return false
	}
}

// CanCancel разрешает отмену только до отгрузки.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusProcessing
}

// CanReturn разрешает возврат только доставленного заказа.
func (o *Order) CanReturn() bool {
	return o.Status == OrderStatusDelivered
}

// HasActiveReservation сообщает, держит ли заказ складской резерв.
func (o *Order) HasActiveReservation() bool {
	return !o.ReservationExpiresAt.IsZero() && !o.ReservationReleased
}

// RecomputeGrandTotal пересчитывает итог по денежному инварианту заказа.
func (o *Order) RecomputeGrandTotal() {
	o.GrandTotalMinor = o.SubtotalMinor - o.ProductDiscountMinor - o.CouponDiscountMinor + o.ShippingFeeMinor
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	var subtotal, productDiscount int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 || item.DiscountedUnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += int64(item.Qty) * item.UnitPriceMinor
		productDiscount += int64(item.Qty) * (item.UnitPriceMinor - item.DiscountedUnitPriceMinor)
	}
	if subtotal != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if productDiscount != o.ProductDiscountMinor {
		errs = append(errs, ErrProductDiscountMismatch)
	}
	if o.GrandTotalMinor != o.SubtotalMinor-o.ProductDiscountMinor-o.CouponDiscountMinor+o.ShippingFeeMinor {
		errs = append(errs, ErrGrandTotalMismatch)
	}

	return errs
}

// PrependTracking добавляет записи истории статусов: самые свежие — первыми.
func (o *Order) PrependTracking(events ...TrackingEvent) {
	if len(events) == 0 {
		return
	}
	merged := make([]TrackingEvent, 0, len(events)+len(o.StatusHistory))
	merged = append(merged, events...)
	merged = append(merged, o.StatusHistory...)
	o.StatusHistory = merged
}
