package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/storage/memory"
)

type stubGateway struct {
	mu sync.Mutex

	createOrder domain.GatewayOrder
	createErr   error
	payment     domain.GatewayPayment
	fetchErr    error
	signatureOK bool

	createCnt int
	fetchCnt  int
	verifyCnt int
}

func (s *stubGateway) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCnt++
	if s.createErr != nil {
		return domain.GatewayOrder{}, s.createErr
	}
	if s.createOrder.ID == "" {
		s.createOrder.ID = "gw-order-1"
	}
	if s.createOrder.AmountMinor == 0 {
		s.createOrder.AmountMinor = req.AmountMinor
	}
	if s.createOrder.Currency == "" {
		s.createOrder.Currency = req.Currency
	}
	return s.createOrder, nil
}

func (s *stubGateway) FetchPayment(_ context.Context, paymentID string) (domain.GatewayPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCnt++
	if s.fetchErr != nil {
		return domain.GatewayPayment{}, s.fetchErr
	}
	payment := s.payment
	payment.ID = paymentID
	return payment, nil
}

func (s *stubGateway) VerifySignature(_, _, _ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCnt++
	return s.signatureOK
}

type stubCarrier struct {
	mu sync.Mutex

	shipment  domain.Shipment
	createErr error
	createCnt int
}

func (s *stubCarrier) CreateShipment(_ context.Context, _ domain.Order) (domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCnt++
	if s.createErr != nil {
		return domain.Shipment{}, s.createErr
	}
	shipment := s.shipment
	if shipment.ShipmentID == "" {
		shipment.ShipmentID = "ship-1"
	}
	if shipment.WaybillCode == "" {
		shipment.WaybillCode = "AWB000001"
	}
	return shipment, nil
}

// seedableProducts расширяет каталог операцией сидирования из in-memory реализации.
type seedableProducts interface {
	domain.ProductRepository
	Put(domain.Product)
}

// inspectableOutbox позволяет тестам читать накопленные pending-сообщения.
type inspectableOutbox interface {
	domain.OutboxRepository
	AllPending() []domain.OutboxMessage
}

type testEnv struct {
	orders   domain.OrderRepository
	products seedableProducts
	carts    domain.CartRepository
	coupons  domain.CouponRepository
	outbox   inspectableOutbox
	gateway  *stubGateway
	carrier  *stubCarrier
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:   memory.NewOrderRepository(),
		products: memory.NewProductRepository(),
		carts:    memory.NewCartRepository(),
		coupons:  memory.NewCouponRepository(),
		outbox:   memory.NewOutboxRepository(),
		gateway:  &stubGateway{signatureOK: true},
		carrier:  &stubCarrier{},
	}
	env.orch = NewOrchestratorWithoutMetrics(Deps{
		Orders:   env.orders,
		Products: env.products,
		Carts:    env.carts,
		Usages:   env.coupons,
		Gateway:  env.gateway,
		Carrier:  env.carrier,
		Outbox:   env.outbox,
		Logger:   log.New().WithField("test", t.Name()),
	}, cfg)
	return env
}

func (e *testEnv) seedProduct(t *testing.T, id string, priceMinor, discountMinor int64, stock int32) {
	t.Helper()
	e.products.Put(domain.Product{
		ID:                 id,
		SKU:                "SKU-" + id,
		Name:               "product " + id,
		PriceMinor:         priceMinor,
		DiscountPriceMinor: discountMinor,
		Stock:              stock,
	})
}

func (e *testEnv) seedCart(t *testing.T, customerID string, items ...domain.CartItem) {
	t.Helper()
	if err := e.carts.Save(domain.Cart{CustomerID: customerID, Items: items}); err != nil {
		t.Fatalf("save cart: %v", err)
	}
}

func (e *testEnv) stock(t *testing.T, productID string) int32 {
	t.Helper()
	product, err := e.products.Get(productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.Stock
}

func placeInput() PlaceOrderInput {
	return PlaceOrderInput{
		ShippingAddress: domain.Address{
			Name:     "Asha Rao",
			Phone:    "+919000000001",
			Line1:    "12 MG Road",
			City:     "Bengaluru",
			State:    "KA",
			PostCode: "560001",
			Country:  "IN",
		},
		BillingSameAsShipping: true,
		PaymentMethod:         domain.PaymentMethodRazorpay,
		CustomerEmail:         "asha@example.com",
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 10000, 8000, 5)
	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "p1", Qty: 2})

	order, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if order.SubtotalMinor != 20000 {
		t.Fatalf("expected subtotal 20000, got %d", order.SubtotalMinor)
	}
	if order.ProductDiscountMinor != 4000 {
		t.Fatalf("expected product discount 4000, got %d", order.ProductDiscountMinor)
	}
	if order.GrandTotalMinor != 16000 {
		t.Fatalf("expected grand total 16000, got %d", order.GrandTotalMinor)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected initial statuses: %s/%s", order.Status, order.PaymentStatus)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("order violates invariants: %v", errs)
	}

	if got := env.stock(t, "p1"); got != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", got)
	}

	cart, err := env.carts.Get("cust-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if !cart.Empty() {
		t.Fatalf("expected cart cleared after checkout, got %d items", len(cart.Items))
	}

	if !order.HasActiveReservation() {
		t.Fatal("expected active reservation for online payment")
	}

	events := env.outbox.AllPending()
	if len(events) == 0 {
		t.Fatal("expected outbox events after checkout")
	}
	hasCreated := false
	for _, msg := range events {
		if msg.EventType == "order.created" && msg.Channel == domain.OutboxChannelEvents {
			hasCreated = true
		}
	}
	if !hasCreated {
		t.Fatal("expected order.created event in outbox")
	}
}

func TestPlaceOrder_CODHasNoReservation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 5000, 0, 2)
	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "p1", Qty: 1})

	input := placeInput()
	input.PaymentMethod = domain.PaymentMethodCOD

	order, err := env.orch.PlaceOrder(context.Background(), "cust-1", input)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.HasActiveReservation() {
		t.Fatal("COD order must not hold a timed reservation")
	}
	if got := env.stock(t, "p1"); got != 1 {
		t.Fatalf("expected stock decremented for COD as well, got %d", got)
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if err != domain.ErrEmptyCart {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestPlaceOrder_InvalidPaymentMethod(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 5000, 0, 2)
	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "p1", Qty: 1})

	input := placeInput()
	input.PaymentMethod = "bitcoin"

	if _, err := env.orch.PlaceOrder(context.Background(), "cust-1", input); err != domain.ErrPaymentMethodInvalid {
		t.Fatalf("expected ErrPaymentMethodInvalid, got %v", err)
	}
}

func TestPlaceOrder_InsufficientStockRestocksPartial(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 5000, 0, 10)
	env.seedProduct(t, "p2", 3000, 0, 1)
	env.seedCart(t, "cust-1",
		domain.CartItem{ProductID: "p1", Qty: 2},
		domain.CartItem{ProductID: "p2", Qty: 5},
	)

	_, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	// Частично списанное вернулось: суммарный остаток не изменился.
	if got := env.stock(t, "p1"); got != 10 {
		t.Fatalf("expected p1 stock restored to 10, got %d", got)
	}
	if got := env.stock(t, "p2"); got != 1 {
		t.Fatalf("expected p2 stock untouched at 1, got %d", got)
	}
}

func TestPlaceOrder_FreeShippingThreshold(t *testing.T) {
	env := newTestEnv(t, Config{
		ShippingFeeFlatMinor:  4900,
		FreeShippingOverMinor: 50000,
	})
	env.seedProduct(t, "cheap", 10000, 0, 10)
	env.seedProduct(t, "dear", 60000, 0, 10)

	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "cheap", Qty: 1})
	order, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if err != nil {
		t.Fatalf("place cheap order: %v", err)
	}
	if order.ShippingFeeMinor != 4900 {
		t.Fatalf("expected flat shipping fee 4900, got %d", order.ShippingFeeMinor)
	}

	env.seedCart(t, "cust-2", domain.CartItem{ProductID: "dear", Qty: 1})
	order, err = env.orch.PlaceOrder(context.Background(), "cust-2", placeInput())
	if err != nil {
		t.Fatalf("place dear order: %v", err)
	}
	if order.ShippingFeeMinor != 0 {
		t.Fatalf("expected free shipping over threshold, got %d", order.ShippingFeeMinor)
	}
}

func TestCancel_RestocksAndClosesPayment(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 5000, 0, 5)
	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "p1", Qty: 2})

	order, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got := env.stock(t, "p1"); got != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", got)
	}

	cancelled, err := env.orch.Cancel(context.Background(), "cust-1", order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected status cancelled, got %s", cancelled.Status)
	}
	if cancelled.PaymentStatus != domain.PaymentStatusCanceled {
		t.Fatalf("expected payment cancelled, got %s", cancelled.PaymentStatus)
	}
	if cancelled.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancel reason: %q", cancelled.CancelReason)
	}

	if got := env.stock(t, "p1"); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
}

func TestCancel_ForeignOrderNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedProduct(t, "p1", 5000, 0, 5)
	env.seedCart(t, "cust-1", domain.CartItem{ProductID: "p1", Qty: 1})

	order, err := env.orch.PlaceOrder(context.Background(), "cust-1", placeInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if _, err := env.orch.Cancel(context.Background(), "cust-2", order.ID, ""); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestCancel_AfterShipmentForbidden(t *testing.T) {
	env := newTestEnv(t, Config{})
	seedOrderWithStatus(t, env, "cust-1", domain.OrderStatusShipped)

	if _, err := env.orch.Cancel(context.Background(), "cust-1", "order-1", ""); err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReturn_OnlyDelivered(t *testing.T) {
	env := newTestEnv(t, Config{})
	seedOrderWithStatus(t, env, "cust-1", domain.OrderStatusDelivered)

	returned, err := env.orch.Return(context.Background(), "cust-1", "order-1")
	if err != nil {
		t.Fatalf("return order: %v", err)
	}
	if returned.Status != domain.OrderStatusReturned {
		t.Fatalf("expected status returned, got %s", returned.Status)
	}

	seedOrderWithID(t, env, "order-2", "cust-1", domain.OrderStatusProcessing)
	if _, err := env.orch.Return(context.Background(), "cust-1", "order-2"); err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition for undelivered order, got %v", err)
	}
}

func seedOrderWithStatus(t *testing.T, env *testEnv, customerID string, status domain.OrderStatus) domain.Order {
	t.Helper()
	return seedOrderWithID(t, env, "order-1", customerID, status)
}

func seedOrderWithID(t *testing.T, env *testEnv, orderID, customerID string, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:         orderID,
		Code:       "ORD-" + orderID,
		CustomerID: customerID,
		Items: []domain.OrderItem{{
			ProductID:                "p1",
			SKU:                      "SKU-p1",
			Qty:                      1,
			UnitPriceMinor:           5000,
			DiscountedUnitPriceMinor: 5000,
		}},
		SubtotalMinor:   5000,
		GrandTotalMinor: 5000,
		PaymentMethod:   domain.PaymentMethodRazorpay,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := env.orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}
