package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/amorozov/storefront/internal/carrier"
	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/gateway"
	"github.com/amorozov/storefront/internal/gateway/razorpay"
	"github.com/amorozov/storefront/internal/service/cart"
	"github.com/amorozov/storefront/internal/service/coupon"
	"github.com/amorozov/storefront/internal/service/lifecycle"
	"github.com/amorozov/storefront/internal/service/outbox"
	"github.com/amorozov/storefront/internal/storage/memory"
	transport "github.com/amorozov/storefront/internal/transport/http"
)

const (
	testWebhookSecret = "whsec-test"
	testCarrierToken  = "carrier-token"
	testAdminToken    = "admin-token"
)

type productSeeder interface {
	domain.ProductRepository
	Put(domain.Product)
}

type testEnv struct {
	server   *httptest.Server
	orders   domain.OrderRepository
	products productSeeder
	carts    domain.CartRepository
	outbox   *outbox.Dispatcher
	repo     interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
	gateway *gateway.MockGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	carts := memory.NewCartRepository()
	coupons := memory.NewCouponRepository()
	outboxRepo := memory.NewOutboxRepository()

	mockGateway := gateway.NewMockGateway()
	mockCarrier := carrier.NewMockCarrier()
	validator := coupon.NewValidator(coupons, products, carts, loggerForTests())
	cartSvc := cart.NewService(carts, products, validator, loggerForTests())

	orchestrator := lifecycle.NewOrchestratorWithoutMetrics(lifecycle.Deps{
		Orders:   orders,
		Products: products,
		Carts:    carts,
		Usages:   coupons,
		Gateway:  mockGateway,
		Carrier:  mockCarrier,
		Outbox:   outboxRepo,
		Coupons:  validator,
		Logger:   loggerForTests(),
	}, lifecycle.DefaultConfig())

	verifier := razorpay.NewClient(razorpay.Config{WebhookSecret: testWebhookSecret})
	webhooks := transport.NewWebhookHandler(orchestrator, verifier, nil, nil, testCarrierToken, loggerForTests())
	api := transport.NewHandler(orchestrator, cartSvc, validator, orders, loggerForTests())
	dispatcher := outbox.NewDispatcher(outboxRepo, map[string]domain.OutboxPublisher{}, outbox.WithLogger(loggerForTests()))

	router := transport.NewRouter(transport.RouterDeps{
		API:        api,
		Webhooks:   webhooks,
		Outbox:     dispatcher,
		AdminToken: testAdminToken,
		Logger:     loggerForTests(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		orders:   orders,
		products: products,
		carts:    carts,
		outbox:   dispatcher,
		repo:     outboxRepo,
		gateway:  mockGateway,
	}
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

type apiResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
	Data      json.RawMessage `json:"data"`
}

func (e *testEnv) request(t *testing.T, method, path, customer string, body any) (*http.Response, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if customer != "" {
		req.Header.Set("X-Customer-ID", customer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) seedCatalogAndCart(t *testing.T, customer string) {
	t.Helper()
	e.products.Put(domain.Product{
		ID: "p1", SKU: "SKU-1", CategoryID: "books", PriceMinor: 10000, Stock: 10,
	})
	require.NoError(t, e.carts.Save(domain.Cart{
		CustomerID: customer,
		Items:      []domain.CartItem{{ProductID: "p1", Qty: 2}},
	}))
}

func checkoutBody() map[string]any {
	address := map[string]any{
		"name": "Asha Rao", "phone": "+911234567890",
		"line1": "12 MG Road", "city": "Bengaluru", "state": "Karnataka",
		"postCode": "560001", "country": "India",
	}
	return map[string]any{
		"shippingAddress":       address,
		"billingSameAsShipping": true,
		"paymentMethod":         "razorpay",
		"customerEmail":         "asha@example.com",
	}
}

func TestAPI_RequiresCustomerHeader(t *testing.T) {
	env := newTestEnv(t)

	resp, decoded := env.request(t, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.False(t, decoded.Success)
	require.Equal(t, "UNAUTHENTICATED", decoded.ErrorCode)
}

func TestCheckout_CreatesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalogAndCart(t, "cust-1")

	resp, decoded := env.request(t, http.MethodPost, "/api/v1/checkout", "cust-1", checkoutBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, decoded.Success)

	var order struct {
		ID              string `json:"id"`
		Code            string `json:"code"`
		GrandTotalMinor int64  `json:"grandTotalMinor"`
		Status          string `json:"status"`
		PaymentStatus   string `json:"paymentStatus"`
	}
	require.NoError(t, json.Unmarshal(decoded.Data, &order))
	require.NotEmpty(t, order.ID)
	require.NotEmpty(t, order.Code)
	require.Equal(t, "pending", order.Status)
	require.Equal(t, "pending", order.PaymentStatus)

	// Остаток списан, корзина пуста.
	product, err := env.products.Get("p1")
	require.NoError(t, err)
	require.EqualValues(t, 8, product.Stock)

	cartState, err := env.carts.Get("cust-1")
	require.NoError(t, err)
	require.Empty(t, cartState.Items)
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)

	resp, decoded := env.request(t, http.MethodPost, "/api/v1/checkout", "cust-1", checkoutBody())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "EMPTY_CART", decoded.ErrorCode)
}

func TestCheckout_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.products.Put(domain.Product{ID: "p1", SKU: "SKU-1", PriceMinor: 10000, Stock: 1})
	require.NoError(t, env.carts.Save(domain.Cart{
		CustomerID: "cust-1",
		Items:      []domain.CartItem{{ProductID: "p1", Qty: 5}},
	}))

	resp, decoded := env.request(t, http.MethodPost, "/api/v1/checkout", "cust-1", checkoutBody())
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "INSUFFICIENT_STOCK", decoded.ErrorCode)
}

func TestCheckout_BadJSON(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/checkout", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	req.Header.Set("X-Customer-ID", "cust-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrder_ForeignOrderLooksMissing(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalogAndCart(t, "cust-1")

	_, placed := env.request(t, http.MethodPost, "/api/v1/checkout", "cust-1", checkoutBody())
	var order struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(placed.Data, &order))

	resp, decoded := env.request(t, http.MethodGet, "/api/v1/orders/"+order.ID, "cust-2", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "ORDER_NOT_FOUND", decoded.ErrorCode)

	resp, _ = env.request(t, http.MethodGet, "/api/v1/orders/"+order.ID, "cust-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaymentFlow_CreateAndVerify(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalogAndCart(t, "cust-1")

	_, placed := env.request(t, http.MethodPost, "/api/v1/checkout", "cust-1", checkoutBody())
	var order struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(placed.Data, &order))

	resp, created := env.request(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment", "cust-1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session struct {
		GatewayOrderID string `json:"gatewayOrderId"`
		AmountMinor    int64  `json:"amountMinor"`
		Attempt        int    `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(created.Data, &session))
	require.NotEmpty(t, session.GatewayOrderID)
	require.EqualValues(t, 20000, session.AmountMinor)
	require.Equal(t, 1, session.Attempt)

	resp, verified := env.request(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment/verify", "cust-1", map[string]string{
		"razorpayOrderId":   session.GatewayOrderID,
		"razorpayPaymentId": "pay_test_1",
		"razorpaySignature": "sig",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paidOrder struct {
		PaymentStatus string `json:"paymentStatus"`
		Status        string `json:"status"`
		WaybillCode   string `json:"waybillCode"`
	}
	require.NoError(t, json.Unmarshal(verified.Data, &paidOrder))
	require.Equal(t, "paid", paidOrder.PaymentStatus)
	require.Equal(t, "processing", paidOrder.Status)
	require.NotEmpty(t, paidOrder.WaybillCode)
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv(t)
	env.products.Put(domain.Product{ID: "p1", SKU: "SKU-1", PriceMinor: 10000, Stock: 10})

	resp, added := env.request(t, http.MethodPost, "/api/v1/cart/items", "cust-1", map[string]any{
		"productId": "p1",
		"qty":       2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		Items []struct {
			ProductID string `json:"productId"`
			Qty       int32  `json:"qty"`
		} `json:"items"`
		SubtotalMinor int64 `json:"subtotalMinor"`
	}
	require.NoError(t, json.Unmarshal(added.Data, &view))
	require.Len(t, view.Items, 1)
	require.EqualValues(t, 20000, view.SubtotalMinor)

	resp, _ = env.request(t, http.MethodDelete, "/api/v1/cart/items/p1", "cust-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded := env.request(t, http.MethodDelete, "/api/v1/cart/items/p1", "cust-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "PRODUCT_NOT_FOUND", decoded.ErrorCode)
}

func TestOpsRequeue_AdminTokenRequired(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/ops/outbox/requeue", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, env.server.URL+"/ops/outbox/requeue?limit=5", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.True(t, decoded.Success)

	var data struct {
		Requeued int `json:"requeued"`
	}
	require.NoError(t, json.Unmarshal(decoded.Data, &data))
	require.Equal(t, 0, data.Requeued)
}

func TestOpsRequeue_BadLimit(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/ops/outbox/requeue?limit=%s", env.server.URL, "zero"), nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCouponValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalogAndCart(t, "cust-1")

	resp, decoded := env.request(t, http.MethodPost, "/api/v1/coupons/validate", "cust-1", map[string]string{"code": "NOPE"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "COUPON_NOT_FOUND", decoded.ErrorCode)
}
