package shiprocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

// carrierStub эмулирует перевозчика: считает логины и принимает отправления.
type carrierStub struct {
	mu           sync.Mutex
	logins       int
	shipments    int
	tokenSeq     int
	rejectTokens map[string]bool
	lastShipment shipmentRequest
}

func (s *carrierStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.URL.Path {
		case "/auth/login":
			var req loginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode login: %v", err)
			}
			if req.Email != "ops@example.com" || req.Password != "secret" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			s.logins++
			s.tokenSeq++
			json.NewEncoder(w).Encode(loginResponse{Token: token(s.tokenSeq)})
		case "/orders/create/adhoc":
			auth := r.Header.Get("Authorization")
			if auth == "" || s.rejectTokens[auth] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&s.lastShipment); err != nil {
				t.Fatalf("decode shipment: %v", err)
			}
			s.shipments++
			w.Write([]byte(`{"shipment_id": 40123, "awb_code": "AWB40123", "courier_name": "Delhivery"}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}
}

func token(seq int) string {
	return "tok-" + string(rune('0'+seq))
}

func newCarrierClient(t *testing.T, stub *carrierStub) *Client {
	t.Helper()
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:        server.URL,
		Email:          "ops@example.com",
		Password:       "secret",
		PickupLocation: "Warehouse-1",
	})
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:         "order-1",
		Code:       "ORD-SHIP1",
		CustomerID: "cust-1",
		Items: []domain.OrderItem{
			{ProductID: "p1", SKU: "SKU-1", Qty: 2, UnitPriceMinor: 10000, DiscountedUnitPriceMinor: 8000},
		},
		ShippingAddress: domain.Address{
			Name: "Asha Rao", Phone: "+911234567890",
			Line1: "12 MG Road", City: "Bengaluru", State: "Karnataka",
			PostCode: "560001", Country: "India",
		},
		BillingSameAsShipping: false,
		BillingAddress: domain.Address{
			Name: "Asha Rao", Phone: "+911234567890",
			Line1: "4 Residency Road", City: "Bengaluru", State: "Karnataka",
			PostCode: "560025", Country: "India",
		},
		GrandTotalMinor: 16000,
		PaymentMethod:   domain.PaymentMethodRazorpay,
		CreatedAt:       time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func TestCreateShipment_LoginOnceThenCacheHit(t *testing.T) {
	stub := &carrierStub{}
	client := newCarrierClient(t, stub)

	shipment, err := client.CreateShipment(context.Background(), sampleOrder())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if shipment.ShipmentID != "40123" || shipment.WaybillCode != "AWB40123" || shipment.Courier != "Delhivery" {
		t.Fatalf("unexpected shipment: %+v", shipment)
	}

	if _, err := client.CreateShipment(context.Background(), sampleOrder()); err != nil {
		t.Fatalf("second shipment: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.logins != 1 {
		t.Fatalf("expected single login, got %d", stub.logins)
	}
	if stub.shipments != 2 {
		t.Fatalf("expected 2 shipments, got %d", stub.shipments)
	}
}

func TestCreateShipment_ExpiredTokenRelogins(t *testing.T) {
	stub := &carrierStub{}
	client := newCarrierClient(t, stub)

	if _, err := client.CreateShipment(context.Background(), sampleOrder()); err != nil {
		t.Fatalf("first shipment: %v", err)
	}

	// Кэш просрочен: следующий вызов логинится заново.
	client.tokens.Put(token(1), time.Now().UTC().Add(-time.Minute))

	if _, err := client.CreateShipment(context.Background(), sampleOrder()); err != nil {
		t.Fatalf("second shipment: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.logins != 2 {
		t.Fatalf("expected re-login, got %d logins", stub.logins)
	}
}

func TestCreateShipment_RetriesOnceOn401(t *testing.T) {
	stub := &carrierStub{rejectTokens: map[string]bool{"Bearer " + token(1): true}}
	client := newCarrierClient(t, stub)

	// Первый токен провайдер отозвал: клиент сбрасывает кэш и повторяет
	// запрос один раз со свежим токеном.
	shipment, err := client.CreateShipment(context.Background(), sampleOrder())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if shipment.WaybillCode != "AWB40123" {
		t.Fatalf("unexpected shipment: %+v", shipment)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.logins != 2 {
		t.Fatalf("expected 2 logins, got %d", stub.logins)
	}
	if stub.shipments != 1 {
		t.Fatalf("expected 1 accepted shipment, got %d", stub.shipments)
	}
}

func TestBuildShipmentRequest(t *testing.T) {
	order := sampleOrder()
	req := buildShipmentRequest(order, "Warehouse-1")

	if req.OrderID != "ORD-SHIP1" || req.PickupLocation != "Warehouse-1" {
		t.Fatalf("unexpected header fields: %+v", req)
	}
	if req.OrderDate != "2026-03-14 10:30" {
		t.Fatalf("unexpected order date: %q", req.OrderDate)
	}
	if req.PaymentMethod != "Prepaid" {
		t.Fatalf("expected Prepaid, got %q", req.PaymentMethod)
	}
	if req.SubTotal != "160.00" {
		t.Fatalf("unexpected sub total: %q", req.SubTotal)
	}

	if len(req.OrderItems) != 1 {
		t.Fatalf("expected one line, got %+v", req.OrderItems)
	}
	line := req.OrderItems[0]
	if line.SKU != "SKU-1" || line.Units != 2 {
		t.Fatalf("unexpected line: %+v", line)
	}
	// Цена в главных единицах после товарной скидки, скидка отдельно.
	if line.SellingPrice != "80.00" || line.Discount != "20.00" {
		t.Fatalf("unexpected pricing: %+v", line)
	}

	// Адреса различаются: shipping-блок заполняется явно.
	if req.ShippingIsBilling {
		t.Fatal("expected distinct shipping block")
	}
	if req.ShippingAddress != "12 MG Road" || req.BillingAddress != "4 Residency Road" {
		t.Fatalf("unexpected addresses: shipping=%q billing=%q", req.ShippingAddress, req.BillingAddress)
	}
	if req.Length != defaultDimensionCm || req.Weight != defaultWeightKg {
		t.Fatalf("expected default dimensions, got %+v", req)
	}
}

func TestBuildShipmentRequest_CODSameAddress(t *testing.T) {
	order := sampleOrder()
	order.PaymentMethod = domain.PaymentMethodCOD
	order.BillingSameAsShipping = true
	order.BillingAddress = order.ShippingAddress

	req := buildShipmentRequest(order, "Primary")
	if req.PaymentMethod != "COD" {
		t.Fatalf("expected COD, got %q", req.PaymentMethod)
	}
	if !req.ShippingIsBilling {
		t.Fatal("expected shipping_is_billing")
	}
	if req.ShippingAddress != "" {
		t.Fatalf("shipping block must be omitted, got %q", req.ShippingAddress)
	}
	if req.BillingAddress != "12 MG Road" {
		t.Fatalf("billing must mirror shipping, got %q", req.BillingAddress)
	}
}
