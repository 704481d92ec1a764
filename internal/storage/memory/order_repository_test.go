package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/amorozov/storefront/internal/domain"
)

func seedOrder(t *testing.T, repo domain.OrderRepository, mutate func(*domain.Order)) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:         "order-1",
		Code:       "ORD-1",
		CustomerID: "cust-1",
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&order)
	}
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, nil)

	order, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Code != "ORD-1" {
		t.Fatalf("unexpected order: %+v", order)
	}

	if err := repo.Create(domain.Order{ID: "order-1"}); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("duplicate create must conflict, got %v", err)
	}
	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_SaveChecksVersion(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, nil)

	current, _ := repo.Get("order-1")
	stale := current

	current.Status = domain.OrderStatusProcessing
	if err := repo.Save(current); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Конкурент со старой версией проигрывает гонку.
	stale.Status = domain.OrderStatusCanceled
	if err := repo.Save(stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	saved, _ := repo.Get("order-1")
	if saved.Status != domain.OrderStatusProcessing {
		t.Fatalf("stale write must not land, got %q", saved.Status)
	}
	if saved.Version != current.Version+1 {
		t.Fatalf("expected version bump, got %d", saved.Version)
	}
}

func TestOrderRepository_GetForCustomer(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, nil)

	if _, err := repo.GetForCustomer("cust-1", "order-1"); err != nil {
		t.Fatalf("own order: %v", err)
	}
	// Чужой заказ неотличим от отсутствующего.
	if _, err := repo.GetForCustomer("cust-2", "order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("foreign order must look missing, got %v", err)
	}
}

func TestOrderRepository_FindByCorrelation(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, func(o *domain.Order) {
		o.WaybillCode = "AWB123"
		o.ShipmentID = "ship-9"
	})

	byWaybill, err := repo.FindByCorrelation("AWB123", "", "")
	if err != nil || byWaybill.ID != "order-1" {
		t.Fatalf("find by waybill: %v %+v", err, byWaybill)
	}
	byShipment, err := repo.FindByCorrelation("", "ship-9", "")
	if err != nil || byShipment.ID != "order-1" {
		t.Fatalf("find by shipment: %v %+v", err, byShipment)
	}
	byCode, err := repo.FindByCorrelation("", "", "ORD-1")
	if err != nil || byCode.ID != "order-1" {
		t.Fatalf("find by code: %v %+v", err, byCode)
	}
	if _, err := repo.FindByCorrelation("", "", ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("empty keys must not match, got %v", err)
	}
}

func TestOrderRepository_FindByGatewayOrderID(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, func(o *domain.Order) {
		o.GatewayOrderID = "order_Nxyz"
	})

	order, err := repo.FindByGatewayOrderID("order_Nxyz")
	if err != nil || order.ID != "order-1" {
		t.Fatalf("find by gateway id: %v %+v", err, order)
	}
	if _, err := repo.FindByGatewayOrderID(""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("empty gateway id must not match, got %v", err)
	}
}

func TestOrderRepository_ListExpiredReservations(t *testing.T) {
	repo := NewOrderRepository()
	now := time.Now().UTC()

	expired := domain.Order{ID: "o-expired", CustomerID: "c", ReservationExpiresAt: now.Add(-time.Minute)}
	fresh := domain.Order{ID: "o-fresh", CustomerID: "c", ReservationExpiresAt: now.Add(time.Hour)}
	released := domain.Order{ID: "o-released", CustomerID: "c", ReservationExpiresAt: now.Add(-time.Minute), ReservationReleased: true}
	paid := domain.Order{ID: "o-paid", CustomerID: "c", ReservationExpiresAt: now.Add(-time.Minute), PaymentStatus: domain.PaymentStatusPaid}
	for _, order := range []domain.Order{expired, fresh, released, paid} {
		if err := repo.Create(order); err != nil {
			t.Fatalf("create %s: %v", order.ID, err)
		}
	}

	result, err := repo.ListExpiredReservations(now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result) != 1 || result[0].ID != "o-expired" {
		t.Fatalf("expected only expired unpaid reservation, got %+v", result)
	}
}

func TestOrderRepository_ListByCustomerNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	base := time.Now().UTC()
	for i, id := range []string{"o1", "o2", "o3"} {
		order := domain.Order{ID: id, CustomerID: "cust-1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.Create(domain.Order{ID: "other", CustomerID: "cust-2", CreatedAt: base}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	result, err := repo.ListByCustomer("cust-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result) != 2 || result[0].ID != "o3" || result[1].ID != "o2" {
		t.Fatalf("expected newest two orders, got %+v", result)
	}
}
