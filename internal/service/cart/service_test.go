package cart

import (
	"testing"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/service/coupon"
	"github.com/amorozov/storefront/internal/storage/memory"
)

type catalog interface {
	domain.ProductRepository
	Put(domain.Product)
}

type couponSeeder interface {
	domain.CouponRepository
	Put(domain.Coupon)
}

type testEnv struct {
	products catalog
	carts    domain.CartRepository
	coupons  couponSeeder
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	products := memory.NewProductRepository()
	carts := memory.NewCartRepository()
	coupons := memory.NewCouponRepository()
	validator := coupon.NewValidator(coupons, products, carts, nil)
	return &testEnv{
		products: products,
		carts:    carts,
		coupons:  coupons,
		svc:      NewService(carts, products, validator, nil),
	}
}

func (e *testEnv) seedProduct(t *testing.T, id string, priceMinor, discountMinor int64) {
	t.Helper()
	e.products.Put(domain.Product{
		ID:                 id,
		SKU:                "SKU-" + id,
		CategoryID:         "general",
		PriceMinor:         priceMinor,
		DiscountPriceMinor: discountMinor,
		Stock:              100,
	})
}

func TestAddItem_NewAndIncrement(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)

	view, err := env.svc.AddItem("cust-1", "p1", 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].Qty != 2 {
		t.Fatalf("unexpected cart items: %+v", view.Cart.Items)
	}
	if view.Cart.Items[0].PriceAtAddMinor != 10000 {
		t.Fatalf("expected price snapshot 10000, got %d", view.Cart.Items[0].PriceAtAddMinor)
	}

	// Повторное добавление того же товара увеличивает количество.
	view, err = env.svc.AddItem("cust-1", "p1", 3)
	if err != nil {
		t.Fatalf("add item again: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].Qty != 5 {
		t.Fatalf("expected merged line qty 5, got %+v", view.Cart.Items)
	}
	if view.Totals.SubtotalMinor != 50000 {
		t.Fatalf("expected subtotal 50000, got %d", view.Totals.SubtotalMinor)
	}
}

func TestAddItem_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)

	if _, err := env.svc.AddItem("cust-1", "p1", 0); err != domain.ErrItemQtyInvalid {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if _, err := env.svc.AddItem("cust-1", "missing", 1); err != domain.ErrProductNotFound {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestUpdateQty(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)
	if _, err := env.svc.AddItem("cust-1", "p1", 2); err != nil {
		t.Fatalf("add item: %v", err)
	}

	view, err := env.svc.UpdateQty("cust-1", "p1", 7)
	if err != nil {
		t.Fatalf("update qty: %v", err)
	}
	if view.Cart.Items[0].Qty != 7 {
		t.Fatalf("expected qty 7, got %d", view.Cart.Items[0].Qty)
	}

	if _, err := env.svc.UpdateQty("cust-1", "p1", -1); err != domain.ErrItemQtyInvalid {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if _, err := env.svc.UpdateQty("cust-1", "absent", 1); err != domain.ErrProductNotFound {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	// Нулевое количество эквивалентно удалению позиции.
	view, err = env.svc.UpdateQty("cust-1", "p1", 0)
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(view.Cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", view.Cart.Items)
	}
}

func TestRemoveItem(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)
	env.seedProduct(t, "p2", 5000, 0)
	if _, err := env.svc.AddItem("cust-1", "p1", 1); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if _, err := env.svc.AddItem("cust-1", "p2", 1); err != nil {
		t.Fatalf("add p2: %v", err)
	}

	view, err := env.svc.RemoveItem("cust-1", "p1")
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductID != "p2" {
		t.Fatalf("unexpected items after remove: %+v", view.Cart.Items)
	}

	if _, err := env.svc.RemoveItem("cust-1", "p1"); err != domain.ErrProductNotFound {
		t.Fatalf("expected ErrProductNotFound on second remove, got %v", err)
	}
}

func TestGet_RecomputesTotalsFromCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)
	if _, err := env.svc.AddItem("cust-1", "p1", 2); err != nil {
		t.Fatalf("add item: %v", err)
	}

	// Каталог подешевел после добавления: итоги берут живую цену,
	// снимок в позиции остаётся справочным.
	env.seedProduct(t, "p1", 10000, 8000)

	view, err := env.svc.Get("cust-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if view.Totals.SubtotalMinor != 20000 {
		t.Fatalf("expected subtotal 20000, got %d", view.Totals.SubtotalMinor)
	}
	if view.Totals.ProductDiscountMinor != 4000 {
		t.Fatalf("expected product discount 4000, got %d", view.Totals.ProductDiscountMinor)
	}
	if view.Totals.GrandTotalMinor != 16000 {
		t.Fatalf("expected grand total 16000, got %d", view.Totals.GrandTotalMinor)
	}
	if view.Cart.Items[0].PriceAtAddMinor != 10000 {
		t.Fatalf("price snapshot must not change, got %d", view.Cart.Items[0].PriceAtAddMinor)
	}
}

func TestGet_DropsVanishedProduct(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)
	env.seedProduct(t, "p2", 5000, 0)
	if _, err := env.svc.AddItem("cust-1", "p1", 1); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if _, err := env.svc.AddItem("cust-1", "p2", 1); err != nil {
		t.Fatalf("add p2: %v", err)
	}

	// p2 исчезает из каталога: корзина чистится при чтении, а не падает.
	cart, err := env.carts.Get("cust-1")
	if err != nil {
		t.Fatalf("load cart: %v", err)
	}
	vanished := memory.NewProductRepository()
	vanished.Put(domain.Product{ID: "p1", SKU: "SKU-p1", CategoryID: "general", PriceMinor: 10000, Stock: 100})
	env.svc = NewService(env.carts, vanished, nil, nil)
	if err := env.carts.Save(cart); err != nil {
		t.Fatalf("save cart: %v", err)
	}

	view, err := env.svc.Get("cust-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductID != "p1" {
		t.Fatalf("expected only p1 to survive, got %+v", view.Cart.Items)
	}

	persisted, err := env.carts.Get("cust-1")
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if len(persisted.Items) != 1 {
		t.Fatalf("cleanup must be persisted, got %+v", persisted.Items)
	}
}

func TestMutation_RevalidatesCoupon(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)

	env.coupons.Put(domain.Coupon{
		ID:            "coupon-min",
		Code:          "MIN30",
		Type:          domain.CouponTypeFlat,
		ValueMinor:    2000,
		MinOrderMinor: 30000,
		Active:        true,
	})

	if _, err := env.svc.AddItem("cust-1", "p1", 3); err != nil {
		t.Fatalf("add item: %v", err)
	}
	validator := coupon.NewValidator(env.coupons, env.products, env.carts, nil)
	if _, err := validator.Apply("cust-1", "MIN30"); err != nil {
		t.Fatalf("apply coupon: %v", err)
	}

	// Корзина падает ниже минимума купона — купон снимается мутацией.
	view, err := env.svc.UpdateQty("cust-1", "p1", 1)
	if err != nil {
		t.Fatalf("update qty: %v", err)
	}
	if view.Cart.Coupon != nil {
		t.Fatalf("expected coupon dropped, got %+v", view.Cart.Coupon)
	}
	if view.Totals.CouponDiscountMinor != 0 {
		t.Fatalf("expected zero coupon discount, got %d", view.Totals.CouponDiscountMinor)
	}
}

func TestClear(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10000, 0)
	if _, err := env.svc.AddItem("cust-1", "p1", 1); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := env.svc.Clear("cust-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	view, err := env.svc.Get("cust-1")
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}
	if !view.Cart.Empty() {
		t.Fatalf("expected empty cart, got %+v", view.Cart.Items)
	}
}
