package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/amorozov/storefront/internal/domain"
)

func TestProductRepository_DecrementStock(t *testing.T) {
	repo := NewProductRepository()
	repo.Put(domain.Product{ID: "p1", SKU: "SKU-1", PriceMinor: 1000, Stock: 5})

	if err := repo.DecrementStock("p1", 3); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	product, _ := repo.Get("p1")
	if product.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", product.Stock)
	}

	var stockErr *domain.InsufficientStockError
	err := repo.DecrementStock("p1", 3)
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Requested != 3 || stockErr.Available != 2 {
		t.Fatalf("unexpected error details: %+v", stockErr)
	}
	// Неудачное списание остаток не трогает.
	product, _ = repo.Get("p1")
	if product.Stock != 2 {
		t.Fatalf("failed decrement must not change stock, got %d", product.Stock)
	}

	if err := repo.DecrementStock("missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_DecrementStockConcurrent(t *testing.T) {
	repo := NewProductRepository()
	repo.Put(domain.Product{ID: "p1", SKU: "SKU-1", PriceMinor: 1000, Stock: 10})

	var wg sync.WaitGroup
	failures := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DecrementStock("p1", 1); err != nil {
				failures <- err
			}
		}()
	}
	wg.Wait()
	close(failures)

	// Ровно 10 списаний проходят, остальные упираются в нулевой остаток.
	failed := 0
	for range failures {
		failed++
	}
	if failed != 10 {
		t.Fatalf("expected 10 rejected decrements, got %d", failed)
	}
	product, _ := repo.Get("p1")
	if product.Stock != 0 {
		t.Fatalf("expected zero stock, got %d", product.Stock)
	}
}

func TestProductRepository_Restock(t *testing.T) {
	repo := NewProductRepository()
	repo.Put(domain.Product{ID: "p1", SKU: "SKU-1", PriceMinor: 1000, Stock: 1})

	if err := repo.Restock("p1", 4); err != nil {
		t.Fatalf("restock: %v", err)
	}
	product, _ := repo.Get("p1")
	if product.Stock != 5 {
		t.Fatalf("expected stock 5, got %d", product.Stock)
	}

	if err := repo.Restock("missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
