package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm_backend/internal/catalog/repository"
	"crm_backend/internal/catalog/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
)

type fakeRepo struct {
	repository.Repository
	created    repository.CreateProductParams
	products   map[uuid.UUID]repository.Product
	lastDelta  int
	adjustHit  bool
	listed     repository.ListProductsParams
	categories []string
}

func (f *fakeRepo) CreateProduct(_ context.Context, params repository.CreateProductParams) (repository.Product, error) {
	f.created = params
	return repository.Product{ID: uuid.New(), Name: params.Name, PriceCents: params.PriceCents, StockLevel: params.StockLevel}, nil
}

func (f *fakeRepo) AdjustStock(_ context.Context, id uuid.UUID, delta int) (repository.Product, error) {
	f.adjustHit = true
	f.lastDelta = delta
	p, ok := f.products[id]
	if !ok {
		return repository.Product{}, apperr.NotFound("product not found")
	}
	p.StockLevel += delta
	return p, nil
}

func (f *fakeRepo) ListProducts(_ context.Context, params repository.ListProductsParams) ([]repository.Product, int, error) {
	f.listed = params
	return []repository.Product{{ID: uuid.New(), Name: "Mouse", PriceCents: 1999}}, 41, nil
}

func (f *fakeRepo) ListCategories(context.Context) ([]string, error) {
	return f.categories, nil
}

func newTestService(repo *fakeRepo) *Service {
	return New(repo, logger.New("test"))
}

func TestCreateProductStoresCents(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo)

	resp, err := svc.CreateProduct(context.Background(), transport.CreateProductRequest{
		Name:       "  Keyboard ",
		Price:      decimal.RequireFromString("49.995"),
		StockLevel: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.created.PriceCents != 5000 {
		t.Fatalf("expected 5000 cents, got %d", repo.created.PriceCents)
	}
	if repo.created.Name != "Keyboard" {
		t.Fatalf("expected trimmed name, got %q", repo.created.Name)
	}
	if !resp.Price.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected price 50, got %s", resp.Price)
	}
}

func TestCreateProductRejectsNegativePrice(t *testing.T) {
	svc := newTestService(&fakeRepo{})
	_, err := svc.CreateProduct(context.Background(), transport.CreateProductRequest{
		Name:  "Broken",
		Price: decimal.NewFromInt(-1),
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdjustStockRejectsZeroDelta(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo)
	_, err := svc.AdjustStock(context.Background(), uuid.New(), transport.AdjustStockRequest{Delta: 0})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.adjustHit {
		t.Fatal("repository must not be called for a zero delta")
	}
}

func TestAdjustStockAppliesDelta(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{products: map[uuid.UUID]repository.Product{id: {ID: id, StockLevel: 2}}}
	svc := newTestService(repo)

	resp, err := svc.AdjustStock(context.Background(), id, transport.AdjustStockRequest{Delta: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StockLevel != 7 {
		t.Fatalf("expected stock 7, got %d", resp.StockLevel)
	}
}

func TestListProductsClampsPaging(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo)

	resp, err := svc.ListProducts(context.Background(), transport.ListProductsRequest{Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.listed.Limit != 100 || repo.listed.Offset != 200 {
		t.Fatalf("unexpected paging limit=%d offset=%d", repo.listed.Limit, repo.listed.Offset)
	}
	if resp.TotalPages != 1 {
		t.Fatalf("expected 1 page for 41 items of 100, got %d", resp.TotalPages)
	}
}

func TestListCategories(t *testing.T) {
	svc := newTestService(&fakeRepo{categories: []string{"Audio", "Peripherals"}})

	got, err := svc.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Categories) != 2 || got.Categories[0] != "Audio" || got.Categories[1] != "Peripherals" {
		t.Fatalf("unexpected categories %v", got.Categories)
	}
}

func TestListCategoriesEmptyIsNotNull(t *testing.T) {
	got, err := newTestService(&fakeRepo{}).ListCategories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Categories == nil {
		t.Fatal("expected an empty list, not nil")
	}
}
