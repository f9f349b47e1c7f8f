package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm_backend/internal/catalog/repository"
	"crm_backend/internal/catalog/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
)

// Service provides business logic for catalog.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
}

// New creates a new catalog service.
func New(repo repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// GetProductByID retrieves a product by ID.
func (s *Service) GetProductByID(ctx context.Context, id uuid.UUID) (transport.ProductResponse, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return transport.ProductResponse{}, err
	}
	return toProductResponse(product), nil
}

// ListCategories returns the categories products are filed under.
func (s *Service) ListCategories(ctx context.Context) (transport.CategoryListResponse, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return transport.CategoryListResponse{}, err
	}
	if categories == nil {
		categories = []string{}
	}
	return transport.CategoryListResponse{Categories: categories}, nil
}

// ListProducts retrieves products with search and pagination.
func (s *Service) ListProducts(ctx context.Context, req transport.ListProductsRequest) (transport.ProductListResponse, error) {
	page := req.Page
	pageSize := req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	items, total, err := s.repo.ListProducts(ctx, repository.ListProductsParams{
		Search:    strings.TrimSpace(req.Search),
		Category:  strings.TrimSpace(req.Category),
		InStock:   req.InStock,
		Offset:    (page - 1) * pageSize,
		Limit:     pageSize,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return transport.ProductListResponse{}, err
	}

	return toProductListResponse(items, total, page, pageSize), nil
}

// CreateProduct creates a new product.
func (s *Service) CreateProduct(ctx context.Context, req transport.CreateProductRequest) (transport.ProductResponse, error) {
	priceCents, err := toCents(req.Price)
	if err != nil {
		return transport.ProductResponse{}, err
	}

	product, err := s.repo.CreateProduct(ctx, repository.CreateProductParams{
		Name:        strings.TrimSpace(req.Name),
		Description: trimPtr(req.Description),
		Category:    trimPtr(req.Category),
		PriceCents:  priceCents,
		ImageURL:    trimPtr(req.ImageURL),
		StockLevel:  req.StockLevel,
	})
	if err != nil {
		return transport.ProductResponse{}, err
	}

	s.log.Info("product created", "id", product.ID, "name", product.Name)
	return toProductResponse(product), nil
}

// UpdateProduct updates an existing product. Stock is only changed through AdjustStock.
func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, req transport.UpdateProductRequest) (transport.ProductResponse, error) {
	var priceCents *int64
	if req.Price != nil {
		cents, err := toCents(*req.Price)
		if err != nil {
			return transport.ProductResponse{}, err
		}
		priceCents = &cents
	}

	product, err := s.repo.UpdateProduct(ctx, repository.UpdateProductParams{
		ID:          id,
		Name:        trimPtr(req.Name),
		Description: trimPtr(req.Description),
		Category:    trimPtr(req.Category),
		PriceCents:  priceCents,
		ImageURL:    trimPtr(req.ImageURL),
	})
	if err != nil {
		return transport.ProductResponse{}, err
	}

	s.log.Info("product updated", "id", product.ID)
	return toProductResponse(product), nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.log.Info("product deleted", "id", id)
	return nil
}

// AdjustStock changes the stock level by delta.
func (s *Service) AdjustStock(ctx context.Context, id uuid.UUID, req transport.AdjustStockRequest) (transport.ProductResponse, error) {
	if req.Delta == 0 {
		return transport.ProductResponse{}, apperr.Validation("delta must not be zero")
	}

	product, err := s.repo.AdjustStock(ctx, id, req.Delta)
	if err != nil {
		return transport.ProductResponse{}, err
	}

	s.log.Info("product stock adjusted", "id", id, "delta", req.Delta, "stockLevel", product.StockLevel, "reason", req.Reason)
	return toProductResponse(product), nil
}

func toCents(price decimal.Decimal) (int64, error) {
	if price.IsNegative() {
		return 0, apperr.Validation("price must not be negative")
	}
	return price.Round(2).Shift(2).IntPart(), nil
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func toProductResponse(p repository.Product) transport.ProductResponse {
	return transport.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       decimal.New(p.PriceCents, -2),
		ImageURL:    p.ImageURL,
		StockLevel:  p.StockLevel,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProductListResponse(items []repository.Product, total, page, pageSize int) transport.ProductListResponse {
	responses := make([]transport.ProductResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toProductResponse(item))
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	return transport.ProductListResponse{
		Items:      responses,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
