package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Product represents a sellable catalog product and its stock level.
type Product struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	Category    *string   `db:"category"`
	PriceCents  int64     `db:"price_cents"`
	ImageURL    *string   `db:"image_url"`
	StockLevel  int       `db:"stock_level"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// CreateProductParams contains data for creating a product.
type CreateProductParams struct {
	Name        string
	Description *string
	Category    *string
	PriceCents  int64
	ImageURL    *string
	StockLevel  int
}

// UpdateProductParams contains data for updating a product.
// Nil fields are left untouched.
type UpdateProductParams struct {
	ID          uuid.UUID
	Name        *string
	Description *string
	Category    *string
	PriceCents  *int64
	ImageURL    *string
}

// ListProductsParams defines filters for listing products.
type ListProductsParams struct {
	Search    string
	Category  string
	InStock   bool
	Offset    int
	Limit     int
	SortBy    string
	SortOrder string
}

// Repository defines catalog storage operations.
type Repository interface {
	CreateProduct(ctx context.Context, params CreateProductParams) (Product, error)
	UpdateProduct(ctx context.Context, params UpdateProductParams) (Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProductByID(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]Product, int, error)
	// ListCategories returns the distinct non-empty categories in use, sorted.
	ListCategories(ctx context.Context) ([]string, error)
	// AdjustStock applies delta to the stock level. It never lets the level drop below zero.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (Product, error)
}
