package services

import (
	"context"

	domain "github.com/orderable/products-api/internal/domain"
)

type (
	Product            = domain.Record
	SystemHealthReport = domain.SystemHealthReport
)

// ProductService owns the product lifecycle: validation, persistence, category
// expansion and indexing notifications.
type ProductService interface {
	Create(ctx context.Context, cmd CreateProductCommand) (Product, error)
	Get(ctx context.Context, productID string, opts ProductReadOptions) (Product, error)
	// GetMany omits ids that do not exist. Result order is not guaranteed.
	GetMany(ctx context.Context, productIDs []string, opts ProductReadOptions) ([]Product, error)
	Update(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	Delete(ctx context.Context, productID string) error
	ListByType(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// SystemService exposes health reports and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateProductCommand carries client supplied fields for a new product.
type CreateProductCommand struct {
	Fields map[string]any
}

// UpdateProductCommand replaces the domain fields of an existing product.
type UpdateProductCommand struct {
	ProductID string
	Fields    map[string]any
}

// ProductReadOptions lists the expansions to apply on read. Only "category" is known.
type ProductReadOptions struct {
	Expand []string
}

// ProductListFilter selects products of one type, optionally narrowed to a category.
type ProductListFilter struct {
	ProductType string
	CategoryID  string
	Expand      []string
	Pagination  domain.Pagination
}
