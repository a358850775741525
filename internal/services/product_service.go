package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/orderable/products-api/internal/catalog"
	domain "github.com/orderable/products-api/internal/domain"
	"github.com/orderable/products-api/internal/indexing"
	"github.com/orderable/products-api/internal/platform/docstore"
	"github.com/orderable/products-api/internal/platform/pagination"
	"github.com/orderable/products-api/internal/platform/requestctx"
)

const (
	defaultProductPageSize = 50
	maxProductPageSize     = 100
)

// ProductServiceDeps bundles collaborators required to construct a product service.
type ProductServiceDeps struct {
	Store        *docstore.EntityStore
	Categories   *catalog.Categories
	ProductTypes *catalog.ProductTypes
	Notifier     indexing.Notifier
	IDGenerator  func() string
}

type productService struct {
	store      *docstore.EntityStore
	categories *catalog.Categories
	types      *catalog.ProductTypes
	notifier   indexing.Notifier
	newID      func() string
}

var _ ProductService = (*productService)(nil)

// NewProductService wires the product service. Notifier defaults to discarding
// notifications and IDGenerator to a ULID.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Store == nil {
		return nil, errors.New("product service: entity store is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("product service: category table is required")
	}
	if deps.ProductTypes == nil {
		return nil, errors.New("product service: product type table is required")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = indexing.Discard{}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &productService{
		store:      deps.Store,
		categories: deps.Categories,
		types:      deps.ProductTypes,
		notifier:   notifier,
		newID:      newID,
	}, nil
}

func (s *productService) Create(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	record := domain.NewRecord(cmd.Fields)
	if err := s.types.ValidateRecord(record).Err(); err != nil {
		return Product{}, err
	}

	key, err := docstore.ProductKey(s.newID())
	if err != nil {
		return Product{}, err
	}
	created, err := s.store.Create(ctx, key, record)
	if err != nil {
		return Product{}, err
	}

	s.notify(ctx, created)
	return created, nil
}

func (s *productService) Get(ctx context.Context, productID string, opts ProductReadOptions) (Product, error) {
	key, err := docstore.ProductKey(productID)
	if err != nil {
		return Product{}, err
	}
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return Product{}, err
	}
	return s.categories.ExpandRecord(record, opts.Expand), nil
}

func (s *productService) GetMany(ctx context.Context, productIDs []string, opts ProductReadOptions) ([]Product, error) {
	if len(productIDs) == 0 {
		return []Product{}, nil
	}
	keys := make([]docstore.Key, 0, len(productIDs))
	for _, id := range productIDs {
		key, err := docstore.ProductKey(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	records, err := s.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	return s.categories.ExpandMany(records, opts.Expand), nil
}

func (s *productService) Update(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	key, err := docstore.ProductKey(cmd.ProductID)
	if err != nil {
		return Product{}, err
	}
	record := domain.NewRecord(cmd.Fields)
	if err := s.types.ValidateRecord(record).Err(); err != nil {
		return Product{}, err
	}

	updated, err := s.store.Update(ctx, key, record)
	if err != nil {
		return Product{}, err
	}

	s.notify(ctx, updated)
	return updated, nil
}

func (s *productService) Delete(ctx context.Context, productID string) error {
	key, err := docstore.ProductKey(productID)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, key)
}

func (s *productService) ListByType(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	productType := strings.TrimSpace(filter.ProductType)
	if productType == "" {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: product type is required", docstore.ErrInvalidArgument)
	}

	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultProductPageSize
	case pageSize > maxProductPageSize:
		pageSize = maxProductPageSize
	}

	startAfter, err := startAfterFromToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}

	query := docstore.Query{
		Kind:       docstore.ProductKind,
		Filters:    []docstore.Filter{{Field: domain.FieldProductType, Value: productType}},
		Limit:      pageSize + 1,
		StartAfter: startAfter,
	}
	if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
		query.Filters = append(query.Filters, docstore.Filter{Field: domain.FieldCategoryID, Value: categoryID})
	}

	records, err := s.store.RunQuery(ctx, query)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}

	page := domain.CursorPage[Product]{}
	if len(records) > pageSize {
		records = records[:pageSize]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{records[len(records)-1].ID}})
		if err != nil {
			return domain.CursorPage[Product]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = s.categories.ExpandMany(records, filter.Expand)
	return page, nil
}

// notify hands the category-expanded record to the indexer. The dispatcher never
// blocks and never fails the write.
func (s *productService) notify(ctx context.Context, record Product) {
	expanded := s.categories.ExpandRecord(record, []string{catalog.ExpandCategory})
	requestctx.Logger(ctx).Debug("product queued for indexing", zap.String("product_id", record.ID))
	s.notifier.ProductUpdated(ctx, expanded)
}

func startAfterFromToken(token string) (string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	}
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	id, ok := cursor.StartAfter[0].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: malformed page token", docstore.ErrInvalidArgument)
	}
	return id, nil
}
