package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/orderable/products-api/internal/catalog"
	domain "github.com/orderable/products-api/internal/domain"
	"github.com/orderable/products-api/internal/platform/docstore"
	"github.com/orderable/products-api/internal/platform/httpx"
	"github.com/orderable/products-api/internal/platform/pagination"
	"github.com/orderable/products-api/internal/platform/requestctx"
	"github.com/orderable/products-api/internal/services"
)

const (
	defaultMaxBatch = 50

	idsParam    = "id[]"
	expandParam = "expand[]"
)

// ProductHandlers serves the product CRUD routes and the product type listing.
type ProductHandlers struct {
	products services.ProductService
	payloads *payloadValidator
	maxBatch int
}

// ProductOption customises construction of ProductHandlers.
type ProductOption func(*ProductHandlers)

func WithProductService(svc services.ProductService) ProductOption {
	return func(h *ProductHandlers) {
		h.products = svc
	}
}

// WithProductTypes enables the product_type membership check on payloads.
func WithProductTypes(types *catalog.ProductTypes) ProductOption {
	return func(h *ProductHandlers) {
		h.payloads = newPayloadValidator(types)
	}
}

// WithProductMaxBatch caps the number of ids accepted by GET /products.
func WithProductMaxBatch(n int) ProductOption {
	return func(h *ProductHandlers) {
		if n > 0 {
			h.maxBatch = n
		}
	}
}

func NewProductHandlers(opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{maxBatch: defaultMaxBatch}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.payloads == nil {
		h.payloads = newPayloadValidator(nil)
	}
	return h
}

// Routes registers product endpoints against the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/products", h.createProduct)
	r.Get("/products", h.getProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Get("/product-types/{productType}/products", h.listProductsByType)
}

type productListResponse struct {
	Products      []services.Product `json:"products"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	fields, err := h.payloads.decode(r.Body)
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}

	product, err := h.products.Create(r.Context(), services.CreateProductCommand{Fields: fields})
	if err != nil {
		writeProductError(r.Context(), w, err)
		return
	}

	w.Header().Set("Location", "/products/"+url.PathEscape(product.ID))
	httpx.WriteJSON(r.Context(), w, http.StatusCreated, product)
}

func (h *ProductHandlers) getProducts(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	query := r.URL.Query()
	ids, err := h.parseIDs(query)
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}
	expand, err := parseExpand(query)
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}

	products, err := h.products.GetMany(r.Context(), ids, services.ProductReadOptions{Expand: expand})
	if err != nil {
		writeProductError(r.Context(), w, err)
		return
	}
	if products == nil {
		products = []services.Product{}
	}
	httpx.WriteJSON(r.Context(), w, http.StatusOK, products)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	expand, err := parseExpand(r.URL.Query())
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}

	product, err := h.products.Get(r.Context(), productID, services.ProductReadOptions{Expand: expand})
	if err != nil {
		writeProductError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(r.Context(), w, http.StatusOK, product)
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	fields, err := h.payloads.decode(r.Body)
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}

	product, err := h.products.Update(r.Context(), services.UpdateProductCommand{ProductID: productID, Fields: fields})
	if err != nil {
		writeProductError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(r.Context(), w, http.StatusOK, product)
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.products.Delete(r.Context(), productID); err != nil {
		writeProductError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) listProductsByType(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	productType := strings.TrimSpace(chi.URLParam(r, "productType"))
	if productType == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_product_type", "product type is required", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		FilterFields: []string{domain.FieldCategoryID},
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	expand, err := parseExpand(r.URL.Query())
	if err != nil {
		writePayloadError(r.Context(), w, err)
		return
	}
	categoryID, _ := params.Filter(domain.FieldCategoryID)

	page, err := h.products.ListByType(r.Context(), services.ProductListFilter{
		ProductType: productType,
		CategoryID:  categoryID,
		Expand:      expand,
		Pagination:  domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeProductError(r.Context(), w, err)
		return
	}

	items := page.Items
	if items == nil {
		items = []services.Product{}
	}
	httpx.WriteJSON(r.Context(), w, http.StatusOK, productListResponse{Products: items, NextPageToken: page.NextPageToken})
}

func (h *ProductHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.products != nil {
		return true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("product_service_unavailable", "product service is unavailable", http.StatusServiceUnavailable))
	return false
}

// parseIDs accepts only the array form id[]=a&id[]=b.
func (h *ProductHandlers) parseIDs(query url.Values) ([]string, error) {
	ids, ok := query[idsParam]
	if !ok {
		if _, scalar := query["id"]; scalar {
			return nil, &fieldError{field: "id", reason: `"id" must be an array`}
		}
		return nil, &fieldError{field: "id", reason: `"id" is required`}
	}
	if len(ids) > h.maxBatch {
		return nil, &fieldError{field: "id", reason: fmt.Sprintf(`"id" must contain less than or equal to %d items`, h.maxBatch)}
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, &fieldError{field: "id", reason: fmt.Sprintf(`"id" at position %d fails because ["%d" is not allowed to be empty]`, i, i)}
		}
		out = append(out, id)
	}
	return out, nil
}

func parseExpand(query url.Values) ([]string, error) {
	raw := query[expandParam]
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for i, value := range raw {
		value = strings.TrimSpace(value)
		if value != catalog.ExpandCategory {
			return nil, &fieldError{field: "expand", reason: fmt.Sprintf(`"expand" at position %d fails because ["%d" must be one of [%s]]`, i, i, catalog.ExpandCategory)}
		}
		out = append(out, value)
	}
	return out, nil
}

func productIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_product_id", "product id is required", http.StatusBadRequest))
		return "", false
	}
	return productID, true
}

func writePayloadError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	var typeErr *catalog.ValidationError
	switch {
	case errors.As(err, &typeErr):
		message := (&fieldError{field: domain.FieldProductTypeAttributes, reason: typeErr.Error()}).Error()
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest).WithDetails(map[string]any{
			"product_type_validation_error":     true,
			"required_product_type_attributes":  typeErr.Required,
			"forbidden_product_type_attributes": typeErr.Forbidden,
			"invalid_product_type_attributes":   typeErr.Invalid,
		}))
	case docstore.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, docstore.ErrInvalidArgument):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case docstore.IsConflict(err):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", "product already exists", http.StatusConflict))
	case docstore.IsUnavailable(err):
		requestctx.Logger(ctx).Error("product store unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "product store is unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("product request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "an internal server error occurred", http.StatusInternalServerError))
	}
}
