package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/orderable/products-api/internal/catalog"
	"github.com/orderable/products-api/internal/platform/auth"
	"github.com/orderable/products-api/internal/platform/docstore"
	"github.com/orderable/products-api/internal/services"
)

var productsTestSecret = []byte("products-handler-secret")

type productsFixture struct {
	router http.Handler
	mem    *docstore.MemoryStore
}

func newProductsFixture(t *testing.T, maxBatch int) *productsFixture {
	t.Helper()
	mem := docstore.NewMemoryStore()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store, err := docstore.NewEntityStore(mem, docstore.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	if err != nil {
		t.Fatalf("NewEntityStore: %v", err)
	}
	categories, err := catalog.LoadCategories("")
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	types, err := catalog.LoadProductTypes("")
	if err != nil {
		t.Fatalf("LoadProductTypes: %v", err)
	}
	seq := 0
	svc, err := services.NewProductService(services.ProductServiceDeps{
		Store:        store,
		Categories:   categories,
		ProductTypes: types,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("p-%02d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}

	verifier, err := auth.NewHS256Verifier(base64.StdEncoding.EncodeToString(productsTestSecret))
	if err != nil {
		t.Fatalf("NewHS256Verifier: %v", err)
	}
	handlers := NewProductHandlers(
		WithProductService(svc),
		WithProductTypes(types),
		WithProductMaxBatch(maxBatch),
	)
	router := NewRouter(
		WithProductRoutes(handlers.Routes),
		WithProductMiddlewares(auth.NewAuthenticator(verifier).RequireJWT),
	)
	return &productsFixture{router: router, mem: mem}
}

func testToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(productsTestSecret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func (f *productsFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithToken(t, method, target, body, testToken(t, jwt.SigningMethodHS256, jwt.MapClaims{}))
}

func (f *productsFixture) doWithToken(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func avocadoPayload() map[string]any {
	return map[string]any{
		"name":              "Hass Avocado",
		"product_type":      "test_product",
		"brand":             "PARKWAY greens",
		"category_id":       "6572",
		"description":       "this is a really really really nice avocado",
		"short_description": "this is a nice avocado",
		"pack_size":         float64(24),
		"unit_size":         "test_unit_size",
		"taxable":           false,
		"in_stock":          true,
		"product_type_attributes": []any{
			map[string]any{"name": "test_attribute", "values": []any{"a"}},
		},
	}
}

func decodeObject(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body
}

func metadataTime(t *testing.T, body map[string]any, key string) time.Time {
	t.Helper()
	meta, ok := body["_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected _metadata object, got %#v", body["_metadata"])
	}
	raw, ok := meta[key].(string)
	if !ok {
		t.Fatalf("expected _metadata.%s, got %#v", key, meta)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.Fatalf("parse %s: %v", key, err)
	}
	return ts
}

func withoutSystemFields(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == "id" || k == "_metadata" {
			continue
		}
		out[k] = v
	}
	return out
}

func TestProductLifecycle(t *testing.T) {
	f := newProductsFixture(t, 0)

	created := f.do(t, http.MethodPost, "/products", avocadoPayload())
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	createdBody := decodeObject(t, created)
	id, _ := createdBody["id"].(string)
	if id != "p-01" {
		t.Fatalf("expected generated id p-01, got %v", createdBody["id"])
	}
	if loc := created.Header().Get("Location"); loc != "/products/p-01" {
		t.Fatalf("unexpected Location %q", loc)
	}
	if !reflect.DeepEqual(withoutSystemFields(createdBody), avocadoPayload()) {
		t.Fatalf("created product differs from payload: %#v", createdBody)
	}
	createdAt := metadataTime(t, createdBody, "created")
	if _, ok := createdBody["_metadata"].(map[string]any)["updated"]; ok {
		t.Fatalf("a new product must not carry an updated stamp")
	}

	got := f.do(t, http.MethodGet, "/products/"+id, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", got.Code)
	}
	if !reflect.DeepEqual(decodeObject(t, got), createdBody) {
		t.Fatalf("get returned %s, want %v", got.Body.String(), createdBody)
	}

	changes := avocadoPayload()
	changes["name"] = "Fuerte Avocado"
	updated := f.do(t, http.MethodPut, "/products/"+id, changes)
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", updated.Code, updated.Body.String())
	}
	updatedBody := decodeObject(t, updated)
	if !metadataTime(t, updatedBody, "created").Equal(createdAt) {
		t.Fatalf("update must preserve the created stamp")
	}
	if !metadataTime(t, updatedBody, "updated").After(createdAt) {
		t.Fatalf("updated stamp must follow created")
	}
	if updatedBody["name"] != "Fuerte Avocado" {
		t.Fatalf("unexpected name %v", updatedBody["name"])
	}
	if !reflect.DeepEqual(decodeObject(t, f.do(t, http.MethodGet, "/products/"+id, nil)), updatedBody) {
		t.Fatalf("update was not persisted")
	}

	if rr := f.do(t, http.MethodDelete, "/products/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/products/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestProductNotFound(t *testing.T) {
	f := newProductsFixture(t, 0)

	cases := []struct {
		method string
		body   any
	}{
		{http.MethodGet, nil},
		{http.MethodPut, avocadoPayload()},
		{http.MethodDelete, nil},
	}
	for _, tc := range cases {
		rr := f.do(t, tc.method, "/products/notexists", tc.body)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", tc.method, rr.Code)
		}
		if body := decodeObject(t, rr); body["error"] != "product_not_found" {
			t.Fatalf("%s: unexpected body %v", tc.method, body)
		}
	}
}

func TestGetProductExpandsCategory(t *testing.T) {
	f := newProductsFixture(t, 0)
	f.do(t, http.MethodPost, "/products", avocadoPayload())

	body := decodeObject(t, f.do(t, http.MethodGet, "/products/p-01?expand[]=category", nil))
	if _, ok := body["category_id"]; ok {
		t.Fatalf("category_id should be replaced by the expansion")
	}
	category, ok := body["category"].(map[string]any)
	if !ok || category["id"] != "6572" || category["name"] != "Avocados" {
		t.Fatalf("unexpected category %#v", body["category"])
	}

	if rr := f.do(t, http.MethodGet, "/products/p-01?expand[]=brand", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown expansion to be rejected, got %d", rr.Code)
	}
}

func TestGetProductsBatch(t *testing.T) {
	f := newProductsFixture(t, 0)
	for _, name := range []string{"one", "two", "three", "four"} {
		payload := avocadoPayload()
		payload["name"] = name
		if rr := f.do(t, http.MethodPost, "/products", payload); rr.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", name, rr.Code)
		}
	}

	rr := f.do(t, http.MethodGet, "/products?id[]=p-01&id[]=p-02&id[]=p-03&id[]=missing", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var products []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &products); err != nil {
		t.Fatalf("decode: %v", err)
	}
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p["name"].(string))
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"one", "three", "two"}) {
		t.Fatalf("unexpected products %v", names)
	}

	rr = f.do(t, http.MethodGet, "/products?id[]=1&id[]=2", nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/products?expand[]=category&id[]=p-01", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &products); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(products) != 1 || products[0]["category"] == nil {
		t.Fatalf("expected expanded category, got %s", rr.Body.String())
	}
}

func TestGetProductsBatchValidation(t *testing.T) {
	f := newProductsFixture(t, 3)

	cases := []struct {
		name    string
		query   string
		message string
	}{
		{"missing", "", `child "id" fails because ["id" is required]`},
		{"scalar", "?id=p-01", `child "id" fails because ["id" must be an array]`},
		{"empty entry", "?id[]=p-01&id[]=", `child "id" fails because ["id" at position 1 fails because ["1" is not allowed to be empty]]`},
		{"too many", "?id[]=a&id[]=b&id[]=c&id[]=d", `child "id" fails because ["id" must contain less than or equal to 3 items]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/products"+tc.query, nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if body := decodeObject(t, rr); body["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, body["message"])
			}
		})
	}
}

func TestProductPayloadValidation(t *testing.T) {
	f := newProductsFixture(t, 0)

	with := func(key string, value any) map[string]any {
		payload := avocadoPayload()
		payload[key] = value
		return payload
	}
	without := func(key string) map[string]any {
		payload := avocadoPayload()
		delete(payload, key)
		return payload
	}

	cases := []struct {
		name    string
		payload map[string]any
		message string
	}{
		{"name required", without("name"), `child "name" fails because ["name" is required]`},
		{"category required", without("category_id"), `child "category_id" fails because ["category_id" is required]`},
		{"taxable required", without("taxable"), `child "taxable" fails because ["taxable" is required]`},
		{"attributes required", without("product_type_attributes"), `child "product_type_attributes" fails because ["product_type_attributes" is required]`},
		{"brand string", with("brand", 1), `child "brand" fails because ["brand" must be a string]`},
		{"taxable boolean", with("taxable", "no"), `child "taxable" fails because ["taxable" must be a boolean]`},
		{"attributes array", with("product_type_attributes", 1), `child "product_type_attributes" fails because ["product_type_attributes" must be an array]`},
		{
			"attribute name required",
			with("product_type_attributes", []any{map[string]any{"values": []any{}}}),
			`child "product_type_attributes" fails because ["product_type_attributes" at position 0 fails because [child "name" fails because ["name" is required]]]`,
		},
		{
			"attribute name string",
			with("product_type_attributes", []any{map[string]any{"name": 1, "values": []any{}}}),
			`child "product_type_attributes" fails because ["product_type_attributes" at position 0 fails because [child "name" fails because ["name" must be a string]]]`,
		},
		{
			"attribute values required",
			with("product_type_attributes", []any{map[string]any{"name": "test_attribute"}}),
			`child "product_type_attributes" fails because ["product_type_attributes" at position 0 fails because [child "values" fails because ["values" is required]]]`,
		},
		{
			"attribute values array",
			with("product_type_attributes", []any{map[string]any{"name": "test_attribute", "values": 1}}),
			`child "product_type_attributes" fails because ["product_type_attributes" at position 0 fails because [child "values" fails because ["values" must be an array]]]`,
		},
	}

	for _, method := range []struct{ verb, target string }{{http.MethodPost, "/products"}, {http.MethodPut, "/products/1"}} {
		for _, tc := range cases {
			t.Run(method.verb+" "+tc.name, func(t *testing.T) {
				rr := f.do(t, method.verb, method.target, tc.payload)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
				}
				if body := decodeObject(t, rr); body["message"] != tc.message {
					t.Fatalf("expected message %q, got %v", tc.message, body["message"])
				}
			})
		}
	}

	rr := f.do(t, http.MethodPost, "/products", with("product_type", "123"))
	message, _ := decodeObject(t, rr)["message"].(string)
	if rr.Code != http.StatusBadRequest || !strings.HasPrefix(message, `child "product_type" fails because ["product_type" must be one of [`) {
		t.Fatalf("expected unknown product type rejection, got %d %q", rr.Code, message)
	}

	if f.mem.Len() != 0 {
		t.Fatalf("invalid payloads must not be stored")
	}
}

func TestProductTypeAttributeValidation(t *testing.T) {
	f := newProductsFixture(t, 0)
	const message = `child "product_type_attributes" fails because ["product_type_attributes" are not valid for product_type "test_product"]`

	cases := []struct {
		name       string
		attributes []any
		key        string
		want       []any
	}{
		{"required", []any{}, "required_product_type_attributes", []any{"test_attribute"}},
		{
			"forbidden",
			[]any{
				map[string]any{"name": "test_attribute", "values": []any{}},
				map[string]any{"name": "extra_attribute1", "values": []any{}},
				map[string]any{"name": "extra_attribute2", "values": []any{}},
			},
			"forbidden_product_type_attributes",
			[]any{"extra_attribute1", "extra_attribute2"},
		},
		{
			"invalid",
			[]any{map[string]any{"name": "test_attribute", "values": []any{"1", float64(2)}}},
			"invalid_product_type_attributes",
			[]any{`"test_attribute" values fails because ["value" at position 1 fails because ["1" must be a string]]`},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := avocadoPayload()
			payload["product_type_attributes"] = tc.attributes
			rr := f.do(t, http.MethodPost, "/products", payload)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			body := decodeObject(t, rr)
			if body["message"] != message {
				t.Fatalf("unexpected message %v", body["message"])
			}
			if body["product_type_validation_error"] != true {
				t.Fatalf("expected product_type_validation_error flag, got %v", body)
			}
			if !reflect.DeepEqual(body[tc.key], tc.want) {
				t.Fatalf("expected %s=%v, got %v", tc.key, tc.want, body[tc.key])
			}
		})
	}
}

func TestProductRoutesRequireToken(t *testing.T) {
	f := newProductsFixture(t, 0)
	routes := []struct{ method, target string }{
		{http.MethodPost, "/products"},
		{http.MethodGet, "/products"},
		{http.MethodGet, "/products/p-01"},
		{http.MethodPut, "/products/p-01"},
		{http.MethodDelete, "/products/p-01"},
		{http.MethodGet, "/product-types/test_product/products"},
	}
	expired := testToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	wrongAlg := testToken(t, jwt.SigningMethodHS512, jwt.MapClaims{})

	for _, route := range routes {
		name := route.method + " " + route.target
		if rr := f.doWithToken(t, route.method, route.target, nil, ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", name, rr.Code)
		}
		rr := f.doWithToken(t, route.method, route.target, nil, expired)
		if rr.Code != http.StatusUnauthorized || decodeObject(t, rr)["message"] != "Token expired" {
			t.Fatalf("%s expired: got %d %s", name, rr.Code, rr.Body.String())
		}
		rr = f.doWithToken(t, route.method, route.target, nil, wrongAlg)
		if rr.Code != http.StatusUnauthorized || decodeObject(t, rr)["message"] != "Invalid token" {
			t.Fatalf("%s HS512: got %d %s", name, rr.Code, rr.Body.String())
		}
	}
}

func TestListProductsByType(t *testing.T) {
	f := newProductsFixture(t, 0)
	for i := 0; i < 3; i++ {
		f.do(t, http.MethodPost, "/products", avocadoPayload())
	}
	other := avocadoPayload()
	other["category_id"] = "412"
	f.do(t, http.MethodPost, "/products", other)

	var page struct {
		Products      []map[string]any `json:"products"`
		NextPageToken string           `json:"next_page_token"`
	}
	rr := f.do(t, http.MethodGet, "/product-types/test_product/products?pageSize=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Products) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected a full first page with a token, got %+v", page)
	}

	rr = f.do(t, http.MethodGet, "/product-types/test_product/products?pageSize=2&pageToken="+page.NextPageToken, nil)
	page.NextPageToken = ""
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Products) != 2 || page.NextPageToken != "" {
		t.Fatalf("expected a final page of 2, got %+v", page)
	}

	rr = f.do(t, http.MethodGet, "/product-types/test_product/products?filter=category_id==412", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Products) != 1 || page.Products[0]["id"] != "p-04" {
		t.Fatalf("expected only p-04, got %+v", page.Products)
	}

	if rr := f.do(t, http.MethodGet, "/product-types/test_product/products?filter=brand==x", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected disallowed filter to be rejected, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/product-types/test_product/products?pageToken=not-base64!", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad token to be rejected, got %d", rr.Code)
	}
}

type unavailableError struct{}

func (unavailableError) Error() string       { return "backend unavailable" }
func (unavailableError) IsNotFound() bool    { return false }
func (unavailableError) IsConflict() bool    { return false }
func (unavailableError) IsUnavailable() bool { return true }

type failingProductService struct {
	services.ProductService
	err error
}

func (s failingProductService) Get(context.Context, string, services.ProductReadOptions) (services.Product, error) {
	return services.Product{}, s.err
}

func TestWriteProductErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", unavailableError{}), http.StatusServiceUnavailable, "store_unavailable"},
		{fmt.Errorf("%w: Product/x", docstore.ErrEntityNotFound), http.StatusNotFound, "product_not_found"},
		{docstore.ErrConflict, http.StatusConflict, "product_conflict"},
		{fmt.Errorf("%w: bad id", docstore.ErrInvalidArgument), http.StatusBadRequest, "invalid_request"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		handlers := NewProductHandlers(WithProductService(failingProductService{err: tc.err}))
		router := NewRouter(WithProductRoutes(handlers.Routes))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/x", nil))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if body := decodeObject(t, rr); body["error"] != tc.code {
			t.Fatalf("%v: expected code %s, got %v", tc.err, tc.code, body["error"])
		}
	}
}

func TestProductHandlersWithoutService(t *testing.T) {
	router := NewRouter(WithProductRoutes(NewProductHandlers().Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/x", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
