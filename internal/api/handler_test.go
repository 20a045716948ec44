package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCatalog struct {
	lastPage int
}

func (f *fakeCatalog) ListProducts(ctx context.Context, page int) (*models.ProductPage, error) {
	f.lastPage = page
	return &models.ProductPage{
		Items:       []models.Product{{ID: 1, Title: "Widget", Price: 500}},
		TotalCount:  4,
		CurrentPage: page,
		HasNext:     page*3 < 4,
		NextPage:    page + 1,
		LastPage:    2,
	}, nil
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if id != 1 {
		return nil, apperr.NotFound("Product not found")
	}
	return &models.Product{ID: 1, Title: "Widget", Price: 500}, nil
}

type fakeCarts struct {
	added   []int64
	removed []int64
	cleared bool
}

func (f *fakeCarts) AddToCart(ctx context.Context, userID, productID int64) error {
	if productID == 404 {
		return apperr.NotFound("Product not found")
	}
	f.added = append(f.added, productID)
	return nil
}

func (f *fakeCarts) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	f.removed = append(f.removed, productID)
	return nil
}

func (f *fakeCarts) ClearCart(ctx context.Context, userID int64) error {
	f.cleared = true
	return nil
}

func (f *fakeCarts) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return []models.CartLine{{Product: models.Product{ID: 1, Title: "Widget", Price: 500}, Quantity: 2}}, nil
}

type fakeOrders struct {
	keys []string
	err  error
}

func (f *fakeOrders) CreateOrder(ctx context.Context, viewer *models.Viewer, key string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, key)
	return &models.Order{ID: 10, UserID: viewer.UserID, TotalAmount: 1000}, nil
}

func (f *fakeOrders) GetOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return []models.Order{{ID: 10, UserID: userID}}, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	if orderID != 10 {
		return nil, apperr.NotFound("No order found")
	}
	if userID != 7 {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	return &models.Order{ID: 10, UserID: 7}, nil
}

type fakeCheckout struct {
	req service.CheckoutRequest
	err error
}

func (f *fakeCheckout) BeginCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.CheckoutResponse{
		TotalAmount: 1000,
		Currency:    "inr",
		Session:     models.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1", PublishableKey: "pk_test"},
	}, nil
}

type fakeInvoices struct {
	writeErr error
}

func (f *fakeInvoices) PrepareInvoice(ctx context.Context, orderID, userID int64) (*service.RenderedInvoice, error) {
	if orderID != 10 {
		return nil, apperr.NotFound("No order found")
	}
	if userID != 7 {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	return &service.RenderedInvoice{Invoice: &models.Invoice{OrderID: orderID}, Data: []byte("%PDF-1.3 fake")}, nil
}

func (f *fakeInvoices) WriteInvoice(ctx context.Context, rendered *service.RenderedInvoice, out io.Writer) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	_, err := out.Write(rendered.Data)
	return err
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	router   *gin.Engine
	catalog  *fakeCatalog
	carts    *fakeCarts
	orders   *fakeOrders
	checkout *fakeCheckout
	invoices *fakeInvoices
}

func setupRouter(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		router:   gin.New(),
		catalog:  &fakeCatalog{},
		carts:    &fakeCarts{},
		orders:   &fakeOrders{},
		checkout: &fakeCheckout{},
		invoices: &fakeInvoices{},
	}
	opts.JWTSecret = testSecret
	h := NewHandler(Services{
		Catalog:  env.catalog,
		Carts:    env.carts,
		Orders:   env.orders,
		Checkout: env.checkout,
		Invoices: env.invoices,
	}, opts)
	h.SetupRoutes(env.router)
	return env
}

func tokenFor(t *testing.T, userID int64, email string) string {
	t.Helper()
	token, err := SignToken(testSecret, models.Viewer{UserID: userID, Email: email}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, target, token string, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestReadinessCheck(t *testing.T) {
	env := setupRouter(t, Options{ReadinessChecks: map[string]Pinger{
		"postgres": pingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}})

	w := env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	failed := decode(t, w)["failed"].(map[string]interface{})
	assert.Contains(t, failed, "redis")
	assert.NotContains(t, failed, "postgres")
}

func TestListProducts_PageParam(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/products?page=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, env.catalog.lastPage)

	body := decode(t, w)
	assert.Equal(t, false, body["has_next_page"])
	assert.Equal(t, float64(4), body["total_products"])
	assert.Equal(t, false, body["admin_user"])

	env.do(http.MethodGet, "/api/v1/products?page=abc", "", "")
	assert.Equal(t, 1, env.catalog.lastPage)
}

func TestAdminFlagIsPerRequest(t *testing.T) {
	env := setupRouter(t, Options{AdminEmail: "Admin@Example.com"})

	w := env.do(http.MethodGet, "/api/v1/products", tokenFor(t, 1, "admin@example.com"), "")
	assert.Equal(t, true, decode(t, w)["admin_user"])

	w = env.do(http.MethodGet, "/api/v1/products", tokenFor(t, 7, "buyer@example.com"), "")
	assert.Equal(t, false, decode(t, w)["admin_user"])

	w = env.do(http.MethodGet, "/api/v1/products", "", "")
	assert.Equal(t, false, decode(t, w)["admin_user"])
}

func TestGetProduct_NotFound(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/products/2", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Product not found", decode(t, w)["error"])
}

func TestAuth(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/v1/cart", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := SignToken("another-secret", models.Viewer{UserID: 7}, time.Hour)
	require.NoError(t, err)
	w = env.do(http.MethodGet, "/api/v1/cart", other, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := SignToken(testSecret, models.Viewer{UserID: 7}, -time.Minute)
	require.NoError(t, err)
	w = env.do(http.MethodGet, "/api/v1/cart", expired, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/v1/cart", tokenFor(t, 7, "buyer@example.com"), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCartRoutes(t *testing.T) {
	env := setupRouter(t, Options{})
	token := tokenFor(t, 7, "buyer@example.com")

	w := env.do(http.MethodPost, "/api/v1/cart", token, `{"product_id":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1}, env.carts.added)
	assert.Len(t, decode(t, w)["products"], 1)

	w = env.do(http.MethodPost, "/api/v1/cart", token, `{"product_id":404}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/cart", token, `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/cart/3", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{3}, env.carts.removed)

	w = env.do(http.MethodDelete, "/api/v1/cart", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.carts.cleared)
}

func TestCreateOrder_IdempotencyKeyHeader(t *testing.T) {
	env := setupRouter(t, Options{})
	token := tokenFor(t, 7, "buyer@example.com")

	w := env.do(http.MethodPost, "/api/v1/orders", token, "", "Idempotency-Key", "key-1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"key-1"}, env.orders.keys)

	env.orders.err = apperr.Validation("Cart is empty")
	w = env.do(http.MethodPost, "/api/v1/orders", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Cart is empty", decode(t, w)["error"])
}

func TestGetOrder_Access(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/orders/10", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/orders/10", tokenFor(t, 8, ""), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "/api/v1/orders/99", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInternalErrorsHideDetails(t *testing.T) {
	env := setupRouter(t, Options{})
	env.orders.err = apperr.Retrievable("Failed to create order", errors.New("pq: connection refused"))

	w := env.do(http.MethodPost, "/api/v1/orders", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestBeginCheckout_CallbackURLs(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "http://shop.local/api/v1/checkout", tokenFor(t, 7, "buyer@example.com"), "",
		"X-Forwarded-Proto", "https")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "https://shop.local/api/v1/checkout/success?session_id={CHECKOUT_SESSION_ID}", env.checkout.req.SuccessURL)
	assert.Equal(t, "https://shop.local/api/v1/checkout/cancel", env.checkout.req.CancelURL)
	assert.Equal(t, int64(7), env.checkout.req.Viewer.UserID)

	body := decode(t, w)
	assert.Equal(t, "cs_test_1", body["session_id"])
	assert.Equal(t, "pk_test", body["key"])
	assert.Equal(t, float64(1000), body["total_sum"])
}

func TestBeginCheckout_GatewayFailure(t *testing.T) {
	env := setupRouter(t, Options{})
	env.checkout.err = apperr.Retrievable("Failed to start checkout", errors.New("stripe down"))

	w := env.do(http.MethodGet, "/api/v1/checkout", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBeginCheckout_RateLimited(t *testing.T) {
	env := setupRouter(t, Options{CheckoutPerMinute: 1, CheckoutBurst: 1})

	w := env.do(http.MethodGet, "/api/v1/checkout", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/checkout", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// buckets are per user
	w = env.do(http.MethodGet, "/api/v1/checkout", tokenFor(t, 8, ""), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutSuccess(t *testing.T) {
	env := setupRouter(t, Options{})
	token := tokenFor(t, 7, "")

	w := env.do(http.MethodGet, "/api/v1/checkout/success", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(http.MethodGet, "/api/v1/checkout/success?session_id=cs_test_1", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cs_test_1"}, env.orders.keys)
}

func TestCheckoutCancel_ReturnsCart(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/checkout/cancel", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], 1)
}

func TestGetInvoice(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/orders/10/invoice", tokenFor(t, 7, ""), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Invoice-10.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "13", w.Header().Get("Content-Length"))
	assert.Equal(t, "%PDF-1.3 fake", w.Body.String())
}

func TestGetInvoice_Errors(t *testing.T) {
	env := setupRouter(t, Options{})

	w := env.do(http.MethodGet, "/api/v1/orders/10/invoice", tokenFor(t, 8, ""), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	w = env.do(http.MethodGet, "/api/v1/orders/99/invoice", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.invoices.writeErr = apperr.Retrievable("Failed to write invoice", errors.New("disk full"))
	w = env.do(http.MethodGet, "/api/v1/orders/10/invoice", tokenFor(t, 7, ""), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Empty(t, w.Header().Get("Content-Disposition"))
}
