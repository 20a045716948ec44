package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Catalog is the product listing backend
type Catalog interface {
	ListProducts(ctx context.Context, page int) (*models.ProductPage, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// Carts is the cart backend
type Carts interface {
	AddToCart(ctx context.Context, userID, productID int64) error
	RemoveFromCart(ctx context.Context, userID, productID int64) error
	ClearCart(ctx context.Context, userID int64) error
	GetCart(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// Orders is the order backend
type Orders interface {
	CreateOrder(ctx context.Context, viewer *models.Viewer, idempotencyKey string) (*models.Order, error)
	GetOrders(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error)
}

// Checkout opens payment sessions
type Checkout interface {
	BeginCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResponse, error)
}

// Invoices renders and streams order invoices
type Invoices interface {
	PrepareInvoice(ctx context.Context, orderID, userID int64) (*service.RenderedInvoice, error)
	WriteInvoice(ctx context.Context, rendered *service.RenderedInvoice, out io.Writer) error
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the backends served over HTTP
type Services struct {
	Catalog  Catalog
	Carts    Carts
	Orders   Orders
	Checkout Checkout
	Invoices Invoices
}

// Options configures the HTTP layer
type Options struct {
	AdminEmail string
	JWTSecret  string
	// CheckoutPerMinute and CheckoutBurst bound checkout attempts per user
	CheckoutPerMinute int
	CheckoutBurst     int
	// ReadinessChecks are pinged by /ready
	ReadinessChecks map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc             Services
	adminEmail      string
	jwtSecret       []byte
	checkoutLimiter *RateLimiter
	checks          map[string]Pinger
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, opts Options) *Handler {
	perMinute := opts.CheckoutPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := opts.CheckoutBurst
	if burst <= 0 {
		burst = 1
	}

	return &Handler{
		svc:             svc,
		adminEmail:      opts.AdminEmail,
		jwtSecret:       []byte(opts.JWTSecret),
		checkoutLimiter: NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		checks:          opts.ReadinessChecks,
		logger:          util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(tracingMiddleware())
	router.Use(gin.Logger())
	router.Use(h.identity())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
	}

	user := v1.Group("", requireUser())
	{
		user.GET("/cart", h.getCart)
		user.POST("/cart", h.addToCart)
		user.DELETE("/cart/:productId", h.removeFromCart)
		user.DELETE("/cart", h.clearCart)

		user.GET("/orders", h.getOrders)
		user.POST("/orders", h.createOrder)
		user.GET("/orders/:id", h.getOrder)
		user.GET("/orders/:id/invoice", h.getInvoice)

		user.GET("/checkout", h.checkoutLimiter.Middleware(), h.beginCheckout)
		user.GET("/checkout/success", h.checkoutSuccess)
		user.GET("/checkout/cancel", h.checkoutCancel)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respond writes a JSON body that carries the per-request admin flag
func (h *Handler) respond(c *gin.Context, status int, body gin.H) {
	body["admin_user"] = viewerFrom(c).IsAdmin(h.adminEmail)
	c.JSON(status, body)
}

// respondError maps an application error onto its status code
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	h.respond(c, status, gin.H{"error": apperr.Message(err)})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// tracingMiddleware continues the caller's trace and opens a server span per request
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := util.GetTracer().Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
