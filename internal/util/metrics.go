package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogPagesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_pages_served_total",
		Help: "Total number of catalog pages served",
	})

	CatalogCountCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_count_cache_total",
		Help: "Catalog count cache lookups by result",
	}, []string{"result"})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations by operation",
	}, []string{"op"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout session requests by result",
	}, []string{"result"})

	GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway session requests",
		Buckets: prometheus.DefBuckets,
	})

	InvoicesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Total number of invoices produced by trigger",
	}, []string{"trigger"})

	InvoiceSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_sink_failures_total",
		Help: "Invoice write failures by sink",
	}, []string{"sink"})

	InvoiceRenderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_render_latency_seconds",
		Help:    "Latency of invoice rendering",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
