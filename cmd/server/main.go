package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/invoice"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "storefront"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer(util.TracerConfig{
		ServiceName: serviceName,
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.MigrationsEnabled {
		if err := store.Migrate(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(redisclient.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Namespace: cfg.Redis.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	archive, err := newInvoiceArchive(context.Background(), cfg.Invoice)
	if err != nil {
		logger.Fatal("Failed to initialize invoice archive", zap.Error(err))
	}

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		BackendURL: cfg.Stripe.BackendURL,
	})

	catalogService := service.NewCatalogService(db, redisClient, cfg.Catalog.PageSize, cfg.Catalog.CountCacheTTL)
	cartService := service.NewCartService(db, db)
	orderService := service.NewOrderService(db, redisClient, eventPublisher)
	checkoutService := service.NewCheckoutService(db, gateway, eventPublisher, cfg.Stripe.Currency, cfg.Stripe.PublishableKey)
	invoiceService := service.NewInvoiceService(db, archive)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	invoiceConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	invoiceWorker := worker.NewInvoiceWorker(invoiceConsumer, invoiceService)
	go func() {
		if err := invoiceWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Invoice worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Catalog:  catalogService,
		Carts:    cartService,
		Orders:   orderService,
		Checkout: checkoutService,
		Invoices: invoiceService,
	}, api.Options{
		AdminEmail:        cfg.Server.AdminEmail,
		JWTSecret:         cfg.Auth.JWTSecret,
		CheckoutPerMinute: cfg.Checkout.RateLimitPerMinute,
		CheckoutBurst:     cfg.Checkout.RateLimitBurst,
		ReadinessChecks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := invoiceWorker.Stop(); err != nil {
		logger.Warn("Error stopping invoice worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newInvoiceArchive(ctx context.Context, cfg config.InvoiceConfig) (invoice.Archive, error) {
	switch cfg.Store {
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("INVOICE_S3_BUCKET is required for the s3 invoice store")
		}
		return invoice.NewS3ArchiveFromEnv(ctx, cfg.Bucket, cfg.Prefix, cfg.S3Endpoint)
	case "local", "":
		return invoice.NewFileArchive(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown invoice store %q", cfg.Store)
	}
}
