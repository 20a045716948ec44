package worker

import (
	"context"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// InvoiceArchiverGroup is the consumer group of the invoice worker
const InvoiceArchiverGroup = "invoice-archiver"

const archiveTimeout = 30 * time.Second

// MessageSource delivers broker messages to a handler
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// InvoiceArchiver renders an order's invoice into the archive
type InvoiceArchiver interface {
	ArchiveInvoice(ctx context.Context, orderID int64) error
}

// InvoiceWorker archives invoices as orders are created, so later downloads are served
// without rendering
type InvoiceWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	archiver     InvoiceArchiver
	logger       *zap.Logger
}

// NewInvoiceWorker creates a new invoice worker
func NewInvoiceWorker(consumer MessageSource, archiver InvoiceArchiver) *InvoiceWorker {
	w := &InvoiceWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		archiver:     archiver,
		logger:       util.ComponentLogger("invoice-worker"),
	}
	w.eventHandler.OnOrderCreated(w.handleOrderCreated)
	return w
}

// Start starts the worker and blocks until ctx is cancelled
func (w *InvoiceWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting invoice worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *InvoiceWorker) Stop() error {
	w.logger.Info("Stopping invoice worker")
	return w.consumer.Close()
}

func (w *InvoiceWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	err := w.archiver.ArchiveInvoice(ctx, event.OrderID)
	if apperr.Is(err, apperr.KindNotFound) {
		w.logger.Warn("Order from event not found, skipping invoice", zap.Int64("order_id", event.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	w.logger.Debug("Invoice archived from event",
		zap.Int64("order_id", event.OrderID),
		zap.String("event_id", event.EventID))
	return nil
}
