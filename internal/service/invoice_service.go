package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/invoice"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RenderedInvoice is an invoice document held in memory until it is written out
type RenderedInvoice struct {
	Invoice *models.Invoice
	Data    []byte

	archived bool
}

// FileName returns the attachment name
func (r *RenderedInvoice) FileName() string {
	return r.Invoice.FileName()
}

// InvoiceService renders, archives and serves order invoices
type InvoiceService struct {
	orders  OrderReader
	archive invoice.Archive
	logger  *zap.Logger
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(orders OrderReader, archive invoice.Archive) *InvoiceService {
	return &InvoiceService{
		orders:  orders,
		archive: archive,
		logger:  util.ComponentLogger("invoice"),
	}
}

// GenerateInvoice authorizes the requester, renders the order's invoice and writes the same bytes
// to the archive and to out.
func (s *InvoiceService) GenerateInvoice(ctx context.Context, orderID, userID int64, out io.Writer) (*models.Invoice, error) {
	rendered, err := s.PrepareInvoice(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.WriteInvoice(ctx, rendered, out); err != nil {
		return nil, err
	}
	return rendered.Invoice, nil
}

// PrepareInvoice loads and authorizes the order and produces the document bytes.
// An archived copy is reused; otherwise the invoice is rendered. Nothing is written yet.
func (s *InvoiceService) PrepareInvoice(ctx context.Context, orderID, userID int64) (*RenderedInvoice, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.PrepareInvoice", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("No order found")
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load order", err)
	}
	if order.UserID != userID {
		s.logger.Warn("Invoice requested for another user's order",
			zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
		return nil, apperr.Unauthorized("Unauthorized")
	}

	inv := invoice.Build(order)

	if data, ok := s.readArchived(ctx, inv.FileName()); ok {
		return &RenderedInvoice{Invoice: inv, Data: data, archived: true}, nil
	}

	data, err := render(inv)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to render invoice", err)
	}
	return &RenderedInvoice{Invoice: inv, Data: data}, nil
}

// WriteInvoice writes the document to the archive (unless it came from there) and to out.
// Both sinks run in one errgroup and are awaited. out receives no bytes until the archive copy is
// committed, so a failed archive write leaves the response untouched.
func (s *InvoiceService) WriteInvoice(ctx context.Context, rendered *RenderedInvoice, out io.Writer) error {
	ctx, span := util.StartSpan(ctx, "InvoiceService.WriteInvoice", attribute.Int64("order_id", rendered.Invoice.OrderID))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)

	committed := make(chan struct{})
	if rendered.archived {
		close(committed)
	} else {
		g.Go(func() error {
			if err := s.archive.Put(gctx, rendered.FileName(), rendered.Data); err != nil {
				util.InvoiceSinkFailures.WithLabelValues("archive").Inc()
				return fmt.Errorf("archive sink: %w", err)
			}
			close(committed)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-committed:
		case <-gctx.Done():
			return gctx.Err()
		}
		if _, err := out.Write(rendered.Data); err != nil {
			util.InvoiceSinkFailures.WithLabelValues("response").Inc()
			return fmt.Errorf("response sink: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		util.RecordError(span, err)
		s.logger.Error("Failed to write invoice",
			zap.Int64("order_id", rendered.Invoice.OrderID), zap.Error(err))
		return apperr.Retrievable("Failed to write invoice", err)
	}

	trigger := "request"
	if rendered.archived {
		trigger = "archive_hit"
	}
	util.InvoicesGeneratedTotal.WithLabelValues(trigger).Inc()
	return nil
}

// ArchiveInvoice renders an order's invoice into the archive if it is not there yet
func (s *InvoiceService) ArchiveInvoice(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "InvoiceService.ArchiveInvoice", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("No order found")
	}
	if err != nil {
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to load order", err)
	}

	inv := invoice.Build(order)
	if _, ok := s.readArchived(ctx, inv.FileName()); ok {
		return nil
	}

	data, err := render(inv)
	if err != nil {
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to render invoice", err)
	}
	if err := s.archive.Put(ctx, inv.FileName(), data); err != nil {
		util.InvoiceSinkFailures.WithLabelValues("archive").Inc()
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to archive invoice", err)
	}

	util.InvoicesGeneratedTotal.WithLabelValues("order_created").Inc()
	s.logger.Info("Invoice archived", zap.Int64("order_id", orderID), zap.String("file", inv.FileName()))
	return nil
}

func (s *InvoiceService) readArchived(ctx context.Context, name string) ([]byte, bool) {
	rc, err := s.archive.Open(ctx, name)
	if err != nil {
		if !errors.Is(err, invoice.ErrNotArchived) {
			s.logger.Warn("Invoice archive read failed, re-rendering", zap.String("file", name), zap.Error(err))
		}
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil || len(data) == 0 {
		s.logger.Warn("Archived invoice unreadable, re-rendering", zap.String("file", name), zap.Error(err))
		return nil, false
	}
	return data, true
}

func render(inv *models.Invoice) ([]byte, error) {
	start := time.Now()
	defer func() {
		util.InvoiceRenderLatency.Observe(time.Since(start).Seconds())
	}()
	return invoice.RenderBytes(inv)
}
