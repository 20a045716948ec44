package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultOrderLockTTL = 10 * time.Second

// OrderService turns carts into orders
type OrderService struct {
	store     OrderStore
	locker    Locker
	publisher EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewOrderService creates a new order service; locker and publisher may be nil
func NewOrderService(store OrderStore, locker Locker, publisher EventPublisher) *OrderService {
	return &OrderService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		lockTTL:   defaultOrderLockTTL,
		logger:    util.ComponentLogger("orders"),
	}
}

// CreateOrder snapshots the viewer's cart into a new order and empties the cart.
// A non-empty idempotencyKey makes repeated calls return the order created first.
func (s *OrderService) CreateOrder(ctx context.Context, viewer *models.Viewer, idempotencyKey string) (*models.Order, error) {
	if viewer == nil {
		return nil, apperr.Unauthorized("Login required")
	}
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("user_id", viewer.UserID))
	defer span.End()

	if idempotencyKey != "" {
		existing, err := s.existingOrder(ctx, viewer, idempotencyKey)
		if existing != nil || err != nil {
			return existing, err
		}
	}

	lockKey := fmt.Sprintf("order:user:%d", viewer.UserID)
	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
		switch {
		case err != nil:
			// the cart row lock inside the transaction still serializes writers
			s.logger.Warn("Order lock unavailable, continuing without it",
				zap.Int64("user_id", viewer.UserID), zap.Error(err))
		case !ok:
			if existing, err := s.replayedOrder(ctx, viewer, idempotencyKey); existing != nil || err != nil {
				return existing, err
			}
			util.OrdersFailedTotal.WithLabelValues("locked").Inc()
			return nil, apperr.Validation("An order is already being placed for this cart")
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
					s.logger.Warn("Failed to release order lock", zap.String("key", lockKey), zap.Error(err))
				}
			}()
		}
	}

	order, err := s.store.CreateOrderFromCart(ctx, viewer.UserID, s.buildOrder(viewer, idempotencyKey))
	if err != nil {
		var appErr *apperr.Error
		switch {
		case errors.As(err, &appErr):
			// a concurrent call with the same key may have emptied the cart first
			if existing, lookupErr := s.replayedOrder(ctx, viewer, idempotencyKey); existing != nil || lookupErr != nil {
				return existing, lookupErr
			}
			util.OrdersFailedTotal.WithLabelValues("validation").Inc()
			return nil, err
		case errors.Is(err, store.ErrDuplicate) && idempotencyKey != "":
			s.logger.Info("Concurrent duplicate order detected", zap.String("idempotency_key", idempotencyKey))
			existing, err := s.existingOrder(ctx, viewer, idempotencyKey)
			if existing == nil && err == nil {
				err = apperr.Retrievable("Failed to create order", store.ErrDuplicate)
			}
			return existing, err
		}
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, apperr.Retrievable("Failed to create order", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Int("lines", len(order.Lines)))

	s.publishOrderCreated(ctx, order)
	return order, nil
}

func (s *OrderService) existingOrder(ctx context.Context, viewer *models.Viewer, key string) (*models.Order, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperr.Retrievable("Failed to check idempotency", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != viewer.UserID {
		return nil, apperr.Unauthorized("Checkout session belongs to another user")
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return existing, nil
}

// replayedOrder looks the key up again after a rejected attempt; it is a no-op without a key
func (s *OrderService) replayedOrder(ctx context.Context, viewer *models.Viewer, key string) (*models.Order, error) {
	if key == "" {
		return nil, nil
	}
	return s.existingOrder(ctx, viewer, key)
}

// buildOrder snapshots each locked cart line; an empty cart is rejected
func (s *OrderService) buildOrder(viewer *models.Viewer, key string) store.OrderBuilder {
	return func(lines []models.CartLine) (*models.Order, error) {
		if len(lines) == 0 {
			return nil, apperr.Validation("Cart is empty")
		}

		order := &models.Order{
			UserID:    viewer.UserID,
			UserEmail: viewer.Email,
			Lines:     make([]models.OrderLine, 0, len(lines)),
		}
		if key != "" {
			order.IdempotencyKey = &key
		}
		for _, line := range lines {
			order.Lines = append(order.Lines, models.OrderLine{
				Quantity: line.Quantity,
				Product:  line.Product.Snapshot(),
			})
			order.TotalAmount += line.Subtotal()
		}
		return order, nil
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	lines := make([]models.OrderedItemEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, models.OrderedItemEvent{
			ProductID: line.Product.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Lines:       lines,
	}

	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// GetOrders lists the user's orders, newest first
func (s *OrderService) GetOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrders", attribute.Int64("user_id", userID))
	defer span.End()

	orders, err := s.store.GetOrdersByUserID(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load orders", err)
	}
	return orders, nil
}

// GetOrder retrieves one of the user's orders
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("No order found")
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load order", err)
	}
	if order.UserID != userID {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	return order, nil
}
