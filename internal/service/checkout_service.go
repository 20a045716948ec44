package service

import (
	"context"
	"errors"
	"strconv"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutRequest carries the buyer and the gateway redirect targets
type CheckoutRequest struct {
	Viewer     *models.Viewer
	SuccessURL string
	CancelURL  string
}

// CheckoutResponse is the cart summary plus the gateway session handle
type CheckoutResponse struct {
	Products    []models.CartLine      `json:"products"`
	TotalAmount int64                  `json:"total_sum"`
	Currency    string                 `json:"currency"`
	Session     models.CheckoutSession `json:"session"`
}

// CheckoutService opens payment sessions for carts
type CheckoutService struct {
	carts          CartReader
	gateway        payment.Gateway
	publisher      EventPublisher
	currency       string
	publishableKey string
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service; publisher may be nil
func NewCheckoutService(carts CartReader, gateway payment.Gateway, publisher EventPublisher, currency, publishableKey string) *CheckoutService {
	return &CheckoutService{
		carts:          carts,
		gateway:        gateway,
		publisher:      publisher,
		currency:       currency,
		publishableKey: publishableKey,
		logger:         util.ComponentLogger("checkout"),
	}
}

// BeginCheckout prices the viewer's cart and asks the gateway for a session.
// Nothing is persisted; the order is created by the success callback.
func (s *CheckoutService) BeginCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	if req.Viewer == nil {
		return nil, apperr.Unauthorized("Login required")
	}
	ctx, span := util.StartSpan(ctx, "CheckoutService.BeginCheckout", attribute.Int64("user_id", req.Viewer.UserID))
	defer span.End()

	lines, err := s.carts.GetCartLines(ctx, req.Viewer.UserID)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load cart", err)
	}
	if len(lines) == 0 {
		util.CheckoutSessionsTotal.WithLabelValues("empty_cart").Inc()
		return nil, apperr.Validation("Cart is empty")
	}

	var total int64
	items := make([]payment.LineItem, 0, len(lines))
	for _, line := range lines {
		total += line.Subtotal()
		items = append(items, payment.LineItem{
			Name:        line.Product.Title,
			Description: line.Product.Description,
			UnitAmount:  line.Product.Price,
			Quantity:    int64(line.Quantity),
		})
	}

	sess, err := s.gateway.CreateSession(ctx, &payment.SessionRequest{
		Currency:          s.currency,
		Lines:             items,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		CustomerEmail:     req.Viewer.Email,
		ClientReferenceID: strconv.FormatInt(req.Viewer.UserID, 10),
	})
	if err != nil {
		result := "error"
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			result = "unavailable"
		}
		util.CheckoutSessionsTotal.WithLabelValues(result).Inc()
		util.RecordError(span, err)
		s.logger.Error("Checkout session creation failed",
			zap.Int64("user_id", req.Viewer.UserID), zap.Error(err))
		return nil, apperr.Retrievable("Failed to start checkout", err)
	}

	util.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Checkout session created",
		zap.Int64("user_id", req.Viewer.UserID),
		zap.String("session_id", sess.ID),
		zap.Int64("total_amount", total))

	s.publishCheckoutStarted(ctx, req.Viewer.UserID, sess.ID, total)

	return &CheckoutResponse{
		Products:    lines,
		TotalAmount: total,
		Currency:    s.currency,
		Session: models.CheckoutSession{
			ID:             sess.ID,
			URL:            sess.URL,
			PublishableKey: s.publishableKey,
		},
	}, nil
}

func (s *CheckoutService) publishCheckoutStarted(ctx context.Context, userID int64, sessionID string, total int64) {
	if s.publisher == nil {
		return
	}

	event := &models.CheckoutStartedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeCheckoutStarted),
		UserID:      userID,
		SessionID:   sessionID,
		TotalAmount: total,
		Currency:    s.currency,
	}
	if err := s.publisher.PublishCheckoutStarted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutStarted event", zap.String("session_id", sessionID), zap.Error(err))
	}
}
