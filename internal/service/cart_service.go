package service

import (
	"context"
	"errors"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService manages per-user carts
type CartService struct {
	carts    CartStore
	products ProductReader
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, products ProductReader) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		logger:   util.ComponentLogger("cart"),
	}
}

// AddToCart adds one unit of a product, inserting the line on first add
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.AddToCart",
		attribute.Int64("user_id", userID), attribute.Int64("product_id", productID))
	defer span.End()

	if _, err := s.products.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Product not found")
		}
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to load product", err)
	}

	if err := s.carts.AddCartItem(ctx, userID, productID); err != nil {
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to add product to cart", err)
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	s.logger.Debug("Product added to cart", zap.Int64("user_id", userID), zap.Int64("product_id", productID))
	return nil
}

// RemoveFromCart drops the whole line for a product. Removing a product that is not in the cart is a no-op.
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveFromCart",
		attribute.Int64("user_id", userID), attribute.Int64("product_id", productID))
	defer span.End()

	if err := s.carts.RemoveCartItem(ctx, userID, productID); err != nil {
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to remove product from cart", err)
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	return nil
}

// ClearCart empties the user's cart
func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart", attribute.Int64("user_id", userID))
	defer span.End()

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		util.RecordError(span, err)
		return apperr.Retrievable("Failed to clear cart", err)
	}

	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	return nil
}

// GetCart returns the cart lines resolved against the current catalog
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart", attribute.Int64("user_id", userID))
	defer span.End()

	lines, err := s.carts.GetCartLines(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load cart", err)
	}
	if lines == nil {
		lines = []models.CartLine{}
	}
	return lines, nil
}
