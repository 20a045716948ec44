package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// ProductReader reads the catalog
type ProductReader interface {
	CountProducts(ctx context.Context) (int64, error)
	ListProducts(ctx context.Context, offset, limit int) ([]models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// CartReader resolves a user's cart against the catalog
type CartReader interface {
	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// CartStore persists cart mutations
type CartStore interface {
	CartReader
	AddCartItem(ctx context.Context, userID, productID int64) error
	RemoveCartItem(ctx context.Context, userID, productID int64) error
	ClearCart(ctx context.Context, userID int64) error
}

// OrderReader loads persisted orders
type OrderReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
}

// OrderStore persists orders
type OrderStore interface {
	OrderReader
	CreateOrderFromCart(ctx context.Context, userID int64, build store.OrderBuilder) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
}

// CountCache caches the catalog size
type CountCache interface {
	GetProductCount(ctx context.Context) (int64, bool, error)
	SetProductCount(ctx context.Context, count int64, ttl time.Duration) error
}

// Locker provides short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher publishes domain events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishCheckoutStarted(ctx context.Context, event *models.CheckoutStartedEvent) error
}
