package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeCheckoutStarted = "CHECKOUT_STARTED"
)

// BaseEvent is the envelope shared by every storefront event
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh envelope of the given type
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent is published once the order transaction has committed.
// Lines repeat the snapshot prices, not the current catalog.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64              `json:"order_id"`
	UserID      int64              `json:"user_id"`
	TotalAmount int64              `json:"total_amount"`
	Lines       []OrderedItemEvent `json:"lines"`
}

type CheckoutStartedEvent struct {
	BaseEvent
	UserID      int64  `json:"user_id"`
	SessionID   string `json:"session_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

type OrderedItemEvent struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
