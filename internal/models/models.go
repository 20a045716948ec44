package models

import (
	"fmt"
	"strings"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	Price       int64     `db:"price" json:"price"`
	UserID      int64     `db:"user_id" json:"user_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Snapshot copies the billable fields of a product
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ProductID:   p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
	}
}

// ProductPage is one page of the catalog listing
type ProductPage struct {
	Items        []Product `json:"items"`
	TotalCount   int64     `json:"total_count"`
	CurrentPage  int       `json:"current_page"`
	HasNext      bool      `json:"has_next"`
	HasPrevious  bool      `json:"has_previous"`
	NextPage     int       `json:"next_page"`
	PreviousPage int       `json:"previous_page"`
	LastPage     int       `json:"last_page"`
}

// CartItem is a (product, quantity) pair owned by a user
type CartItem struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`
}

// CartLine is a cart item resolved against the current catalog
type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Subtotal returns price x quantity in minor units
func (l CartLine) Subtotal() int64 {
	return l.Product.Price * int64(l.Quantity)
}

// Order is an immutable record of a purchased cart
type Order struct {
	ID             int64       `db:"id" json:"id"`
	UserID         int64       `db:"user_id" json:"user_id"`
	UserEmail      string      `db:"user_email" json:"user_email"`
	TotalAmount    int64       `db:"total_amount" json:"total_amount"`
	IdempotencyKey *string     `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Lines          []OrderLine `db:"-" json:"lines"`
}

// OrderLine holds a quantity and the product as it was at purchase time
type OrderLine struct {
	ID       int64           `db:"id" json:"id"`
	OrderID  int64           `db:"order_id" json:"order_id"`
	Position int             `db:"position" json:"position"`
	Quantity int             `db:"quantity" json:"quantity"`
	Product  ProductSnapshot `db:"-" json:"product"`
}

// ProductSnapshot is the embedded product copy of an order line
type ProductSnapshot struct {
	ProductID   int64  `db:"product_id" json:"product_id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Price       int64  `db:"price" json:"price"`
}

// Viewer is the authenticated identity of the current request
type Viewer struct {
	UserID int64
	Email  string
}

// IsAdmin reports whether the viewer matches the configured admin address
func (v *Viewer) IsAdmin(adminEmail string) bool {
	if v == nil || adminEmail == "" {
		return false
	}
	return strings.EqualFold(v.Email, adminEmail)
}

// CheckoutSession is the gateway handle for one payment attempt
type CheckoutSession struct {
	ID             string `json:"session_id"`
	URL            string `json:"url,omitempty"`
	PublishableKey string `json:"key"`
}

// Invoice is the derived billing summary of an order
type Invoice struct {
	OrderID  int64         `json:"order_id"`
	IssuedAt time.Time     `json:"issued_at"`
	Lines    []InvoiceLine `json:"lines"`
	Total    int64         `json:"total"`
}

// InvoiceLine is one rendered row of an invoice
type InvoiceLine struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// InvoiceName returns the attachment and archive file name for an order
func InvoiceName(orderID int64) string {
	return fmt.Sprintf("Invoice-%d.pdf", orderID)
}

// FileName returns the attachment name of the invoice
func (i *Invoice) FileName() string {
	return InvoiceName(i.OrderID)
}
