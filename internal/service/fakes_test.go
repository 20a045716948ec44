package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"storefront/internal/invoice"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
)

// memStore is an in-memory stand-in for *store.Store
type memStore struct {
	mu       sync.Mutex
	products map[int64]models.Product
	carts    map[int64][]models.CartItem
	orders   []models.Order
	nextID   int64

	countCalls int
	failWith   error

	// beforeCreate runs once at the start of CreateOrderFromCart, outside the lock
	beforeCreate func()
}

func newMemStore(products ...models.Product) *memStore {
	m := &memStore{
		products: map[int64]models.Product{},
		carts:    map[int64][]models.CartItem{},
		nextID:   1,
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) setPrice(id, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = price
	m.products[id] = p
}

func (m *memStore) CountProducts(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	if m.failWith != nil {
		return 0, m.failWith
	}
	return int64(len(m.products)), nil
}

func (m *memStore) ListProducts(ctx context.Context, offset, limit int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// ids are dense from 1 in these tests
	out := []models.Product{}
	for id := int64(offset + 1); id <= int64(offset+limit); id++ {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) AddCartItem(ctx context.Context, userID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[userID]
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity++
			return nil
		}
	}
	m.carts[userID] = append(items, models.CartItem{UserID: userID, ProductID: productID, Quantity: 1, AddedAt: time.Now()})
	return nil
}

func (m *memStore) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[userID]
	for i := range items {
		if items[i].ProductID == productID {
			m.carts[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ClearCart(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *memStore) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.cartLinesLocked(userID), nil
}

func (m *memStore) cartLinesLocked(userID int64) []models.CartLine {
	lines := []models.CartLine{}
	for _, item := range m.carts[userID] {
		p, ok := m.products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{Product: p, Quantity: item.Quantity})
	}
	return lines
}

func (m *memStore) CreateOrderFromCart(ctx context.Context, userID int64, build store.OrderBuilder) (*models.Order, error) {
	if hook := m.beforeCreate; hook != nil {
		m.beforeCreate = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	order, err := build(m.cartLinesLocked(userID))
	if err != nil {
		return nil, err
	}
	if order.IdempotencyKey != nil {
		for _, o := range m.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return nil, store.ErrDuplicate
			}
		}
	}

	order.ID = m.nextID
	m.nextID++
	order.CreatedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := range order.Lines {
		order.Lines[i].ID = order.ID*100 + int64(i)
		order.Lines[i].OrderID = order.ID
		order.Lines[i].Position = i + 1
	}
	m.orders = append(m.orders, copyOrder(*order))
	delete(m.carts, userID)
	return order, nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, o := range m.orders {
		if o.ID == id {
			c := copyOrder(o)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
}

func (m *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			c := copyOrder(o)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, copyOrder(m.orders[i]))
		}
	}
	return out, nil
}

func copyOrder(o models.Order) models.Order {
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return o
}

type fakeCountCache struct {
	count  int64
	ok     bool
	getErr error
	sets   int
}

func (c *fakeCountCache) GetProductCount(ctx context.Context) (int64, bool, error) {
	return c.count, c.ok, c.getErr
}

func (c *fakeCountCache) SetProductCount(ctx context.Context, count int64, ttl time.Duration) error {
	c.sets++
	c.count, c.ok = count, true
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string

	// onContended runs when AcquireLock finds the key held
	onContended func()
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held[key] {
		if l.onContended != nil {
			l.onContended()
		}
		return "", false, nil
	}
	l.held[key] = true
	return "token-" + key, true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	checkout []*models.CheckoutStartedEvent
	err      error
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return p.err
}

func (p *fakePublisher) PublishCheckoutStarted(ctx context.Context, event *models.CheckoutStartedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkout = append(p.checkout, event)
	return p.err
}

type fakeGateway struct {
	requests []*payment.SessionRequest
	err      error
}

func (g *fakeGateway) CreateSession(ctx context.Context, req *payment.SessionRequest) (*payment.Session, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

// failingArchive rejects every Put
type failingArchive struct {
	err   error
	delay time.Duration
}

func (a *failingArchive) Put(ctx context.Context, name string, data []byte) error {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.err
}

func (a *failingArchive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, invoice.ErrNotArchived
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func product(id int64, title string, price int64) models.Product {
	return models.Product{ID: id, Title: title, Description: title + " description", Price: price, UserID: 1}
}
