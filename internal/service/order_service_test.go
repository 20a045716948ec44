package service

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buyer = &models.Viewer{UserID: 7, Email: "buyer@example.com"}

func setupOrders(t *testing.T, products ...models.Product) (*OrderService, *CartService, *memStore, *fakeLocker, *fakePublisher) {
	t.Helper()
	st := newMemStore(products...)
	locker := newFakeLocker()
	pub := &fakePublisher{}
	return NewOrderService(st, locker, pub), NewCartService(st, st), st, locker, pub
}

func TestCreateOrder_SnapshotsAndClearsCart(t *testing.T) {
	orders, carts, _, locker, pub := setupOrders(t, product(1, "Widget", 500), product(2, "Gadget", 1200))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	require.NoError(t, carts.AddToCart(ctx, 7, 2))

	order, err := orders.CreateOrder(ctx, buyer, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2200), order.TotalAmount)
	assert.Equal(t, "buyer@example.com", order.UserEmail)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, "Widget", order.Lines[0].Product.Title)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.Nil(t, order.IdempotencyKey)

	lines, err := carts.GetCart(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.Equal(t, []string{"order:user:7"}, locker.released)
	require.Len(t, pub.created, 1)
	assert.Equal(t, order.ID, pub.created[0].OrderID)
	assert.Equal(t, models.EventTypeOrderCreated, pub.created[0].EventType)
	assert.Len(t, pub.created[0].Lines, 2)
}

func TestCreateOrder_IntegerTotal(t *testing.T) {
	orders, carts, _, _, _ := setupOrders(t, product(1, "Pen", 333))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, carts.AddToCart(ctx, 7, 1))
	}

	order, err := orders.CreateOrder(ctx, buyer, "")
	require.NoError(t, err)
	assert.Equal(t, int64(999), order.TotalAmount)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	orders, _, st, _, pub := setupOrders(t, product(1, "Widget", 500))

	_, err := orders.CreateOrder(context.Background(), buyer, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, st.orders)
	assert.Empty(t, pub.created)
}

func TestCreateOrder_SnapshotSurvivesPriceChange(t *testing.T) {
	orders, carts, st, _, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	order, err := orders.CreateOrder(ctx, buyer, "")
	require.NoError(t, err)

	st.setPrice(1, 9900)

	reloaded, err := orders.GetOrder(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(500), reloaded.Lines[0].Product.Price)
	assert.Equal(t, int64(500), reloaded.TotalAmount)
}

func TestCreateOrder_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	orders, carts, st, _, pub := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	first, err := orders.CreateOrder(ctx, buyer, "cs_test_1")
	require.NoError(t, err)

	second, err := orders.CreateOrder(ctx, buyer, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.orders, 1)
	assert.Len(t, pub.created, 1)
}

func TestCreateOrder_IdempotencyKeyOfAnotherUser(t *testing.T) {
	orders, carts, _, _, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	_, err := orders.CreateOrder(ctx, buyer, "cs_test_1")
	require.NoError(t, err)

	_, err = orders.CreateOrder(ctx, &models.Viewer{UserID: 8}, "cs_test_1")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestCreateOrder_KeyCommittedDuringAttemptReturnsThatOrder(t *testing.T) {
	orders, carts, st, _, pub := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))

	// another callback with the same session commits and empties the cart first
	var winner *models.Order
	st.beforeCreate = func() {
		var err error
		winner, err = NewOrderService(st, nil, nil).CreateOrder(ctx, buyer, "cs_test_1")
		require.NoError(t, err)
	}

	order, err := orders.CreateOrder(ctx, buyer, "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, winner.ID, order.ID)
	assert.Len(t, st.orders, 1)
	assert.Empty(t, pub.created)
}

func TestCreateOrder_KeyCommittedWhileLockedReturnsThatOrder(t *testing.T) {
	orders, carts, st, locker, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	locker.held["order:user:7"] = true

	var winner *models.Order
	locker.onContended = func() {
		locker.onContended = nil
		var err error
		winner, err = NewOrderService(st, nil, nil).CreateOrder(ctx, buyer, "cs_test_1")
		require.NoError(t, err)
	}

	order, err := orders.CreateOrder(ctx, buyer, "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, winner.ID, order.ID)
}

func TestCreateOrder_EmptyCartWithUnknownKey(t *testing.T) {
	orders, _, st, _, _ := setupOrders(t, product(1, "Widget", 500))

	_, err := orders.CreateOrder(context.Background(), buyer, "cs_test_unknown")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, st.orders)
}

func TestCreateOrder_RejectsWhileLocked(t *testing.T) {
	orders, carts, st, locker, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	locker.held["order:user:7"] = true

	_, err := orders.CreateOrder(ctx, buyer, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, st.orders)
}

func TestCreateOrder_LockErrorContinues(t *testing.T) {
	orders, carts, _, locker, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	locker.err = errors.New("redis down")

	order, err := orders.CreateOrder(ctx, buyer, "")
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
}

func TestCreateOrder_PublishFailureIsLogged(t *testing.T) {
	orders, carts, _, _, pub := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()
	pub.err = errors.New("kafka down")

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	_, err := orders.CreateOrder(ctx, buyer, "")
	assert.NoError(t, err)
}

func TestCreateOrder_StoreFailure(t *testing.T) {
	orders, carts, st, _, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	st.failWith = errors.New("connection refused")

	_, err := orders.CreateOrder(ctx, buyer, "")
	assert.True(t, apperr.Is(err, apperr.KindRetrievable))
}

func TestCreateOrder_RequiresViewer(t *testing.T) {
	orders, _, _, _, _ := setupOrders(t)

	_, err := orders.CreateOrder(context.Background(), nil, "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestGetOrders_NewestFirst(t *testing.T) {
	orders, carts, _, _, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, carts.AddToCart(ctx, 7, 1))
		_, err := orders.CreateOrder(ctx, buyer, "")
		require.NoError(t, err)
	}

	list, err := orders.GetOrders(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Greater(t, list[0].ID, list[1].ID)

	none, err := orders.GetOrders(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetOrder_Access(t *testing.T) {
	orders, carts, _, _, _ := setupOrders(t, product(1, "Widget", 500))
	ctx := context.Background()

	require.NoError(t, carts.AddToCart(ctx, 7, 1))
	order, err := orders.CreateOrder(ctx, buyer, "")
	require.NoError(t, err)

	_, err = orders.GetOrder(ctx, order.ID, 8)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = orders.GetOrder(ctx, 404, 7)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
