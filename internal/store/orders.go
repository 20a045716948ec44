package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = "id, user_id, user_email, total_amount, idempotency_key, created_at"

type orderLineRow struct {
	ID          int64  `db:"id"`
	OrderID     int64  `db:"order_id"`
	Position    int    `db:"position"`
	Quantity    int    `db:"quantity"`
	ProductID   int64  `db:"product_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Price       int64  `db:"price"`
}

func (r orderLineRow) toModel() models.OrderLine {
	return models.OrderLine{
		ID:       r.ID,
		OrderID:  r.OrderID,
		Position: r.Position,
		Quantity: r.Quantity,
		Product: models.ProductSnapshot{
			ProductID:   r.ProductID,
			Title:       r.Title,
			Description: r.Description,
			Price:       r.Price,
		},
	}
}

// OrderBuilder turns the locked cart lines into the order to persist
type OrderBuilder func(lines []models.CartLine) (*models.Order, error)

// CreateOrderFromCart locks the user's cart, builds the order from it, inserts the order with its
// lines and empties the cart, all in one transaction.
func (s *Store) CreateOrderFromCart(ctx context.Context, userID int64, build OrderBuilder) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lines, err := selectCartLines(ctx, tx, cartLinesQuery+" FOR UPDATE OF c", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	order, err := build(lines)
	if err != nil {
		return nil, err
	}

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, user_email, total_amount, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING `+orderColumns,
		order.UserID, order.UserEmail, order.TotalAmount, order.IdempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("order idempotency key: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		line.Position = i + 1

		err := tx.GetContext(ctx, &line.ID, `
			INSERT INTO order_lines (order_id, position, quantity, product_id, title, description, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			line.OrderID, line.Position, line.Quantity,
			line.Product.ProductID, line.Product.Title, line.Product.Description, line.Product.Price)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order line: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

// GetOrderByID retrieves an order with its lines
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.GetOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

// GetOrderLines retrieves the snapshot lines of an order
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var rows []orderLineRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY position", orderID)
	if err != nil {
		return nil, err
	}

	lines := make([]models.OrderLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, row.toModel())
	}
	return lines, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	query, args, err := sqlx.In("SELECT * FROM order_lines WHERE order_id IN (?) ORDER BY order_id, position", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []orderLineRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		i := index[row.OrderID]
		orders[i].Lines = append(orders[i].Lines, row.toModel())
	}
	return orders, nil
}
