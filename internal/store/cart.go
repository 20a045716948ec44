package store

import (
	"context"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const cartLinesQuery = `
	SELECT p.id, p.title, p.description, p.image_url, p.price, p.user_id, p.created_at, c.quantity
	FROM cart_items c
	JOIN products p ON p.id = c.product_id
	WHERE c.user_id = $1
	ORDER BY c.added_at, p.id`

type cartLineRow struct {
	models.Product
	Quantity int `db:"quantity"`
}

// AddCartItem inserts the product with quantity 1 or increments an existing entry
func (s *Store) AddCartItem(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_items.quantity + 1`,
		userID, productID)
	return err
}

// RemoveCartItem deletes the product from the cart; a missing entry is not an error
func (s *Store) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2", userID, productID)
	return err
}

// ClearCart empties the user's cart
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

// GetCartLines retrieves the user's cart with each entry expanded to its current product
func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return selectCartLines(ctx, s.db, cartLinesQuery, userID)
}

func selectCartLines(ctx context.Context, q sqlx.QueryerContext, query string, userID int64) ([]models.CartLine, error) {
	var rows []cartLineRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, userID); err != nil {
		return nil, err
	}

	lines := make([]models.CartLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, models.CartLine{Product: row.Product, Quantity: row.Quantity})
	}
	return lines, nil
}
