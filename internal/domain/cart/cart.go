// Package cart defines the shopping cart contract consumed by the checkout
// flow.
package cart

import "context"

// Item is one product held in a user's cart.
type Item struct {
	ProductID string
	Quantity  int
}

// Repository provides per-user cart access. Checkout reads the items and
// clears the cart once the order is placed.
type Repository interface {
	Items(ctx context.Context, userID string) ([]Item, error)
	Clear(ctx context.Context, userID string) error
}
