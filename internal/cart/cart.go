// Package cart holds the shopping cart state for both guest and
// authenticated owners behind a single capability interface. Guest carts
// round-trip through a base64 cookie blob, user carts live in Redis.
package cart

import "context"

// Entry is one cart line for a single sku
type Entry struct {
	SKUID    int64 `json:"sku_id"`
	Quantity int   `json:"quantity"`
	Selected bool  `json:"selected"`
}

// Store is the cart capability shared by the cookie and Redis backings.
// Handlers pick the backing once per request instead of branching on the
// login state at every call site.
type Store interface {
	// List returns entries in first-add order.
	List(ctx context.Context) ([]Entry, error)
	// Add increments the quantity of an existing entry or inserts a new one.
	Add(ctx context.Context, e Entry) error
	// Set overwrites quantity and selected flag.
	Set(ctx context.Context, e Entry) error
	// Remove drops the entry for the sku.
	Remove(ctx context.Context, skuID int64) error
	// Clear drops the named skus. Used by settlement cleanup.
	Clear(ctx context.Context, skuIDs []int64) error
}
