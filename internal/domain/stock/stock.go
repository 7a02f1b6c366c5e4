// Package stock is the authoritative ledger of sellable inventory. It uses a
// two-phase reservation model: a reservation holds units without removing
// them from the physical quantity, a purchase finalizes the hold by debiting
// both counters, and a restore returns purchased units to the pool. The
// sellable view is always quantity - reserved.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Action labels a stock mutation in the audit history.
type Action string

const (
	ActionReserve   Action = "reserve"
	ActionUnreserve Action = "unreserve"
	ActionPurchase  Action = "purchase"
	ActionRestore   Action = "restore"
)

// Level is the reservation-aware counter pair for one product.
type Level struct {
	ProductID string
	Quantity  int
	Reserved  int
	UpdatedAt time.Time
}

// Available is the sellable quantity: physical stock minus open holds.
func (l Level) Available() int {
	return l.Quantity - l.Reserved
}

// AuditEntry records one ledger mutation.
type AuditEntry struct {
	ProductID string
	Action    Action
	Quantity  int
	At        time.Time
}

// Item pairs a product with a quantity for multi-line operations.
type Item struct {
	ProductID string
	Quantity  int
}

// ErrProductNotFound is returned when no stock level exists for a product.
var ErrProductNotFound = errors.New("no stock level for product")

// ErrOverRelease is returned when an unreserve exceeds the open hold.
var ErrOverRelease = errors.New("unreserve exceeds reserved quantity")

// InsufficientStockError reports a reservation or purchase that cannot be
// satisfied by the current sellable quantity.
type InsufficientStockError struct {
	ProductID string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: need %d, have %d",
		e.ProductID, e.Required, e.Available)
}

// Service is the single entry point for all stock mutations. Implementations
// must apply each mutation atomically with its availability check (no
// read-then-write) and append an audit entry for every successful mutation.
type Service interface {
	// Reserve holds qty units. Fails with InsufficientStockError when the
	// sellable quantity is below qty.
	Reserve(ctx context.Context, productID string, qty int) error

	// ReserveAll holds every item or none: a shortfall on any line leaves
	// all counters untouched.
	ReserveAll(ctx context.Context, items []Item) error

	// Unreserve releases an open hold. Fails with ErrOverRelease when the
	// hold is smaller than qty.
	Unreserve(ctx context.Context, productID string, qty int) error

	// Purchase finalizes a hold, debiting both reserved and quantity.
	Purchase(ctx context.Context, productID string, qty int) error

	// Restore returns purchased units to the physical quantity.
	Restore(ctx context.Context, productID string, qty int) error

	// Level reads the current counters for one product.
	Level(ctx context.Context, productID string) (Level, error)
}
