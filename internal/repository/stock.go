package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/stock"
)

const (
	lockStockSQL = `SELECT quantity, reserved, updated_at
		FROM stock_levels WHERE product_id = $1 FOR UPDATE`

	readStockSQL = `SELECT quantity, reserved, updated_at
		FROM stock_levels WHERE product_id = $1`

	reserveStockSQL = `UPDATE stock_levels
		SET reserved = reserved + $2, updated_at = now()
		WHERE product_id = $1 AND quantity - reserved >= $2`

	unreserveStockSQL = `UPDATE stock_levels
		SET reserved = reserved - $2, updated_at = now()
		WHERE product_id = $1 AND reserved >= $2`

	purchaseStockSQL = `UPDATE stock_levels
		SET quantity = quantity - $2, reserved = reserved - $2, updated_at = now()
		WHERE product_id = $1 AND reserved >= $2`

	restoreStockSQL = `UPDATE stock_levels
		SET quantity = quantity + $2, updated_at = now()
		WHERE product_id = $1`

	auditStockSQL = `INSERT INTO stock_audit (product_id, action, quantity)
		VALUES ($1, $2, $3)`

	upsertStockSQL = `INSERT INTO stock_levels (product_id, quantity)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, updated_at = now()`
)

var _ stock.Service = (*StockRepository)(nil)

// StockRepository keeps the reservation-aware inventory counters in
// PostgreSQL. Every mutation runs its availability check and its write in one
// statement; multi-line reservations take row locks in a single transaction
// so the hold is all-or-nothing.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository using the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// Reserve holds qty units of one product.
func (r *StockRepository) Reserve(ctx context.Context, productID string, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return reserveOne(ctx, tx, productID, qty)
	})
}

// ReserveAll holds every item or none. Rows are locked in product-id order
// so concurrent reservations over the same products cannot deadlock.
func (r *StockRepository) ReserveAll(ctx context.Context, items []stock.Item) error {
	ordered := lockOrder(items)
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, it := range ordered {
			if err := reserveOne(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

// lockOrder copies items sorted by product id. The caller's slice keeps its
// request order for error reporting.
func lockOrder(items []stock.Item) []stock.Item {
	ordered := make([]stock.Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ProductID < ordered[j].ProductID
	})
	return ordered
}

// Unreserve releases an open hold.
func (r *StockRepository) Unreserve(ctx context.Context, productID string, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lvl, err := lockLevel(ctx, tx, productID)
		if err != nil {
			return err
		}
		if lvl.Reserved < qty {
			return stock.ErrOverRelease
		}
		if _, err := tx.Exec(ctx, unreserveStockSQL, productID, qty); err != nil {
			return fmt.Errorf("unreserving stock for %q: %w", productID, err)
		}
		return audit(ctx, tx, productID, stock.ActionUnreserve, qty)
	})
}

// Purchase finalizes a hold, debiting both counters.
func (r *StockRepository) Purchase(ctx context.Context, productID string, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lvl, err := lockLevel(ctx, tx, productID)
		if err != nil {
			return err
		}
		if lvl.Reserved < qty {
			return &stock.InsufficientStockError{
				ProductID: productID,
				Required:  qty,
				Available: lvl.Reserved,
			}
		}
		if _, err := tx.Exec(ctx, purchaseStockSQL, productID, qty); err != nil {
			return fmt.Errorf("purchasing stock for %q: %w", productID, err)
		}
		return audit(ctx, tx, productID, stock.ActionPurchase, qty)
	})
}

// Restore returns purchased units to the physical quantity.
func (r *StockRepository) Restore(ctx context.Context, productID string, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, restoreStockSQL, productID, qty)
		if err != nil {
			return fmt.Errorf("restoring stock for %q: %w", productID, err)
		}
		if ct.RowsAffected() == 0 {
			return stock.ErrProductNotFound
		}
		return audit(ctx, tx, productID, stock.ActionRestore, qty)
	})
}

// Level reads the current counters for one product.
func (r *StockRepository) Level(ctx context.Context, productID string) (stock.Level, error) {
	lvl := stock.Level{ProductID: productID}
	err := r.pool.QueryRow(ctx, readStockSQL, productID).
		Scan(&lvl.Quantity, &lvl.Reserved, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, stock.ErrProductNotFound
		}
		return stock.Level{}, fmt.Errorf("reading stock for %q: %w", productID, err)
	}
	return lvl, nil
}

// Set creates or replaces the physical quantity for a product. Used by
// seeding and restock flows, not by the order path.
func (r *StockRepository) Set(ctx context.Context, productID string, qty int) error {
	if _, err := r.pool.Exec(ctx, upsertStockSQL, productID, qty); err != nil {
		return fmt.Errorf("setting stock for %q: %w", productID, err)
	}
	return nil
}

func reserveOne(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	lvl, err := lockLevel(ctx, tx, productID)
	if err != nil {
		return err
	}
	if lvl.Available() < qty {
		return &stock.InsufficientStockError{
			ProductID: productID,
			Required:  qty,
			Available: lvl.Available(),
		}
	}
	if _, err := tx.Exec(ctx, reserveStockSQL, productID, qty); err != nil {
		return fmt.Errorf("reserving stock for %q: %w", productID, err)
	}
	return audit(ctx, tx, productID, stock.ActionReserve, qty)
}

func lockLevel(ctx context.Context, tx pgx.Tx, productID string) (stock.Level, error) {
	lvl := stock.Level{ProductID: productID}
	err := tx.QueryRow(ctx, lockStockSQL, productID).
		Scan(&lvl.Quantity, &lvl.Reserved, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, stock.ErrProductNotFound
		}
		return stock.Level{}, fmt.Errorf("locking stock for %q: %w", productID, err)
	}
	return lvl, nil
}

func audit(ctx context.Context, tx pgx.Tx, productID string, action stock.Action, qty int) error {
	if _, err := tx.Exec(ctx, auditStockSQL, productID, string(action), qty); err != nil {
		return fmt.Errorf("recording stock audit for %q: %w", productID, err)
	}
	return nil
}
