package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, price, final_price, currency, image_url
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, price, final_price, currency, image_url
		FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (
			id, name, price, final_price, currency, image_url
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			final_price = EXCLUDED.final_price,
			currency = EXCLUDED.currency,
			image_url = EXCLUDED.image_url,
			updated_at = now()`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert creates or replaces a catalog entry. Used by seeding.
func (r *ProductRepository) Upsert(ctx context.Context, id, name string, price, finalPrice decimal.Decimal, currency, imageURL string) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL,
		id, name, price, finalPrice, currency, imageURL,
	); err != nil {
		return fmt.Errorf("upserting product %q: %w", id, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		price    decimal.Decimal
		final    decimal.Decimal
		currency string
	)
	err := row.Scan(&p.ID, &p.Name, &price, &final, &currency, &p.ImageURL)
	p.Price = price
	p.FinalPrice = final
	p.Currency = payment.Currency(currency)
	return p, err
}
