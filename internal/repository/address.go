package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/order"
)

const (
	getAddressSQL = `SELECT id, owner_id, recipient, line1, city, country
		FROM addresses WHERE id = $1 AND owner_id = $2`

	insertAddressSQL = `INSERT INTO addresses (
			id, owner_id, recipient, line1, city, country
		) VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ order.AddressBook = (*AddressRepository)(nil)

// AddressRepository stores delivery addresses in PostgreSQL. Lookups are
// always scoped to the owner so one user cannot ship to another's address.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository using the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// GetAddress returns the address only when it belongs to ownerID.
func (r *AddressRepository) GetAddress(ctx context.Context, id, ownerID string) (*order.Address, error) {
	var a order.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id, ownerID).Scan(
		&a.ID, &a.OwnerID, &a.Recipient, &a.Line1, &a.City, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}

// Create stores a new address.
func (r *AddressRepository) Create(ctx context.Context, a *order.Address) error {
	if _, err := r.pool.Exec(ctx, insertAddressSQL,
		a.ID, a.OwnerID, a.Recipient, a.Line1, a.City, a.Country,
	); err != nil {
		return fmt.Errorf("creating address %q: %w", a.ID, err)
	}
	return nil
}
