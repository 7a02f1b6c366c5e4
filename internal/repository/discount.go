package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/discount"
)

const (
	findDiscountSQL = `SELECT code, discount_type, value, min_order_value,
			active, start_date, end_date, max_uses, uses, description
		FROM discounts WHERE code = $1`

	incrementDiscountUsesSQL = `UPDATE discounts SET uses = uses + 1
		WHERE code = $1`

	upsertDiscountSQL = `INSERT INTO discounts (
			code, discount_type, value, min_order_value, active,
			start_date, end_date, max_uses, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_value = EXCLUDED.min_order_value,
			active = EXCLUDED.active,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			max_uses = EXCLUDED.max_uses,
			description = EXCLUDED.description`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository stores discount rules in PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository using the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode returns the rule for code, or ErrInvalidDiscount when no such
// code exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Rule, error) {
	var (
		rule  discount.Rule
		dtype string
	)
	err := r.pool.QueryRow(ctx, findDiscountSQL, code).Scan(
		&rule.Code, &dtype, &rule.Value, &rule.MinOrderValue,
		&rule.Active, &rule.StartDate, &rule.EndDate,
		&rule.MaxUses, &rule.Uses, &rule.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrInvalidDiscount
		}
		return nil, fmt.Errorf("finding discount %q: %w", code, err)
	}
	rule.Type = discount.Type(dtype)
	return &rule, nil
}

// IncrementUses bumps the usage counter for code.
func (r *DiscountRepository) IncrementUses(ctx context.Context, code string) error {
	ct, err := r.pool.Exec(ctx, incrementDiscountUsesSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for discount %q: %w", code, err)
	}
	if ct.RowsAffected() == 0 {
		return discount.ErrInvalidDiscount
	}
	return nil
}

// Upsert creates or replaces a discount rule. Used by seeding.
func (r *DiscountRepository) Upsert(ctx context.Context, rule *discount.Rule) error {
	_, err := r.pool.Exec(ctx, upsertDiscountSQL,
		rule.Code, string(rule.Type), rule.Value, rule.MinOrderValue,
		rule.Active, rule.StartDate, rule.EndDate, rule.MaxUses,
		rule.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", rule.Code, err)
	}
	return nil
}
