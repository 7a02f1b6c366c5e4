// Package discount computes order discounts from stored rules: percentage or
// flat amounts gated by an active flag, a validity window, and a minimum
// order value.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage applies a percentage of the cart total.
	TypePercentage Type = "percentage"
	// TypeFlat subtracts a fixed amount, capped at the cart total.
	TypeFlat Type = "flat"
)

var (
	// ErrInvalidDiscount is returned when a code is unknown, inactive, or the
	// order does not reach the rule's minimum value.
	ErrInvalidDiscount = errors.New("invalid discount code")
	// ErrDiscountExpired is returned when a rule is outside its validity window.
	ErrDiscountExpired = errors.New("discount expired")
	// ErrUsageLimitReached is returned when a rule has exhausted its uses.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
)

// Rule defines a discount's behaviour and eligibility constraints.
type Rule struct {
	Code          string
	Type          Type
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	Active        bool
	StartDate     *time.Time
	EndDate       *time.Time
	MaxUses       int
	Uses          int
	Description   string
}

// Repository provides lookup and mutation of discount rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IncrementUses(ctx context.Context, code string) error
}

// Evaluator validates a discount code against an order's subtotal and
// computes the clamped discount amount.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Evaluate looks up the rule for code, checks the active flag, validity
// window, usage limit, and minimum order value against subTotal, computes the
// discount, clamps it to [0, cartTotal], and increments the usage counter.
func (e *Evaluator) Evaluate(ctx context.Context, code string, subTotal, cartTotal decimal.Decimal) (decimal.Decimal, error) {
	rule, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidDiscount) {
			return decimal.Zero, ErrInvalidDiscount
		}
		return decimal.Zero, errors.Wrap(err, "lookup discount")
	}

	if !rule.Active {
		return decimal.Zero, ErrInvalidDiscount
	}

	now := e.now()
	if rule.StartDate != nil && now.Before(*rule.StartDate) {
		return decimal.Zero, ErrDiscountExpired
	}
	if rule.EndDate != nil && now.After(*rule.EndDate) {
		return decimal.Zero, ErrDiscountExpired
	}

	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return decimal.Zero, ErrUsageLimitReached
	}

	if subTotal.LessThan(rule.MinOrderValue) {
		return decimal.Zero, ErrInvalidDiscount
	}

	amount, err := apply(rule, cartTotal)
	if err != nil {
		return decimal.Zero, err
	}

	if err := e.repo.IncrementUses(ctx, code); err != nil {
		return decimal.Zero, errors.Wrap(err, "increment discount uses")
	}
	return amount, nil
}

var hundred = decimal.NewFromInt(100)

// apply computes the raw discount for the rule and clamps it to
// [0, cartTotal].
func apply(rule *Rule, cartTotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch rule.Type {
	case TypePercentage:
		amount = cartTotal.Mul(rule.Value).Div(hundred)
	case TypeFlat:
		amount = rule.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", rule.Type)
	}

	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	if amount.GreaterThan(cartTotal) {
		amount = cartTotal
	}
	return amount.Round(2), nil
}
