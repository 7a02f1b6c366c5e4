package discount

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	rules map[string]*Rule
	uses  map[string]int
}

func newMockRepo(rules ...*Rule) *mockRepo {
	m := &mockRepo{rules: make(map[string]*Rule), uses: make(map[string]int)}
	for _, r := range rules {
		m.rules[r.Code] = r
	}
	return m
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	r, ok := m.rules[code]
	if !ok {
		return nil, ErrInvalidDiscount
	}
	return r, nil
}

func (m *mockRepo) IncrementUses(_ context.Context, code string) error {
	m.uses[code]++
	return nil
}

func evalAt(repo Repository, at time.Time) *Evaluator {
	e := NewEvaluator(repo)
	e.now = func() time.Time { return at }
	return e
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate_Percentage(t *testing.T) {
	repo := newMockRepo(&Rule{
		Code: "SAVE10", Type: TypePercentage, Value: dec("10"), Active: true,
	})
	e := NewEvaluator(repo)

	amount, err := e.Evaluate(context.Background(), "SAVE10", dec("300.00"), dec("250.00"))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("25.00")), amount.String())
	assert.Equal(t, 1, repo.uses["SAVE10"])
}

func TestEvaluate_FlatClampedToCartTotal(t *testing.T) {
	repo := newMockRepo(&Rule{
		Code: "FLAT50", Type: TypeFlat, Value: dec("50.00"), Active: true,
	})
	e := NewEvaluator(repo)

	amount, err := e.Evaluate(context.Background(), "FLAT50", dec("30.00"), dec("30.00"))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("30.00")))
}

func TestEvaluate_UnknownCode(t *testing.T) {
	e := NewEvaluator(newMockRepo())

	_, err := e.Evaluate(context.Background(), "NOPE", dec("100"), dec("100"))
	require.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestEvaluate_InactiveRule(t *testing.T) {
	repo := newMockRepo(&Rule{Code: "OFF", Type: TypeFlat, Value: dec("5"), Active: false})
	e := NewEvaluator(repo)

	_, err := e.Evaluate(context.Background(), "OFF", dec("100"), dec("100"))
	require.ErrorIs(t, err, ErrInvalidDiscount)
	assert.Zero(t, repo.uses["OFF"])
}

func TestEvaluate_ValidityWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	rule := &Rule{
		Code: "MARCH", Type: TypePercentage, Value: dec("10"), Active: true,
		StartDate: &start, EndDate: &end,
	}

	_, err := evalAt(newMockRepo(rule), start.Add(-time.Hour)).
		Evaluate(context.Background(), "MARCH", dec("100"), dec("100"))
	require.ErrorIs(t, err, ErrDiscountExpired)

	_, err = evalAt(newMockRepo(rule), end.Add(time.Hour)).
		Evaluate(context.Background(), "MARCH", dec("100"), dec("100"))
	require.ErrorIs(t, err, ErrDiscountExpired)

	amount, err := evalAt(newMockRepo(rule), start.Add(24*time.Hour)).
		Evaluate(context.Background(), "MARCH", dec("100"), dec("100"))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("10.00")))
}

func TestEvaluate_UsageLimit(t *testing.T) {
	repo := newMockRepo(&Rule{
		Code: "LIMITED", Type: TypeFlat, Value: dec("5"), Active: true,
		MaxUses: 3, Uses: 3,
	})
	e := NewEvaluator(repo)

	_, err := e.Evaluate(context.Background(), "LIMITED", dec("100"), dec("100"))
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestEvaluate_MinOrderValueChecksSubTotal(t *testing.T) {
	repo := newMockRepo(&Rule{
		Code: "BIG", Type: TypeFlat, Value: dec("20"), Active: true,
		MinOrderValue: dec("200.00"),
	})
	e := NewEvaluator(repo)

	// Minimum applies to the pre-discount subtotal, not the cart total.
	_, err := e.Evaluate(context.Background(), "BIG", dec("150.00"), dec("150.00"))
	require.ErrorIs(t, err, ErrInvalidDiscount)

	amount, err := e.Evaluate(context.Background(), "BIG", dec("200.00"), dec("180.00"))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("20.00")))
}

func TestEvaluate_RoundsToCents(t *testing.T) {
	repo := newMockRepo(&Rule{
		Code: "THIRD", Type: TypePercentage, Value: dec("33.33"), Active: true,
	})
	e := NewEvaluator(repo)

	amount, err := e.Evaluate(context.Background(), "THIRD", dec("100"), dec("99.99"))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("33.33")), amount.String())
}
