package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveUnreserveRoundTrip(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 4))
	lvl, err := m.Level(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, lvl.Quantity)
	assert.Equal(t, 4, lvl.Reserved)
	assert.Equal(t, 6, lvl.Available())

	require.NoError(t, m.Unreserve(ctx, "p1", 4))
	lvl, err = m.Level(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, lvl.Quantity)
	assert.Equal(t, 0, lvl.Reserved)
	assert.Equal(t, 10, lvl.Available())
}

func TestReserveInsufficientStock(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 3)

	err := m.Reserve(context.Background(), "p1", 5)

	var insErr *InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "p1", insErr.ProductID)
	assert.Equal(t, 5, insErr.Required)
	assert.Equal(t, 3, insErr.Available)
}

func TestReserveCountsOpenHolds(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 5)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 3))
	// 2 sellable left; a reservation for 3 must fail even though quantity is 5.
	err := m.Reserve(ctx, "p1", 3)
	var insErr *InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 2, insErr.Available)
}

func TestReserveAllIsAtomic(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	m.Set("p2", 1)

	err := m.ReserveAll(context.Background(), []Item{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "p2", Quantity: 2},
	})

	var insErr *InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "p2", insErr.ProductID)

	lvl, _ := m.Level(context.Background(), "p1")
	assert.Equal(t, 0, lvl.Reserved, "failed multi-line reservation must leave no partial hold")
}

func TestPurchaseDebitsBothCounters(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 3))
	require.NoError(t, m.Purchase(ctx, "p1", 3))

	lvl, _ := m.Level(ctx, "p1")
	assert.Equal(t, 7, lvl.Quantity)
	assert.Equal(t, 0, lvl.Reserved)
}

func TestRestoreReturnsToPool(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 2))
	require.NoError(t, m.Purchase(ctx, "p1", 2))
	require.NoError(t, m.Restore(ctx, "p1", 2))

	lvl, _ := m.Level(ctx, "p1")
	assert.Equal(t, 10, lvl.Quantity)
	assert.Equal(t, 0, lvl.Reserved)
}

func TestOverRelease(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 1))
	require.ErrorIs(t, m.Unreserve(ctx, "p1", 2), ErrOverRelease)
}

func TestUnknownProduct(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.ErrorIs(t, m.Reserve(ctx, "ghost", 1), ErrProductNotFound)
	_, err := m.Level(ctx, "ghost")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestAuditTrail(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 10)
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "p1", 2))
	require.NoError(t, m.Purchase(ctx, "p1", 2))
	require.NoError(t, m.Restore(ctx, "p1", 2))

	entries := m.Audit()
	require.Len(t, entries, 3)
	assert.Equal(t, ActionReserve, entries[0].Action)
	assert.Equal(t, ActionPurchase, entries[1].Action)
	assert.Equal(t, ActionRestore, entries[2].Action)
}

func TestConcurrentReservations(t *testing.T) {
	m := NewMemory()
	m.Set("p1", 5)

	const workers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := m.Reserve(context.Background(), "p1", 1); err == nil {
				mu.Lock()
				held++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly the available quantity may be held, never more.
	assert.Equal(t, 5, held)
	lvl, _ := m.Level(context.Background(), "p1")
	assert.Equal(t, 5, lvl.Reserved)
	assert.Equal(t, 5, lvl.Quantity)
}
