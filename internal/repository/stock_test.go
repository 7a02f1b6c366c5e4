package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vietcart/fulfillment/internal/domain/stock"
)

func TestLockOrder_SortsByProductID(t *testing.T) {
	items := []stock.Item{
		{ProductID: "p-9", Quantity: 1},
		{ProductID: "p-1", Quantity: 3},
		{ProductID: "p-5", Quantity: 2},
	}

	ordered := lockOrder(items)

	assert.Equal(t, []stock.Item{
		{ProductID: "p-1", Quantity: 3},
		{ProductID: "p-5", Quantity: 2},
		{ProductID: "p-9", Quantity: 1},
	}, ordered)

	// The input keeps its request order.
	assert.Equal(t, "p-9", items[0].ProductID)
}

func TestLockOrder_AgreesAcrossRequestOrders(t *testing.T) {
	a := lockOrder([]stock.Item{{ProductID: "p-2"}, {ProductID: "p-7"}})
	b := lockOrder([]stock.Item{{ProductID: "p-7"}, {ProductID: "p-2"}})
	assert.Equal(t, a, b)
}
