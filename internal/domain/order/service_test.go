package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/cart"
	"github.com/vietcart/fulfillment/internal/domain/discount"
	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/product"
	"github.com/vietcart/fulfillment/internal/domain/stock"
	"github.com/vietcart/fulfillment/internal/notify"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID map[string]*product.Product
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockDiscountRepo struct {
	rules map[string]*discount.Rule
	uses  map[string]int
}

func (m *mockDiscountRepo) FindByCode(_ context.Context, code string) (*discount.Rule, error) {
	r, ok := m.rules[code]
	if !ok {
		return nil, discount.ErrInvalidDiscount
	}
	return r, nil
}

func (m *mockDiscountRepo) IncrementUses(_ context.Context, code string) error {
	if m.uses == nil {
		m.uses = make(map[string]int)
	}
	m.uses[code]++
	return nil
}

type mockOrderRepo struct {
	created   *Order
	byID      map[string]*Order
	statuses  map[string]Status
	statusLog []Status
	cancelled map[string]payment.Status
	createErr error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) SetStatus(_ context.Context, id string, status Status) error {
	if m.statuses == nil {
		m.statuses = make(map[string]Status)
	}
	m.statuses[id] = status
	m.statusLog = append(m.statusLog, status)
	return nil
}

func (m *mockOrderRepo) Cancel(_ context.Context, id string, ps payment.Status) error {
	if m.cancelled == nil {
		m.cancelled = make(map[string]payment.Status)
	}
	m.cancelled[id] = ps
	return nil
}

type mockCartRepo struct {
	items   []cart.Item
	cleared bool
}

func (m *mockCartRepo) Items(_ context.Context, _ string) ([]cart.Item, error) {
	return m.items, nil
}

func (m *mockCartRepo) Clear(_ context.Context, _ string) error {
	m.cleared = true
	return nil
}

type mockAddressBook struct {
	known map[string]string // address id -> owner id
}

func (m *mockAddressBook) GetAddress(_ context.Context, id, ownerID string) (*Address, error) {
	owner, ok := m.known[id]
	if !ok || owner != ownerID {
		return nil, ErrAddressNotFound
	}
	return &Address{ID: id, OwnerID: owner}, nil
}

type mockPayments struct {
	created    *payment.Payment
	cancelled  []string
	latest     *payment.Payment
	createErr  error
	expiresAt  *time.Time
	paymentSeq int
}

func (m *mockPayments) CreatePending(_ context.Context, p *payment.Payment, _ payment.Method) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.paymentSeq++
	p.ID = "pay-1"
	p.Status = payment.StatusPending
	p.ExpiresAt = m.expiresAt
	m.created = p
	return nil
}

func (m *mockPayments) Cancel(_ context.Context, paymentID, _ string, _ payment.Initiator) error {
	m.cancelled = append(m.cancelled, paymentID)
	return nil
}

func (m *mockPayments) LatestByOrder(_ context.Context, _ string) (*payment.Payment, error) {
	if m.latest == nil {
		return nil, payment.ErrNotFound
	}
	return m.latest, nil
}

type mockScheduler struct {
	scheduled map[string]time.Time
}

func (m *mockScheduler) Schedule(_ context.Context, paymentID string, at time.Time) error {
	if m.scheduled == nil {
		m.scheduled = make(map[string]time.Time)
	}
	m.scheduled[paymentID] = at
	return nil
}

// --- Helpers ---

type fixture struct {
	svc      *Service
	products *mockProductRepo
	stock    *stock.Memory
	orders   *mockOrderRepo
	carts    *mockCartRepo
	payments *mockPayments
	expiry   *mockScheduler
	rules    *mockDiscountRepo
}

func newFixture(products ...product.Product) *fixture {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	f := &fixture{
		products: &mockProductRepo{byID: byID},
		stock:    stock.NewMemory(),
		orders:   &mockOrderRepo{},
		carts:    &mockCartRepo{},
		payments: &mockPayments{},
		expiry:   &mockScheduler{},
		rules:    &mockDiscountRepo{rules: map[string]*discount.Rule{}},
	}
	f.svc = NewService(
		f.products, f.stock, discount.NewEvaluator(f.rules),
		f.orders, f.carts, &mockAddressBook{known: map[string]string{"addr-1": "u1"}},
		f.payments, f.expiry, notify.Noop{}, zap.NewNop(),
	)
	return f
}

func newTestProduct(id string, price, finalPrice string) product.Product {
	return product.Product{
		ID:         id,
		Name:       id,
		Price:      decimal.RequireFromString(price),
		FinalPrice: decimal.RequireFromString(finalPrice),
		Currency:   payment.CurrencyVND,
		ImageURL:   "https://cdn.example.com/" + id + ".jpg",
	}
}

func buyer() User { return User{ID: "u1", Email: "u1@example.com"} }

// --- Tests ---

func TestCreateOrder_EmptyItems(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User: buyer(), Method: payment.MethodVNPay,
	})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	f := newFixture(newTestProduct("p1", "10.00", "10.00"))

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodVNPay,
		Items:  []ItemRequest{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestCreateOrder_PriceMismatch(t *testing.T) {
	f := newFixture(newTestProduct("p1", "100.00", "90.00"))
	f.stock.Set("p1", 10)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodVNPay,
		Items: []ItemRequest{{
			ProductID: "p1", Quantity: 1,
			UnitPrice: decimal.RequireFromString("85.00"),
		}},
	})

	var pmErr *PriceMismatchError
	require.ErrorAs(t, err, &pmErr)
	assert.Equal(t, "p1", pmErr.ProductID)
	assert.True(t, pmErr.Actual.Equal(decimal.RequireFromString("90.00")))

	// No hold may survive a rejected order.
	lvl, err := f.stock.Level(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, lvl.Reserved)
}

func TestCreateOrder_AcceptsListOrFinalPrice(t *testing.T) {
	f := newFixture(newTestProduct("p1", "100.00", "90.00"))
	f.stock.Set("p1", 10)

	for _, claimed := range []string{"100.00", "90.00"} {
		_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
			User:   buyer(),
			Method: payment.MethodCashOnDelivery,
			Items: []ItemRequest{{
				ProductID: "p1", Quantity: 1,
				UnitPrice: decimal.RequireFromString(claimed),
			}},
		})
		require.NoError(t, err, "claimed price %s", claimed)
	}
}

func TestCreateOrder_Totals(t *testing.T) {
	f := newFixture(
		newTestProduct("p1", "100.00", "90.00"),
		newTestProduct("p2", "50.00", "50.00"),
	)
	f.stock.Set("p1", 10)
	f.stock.Set("p2", 10)
	f.svc.SetShippingFees(map[ShippingType]decimal.Decimal{
		ShippingExpress: decimal.RequireFromString("30.00"),
	})

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:     buyer(),
		Method:   payment.MethodVNPay,
		Shipping: ShippingExpress,
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("90.00")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")},
		},
	})
	require.NoError(t, err)

	o := res.Order
	// subTotal from list prices, totalCost from unit prices.
	assert.True(t, o.SubTotal.Equal(decimal.RequireFromString("250.00")), o.SubTotal.String())
	assert.True(t, o.TotalCost.Equal(decimal.RequireFromString("230.00")), o.TotalCost.String())
	assert.True(t, o.TotalCartPrice.Equal(decimal.RequireFromString("230.00")))
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("260.00")), o.TotalAmount.String())
	assert.Equal(t, int64(520), o.LoyaltyPoints)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, payment.StatusPending, o.PaymentStatus)

	// Both lines are held, nothing purchased yet.
	lvl, _ := f.stock.Level(context.Background(), "p1")
	assert.Equal(t, 2, lvl.Reserved)
	assert.Equal(t, 10, lvl.Quantity)
}

func TestCreateOrder_PercentageDiscount(t *testing.T) {
	f := newFixture(
		newTestProduct("p1", "100.00", "100.00"),
		newTestProduct("p2", "50.00", "50.00"),
	)
	f.stock.Set("p1", 10)
	f.stock.Set("p2", 10)
	f.rules.rules["SAVE10"] = &discount.Rule{
		Code:   "SAVE10",
		Type:   discount.TypePercentage,
		Value:  decimal.RequireFromString("10"),
		Active: true,
	}

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:         buyer(),
		Method:       payment.MethodMomo,
		DiscountCode: "SAVE10",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("100.00")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")},
		},
	})
	require.NoError(t, err)

	o := res.Order
	assert.True(t, o.DiscountAmount.Equal(decimal.RequireFromString("25.00")), o.DiscountAmount.String())
	assert.True(t, o.TotalCartPrice.Equal(decimal.RequireFromString("225.00")))
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("225.00")))
	assert.Equal(t, int64(450), o.LoyaltyPoints)
	require.NotNil(t, o.DiscountCode)
	assert.Equal(t, "SAVE10", *o.DiscountCode)
	assert.Equal(t, 1, f.rules.uses["SAVE10"])
}

func TestCreateOrder_DiscountClampedToCartTotal(t *testing.T) {
	f := newFixture(newTestProduct("p1", "20.00", "20.00"))
	f.stock.Set("p1", 5)
	f.rules.rules["BIGFLAT"] = &discount.Rule{
		Code:   "BIGFLAT",
		Type:   discount.TypeFlat,
		Value:  decimal.RequireFromString("500.00"),
		Active: true,
	}

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:         buyer(),
		Method:       payment.MethodCashOnDelivery,
		DiscountCode: "BIGFLAT",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("20.00")},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Order.TotalCartPrice.IsZero())
	assert.True(t, res.Order.TotalAmount.IsZero())
}

func TestCreateOrder_InsufficientStockAllOrNothing(t *testing.T) {
	f := newFixture(
		newTestProduct("p1", "10.00", "10.00"),
		newTestProduct("p2", "10.00", "10.00"),
	)
	f.stock.Set("p1", 10)
	f.stock.Set("p2", 1)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodVNPay,
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: "p2", Quantity: 5, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})

	var insufficientErr *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, "p2", insufficientErr.ProductID)

	// The first line's hold must have been rolled back.
	lvl, _ := f.stock.Level(context.Background(), "p1")
	assert.Equal(t, 0, lvl.Reserved)
}

func TestCreateOrder_PaymentFailureReleasesHoldAndCancelsOrder(t *testing.T) {
	f := newFixture(newTestProduct("p1", "10.00", "10.00"))
	f.stock.Set("p1", 10)
	f.payments.createErr = payment.ErrMethodMismatch

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodVNPay,
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 3, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	require.ErrorIs(t, err, payment.ErrMethodMismatch)

	lvl, _ := f.stock.Level(context.Background(), "p1")
	assert.Equal(t, 0, lvl.Reserved)
	require.NotNil(t, f.orders.created)
	assert.Equal(t, payment.StatusFailed, f.orders.cancelled[f.orders.created.ID])
}

func TestCreateOrder_CashOnDeliveryHasNoTransactionID(t *testing.T) {
	f := newFixture(newTestProduct("p1", "10.00", "10.00"))
	f.stock.Set("p1", 10)

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodCashOnDelivery,
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Payment.TransactionID)
}

func TestCreateOrder_SchedulesExpiry(t *testing.T) {
	f := newFixture(newTestProduct("p1", "10.00", "10.00"))
	f.stock.Set("p1", 10)
	deadline := time.Now().Add(15 * time.Minute)
	f.payments.expiresAt = &deadline

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodZaloPay,
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, deadline, f.expiry.scheduled[res.Payment.ID])
}

func TestCreateOrder_UnknownAddress(t *testing.T) {
	f := newFixture(newTestProduct("p1", "10.00", "10.00"))
	f.stock.Set("p1", 10)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		User:      buyer(),
		Method:    payment.MethodVNPay,
		AddressID: "addr-unknown",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	require.ErrorIs(t, err, ErrAddressNotFound)
}

func TestCheckout_UsesCartAndFinalPrices(t *testing.T) {
	f := newFixture(newTestProduct("p1", "100.00", "90.00"))
	f.stock.Set("p1", 10)
	f.carts.items = []cart.Item{{ProductID: "p1", Quantity: 2}}

	res, err := f.svc.Checkout(context.Background(), CreateOrderRequest{
		User:   buyer(),
		Method: payment.MethodMomo,
	})
	require.NoError(t, err)
	assert.True(t, res.Order.TotalCost.Equal(decimal.RequireFromString("180.00")))
	assert.True(t, res.Order.SubTotal.Equal(decimal.RequireFromString("200.00")))
	assert.True(t, f.carts.cleared)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Checkout(context.Background(), CreateOrderRequest{
		User: buyer(), Method: payment.MethodMomo,
	})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCompleteOrder_PurchasesHeldStock(t *testing.T) {
	f := newFixture()
	f.stock.Set("p1", 10)
	require.NoError(t, f.stock.Reserve(context.Background(), "p1", 2))
	f.orders.byID = map[string]*Order{
		"o1": {
			ID: "o1", UserID: "u1", Status: StatusShipped,
			Items: []Item{{ProductID: "p1", Quantity: 2}},
		},
	}

	require.NoError(t, f.svc.CompleteOrder(context.Background(), buyer(), "o1"))

	lvl, _ := f.stock.Level(context.Background(), "p1")
	assert.Equal(t, 8, lvl.Quantity)
	assert.Equal(t, 0, lvl.Reserved)
	assert.Equal(t, StatusCompleted, f.orders.statuses["o1"])
}

func TestCompleteOrder_RecordsDeliveryBeforeClosing(t *testing.T) {
	f := newFixture()
	f.stock.Set("p1", 5)
	require.NoError(t, f.stock.Reserve(context.Background(), "p1", 1))
	f.orders.byID = map[string]*Order{
		"o1": {
			ID: "o1", UserID: "u1", Status: StatusShipped,
			Items: []Item{{ProductID: "p1", Quantity: 1}},
		},
	}

	require.NoError(t, f.svc.CompleteOrder(context.Background(), buyer(), "o1"))

	assert.Equal(t, []Status{StatusDelivered, StatusCompleted}, f.orders.statusLog)
}

func TestCompleteOrder_OnlyFromShipped(t *testing.T) {
	f := newFixture()
	f.orders.byID = map[string]*Order{
		"o1": {ID: "o1", UserID: "u1", Status: StatusPending},
	}

	err := f.svc.CompleteOrder(context.Background(), buyer(), "o1")

	var stateErr *IllegalStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "complete", stateErr.Op)
}

func TestCancelOrder_PendingPaymentGoesThroughMachine(t *testing.T) {
	f := newFixture()
	f.orders.byID = map[string]*Order{
		"o1": {ID: "o1", UserID: "u1", Status: StatusPending,
			Items: []Item{{ProductID: "p1", Quantity: 1}}},
	}
	f.payments.latest = &payment.Payment{ID: "pay-1", Status: payment.StatusPending}

	require.NoError(t, f.svc.CancelOrder(context.Background(), buyer(), "o1", "changed my mind"))
	assert.Equal(t, []string{"pay-1"}, f.payments.cancelled)
	// The machine owns the hold release; nothing is unreserved here.
	assert.Empty(t, f.orders.cancelled)
}

func TestCancelOrder_NoPendingPaymentReleasesHold(t *testing.T) {
	f := newFixture()
	f.stock.Set("p1", 10)
	require.NoError(t, f.stock.Reserve(context.Background(), "p1", 3))
	f.orders.byID = map[string]*Order{
		"o1": {ID: "o1", UserID: "u1", Status: StatusProcessing,
			Items: []Item{{ProductID: "p1", Quantity: 3}}},
	}
	f.payments.latest = &payment.Payment{ID: "pay-1", Status: payment.StatusCompleted}

	require.NoError(t, f.svc.CancelOrder(context.Background(), buyer(), "o1", ""))

	lvl, _ := f.stock.Level(context.Background(), "p1")
	assert.Equal(t, 0, lvl.Reserved)
	assert.Equal(t, payment.StatusCancelled, f.orders.cancelled["o1"])
}

func TestCancelOrder_IllegalPastStates(t *testing.T) {
	f := newFixture()
	for _, status := range []Status{StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled} {
		f.orders.byID = map[string]*Order{
			"o1": {ID: "o1", UserID: "u1", Status: status},
		}
		err := f.svc.CancelOrder(context.Background(), buyer(), "o1", "")

		var stateErr *IllegalStateError
		require.ErrorAs(t, err, &stateErr, "status %s", status)
	}
}

func TestGetOrder_Authorization(t *testing.T) {
	f := newFixture()
	f.orders.byID = map[string]*Order{
		"o1": {ID: "o1", UserID: "u1", Status: StatusPending},
	}

	_, err := f.svc.GetOrder(context.Background(), User{ID: "intruder"}, "o1")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.GetOrder(context.Background(), User{ID: "admin-1", Role: "admin"}, "o1")
	require.NoError(t, err)

	_, err = f.svc.GetOrder(context.Background(), buyer(), "o1")
	require.NoError(t, err)
}
