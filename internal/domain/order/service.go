package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/cart"
	"github.com/vietcart/fulfillment/internal/domain/discount"
	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/product"
	"github.com/vietcart/fulfillment/internal/domain/stock"
	"github.com/vietcart/fulfillment/internal/notify"
)

// Payments is the slice of the payment state machine the orchestrator needs.
type Payments interface {
	CreatePending(ctx context.Context, p *payment.Payment, orderMethod payment.Method) error
	Cancel(ctx context.Context, paymentID, reason string, initiator payment.Initiator) error
	LatestByOrder(ctx context.Context, orderID string) (*payment.Payment, error)
}

// ExpiryScheduler registers a durable expiry deadline for a pending payment.
type ExpiryScheduler interface {
	Schedule(ctx context.Context, paymentID string, at time.Time) error
}

// ItemRequest is one requested line with the client-claimed unit price.
type ItemRequest struct {
	ProductID    string
	Quantity     int
	UnitPrice    decimal.Decimal
	IsGift       bool
	CustomOption string
}

// CreateOrderRequest is the input to the pricing pipeline.
type CreateOrderRequest struct {
	User         User
	Items        []ItemRequest
	AddressID    string
	Method       payment.Method
	Currency     payment.Currency
	DiscountCode string
	Shipping     ShippingType
	UseLoyalty   bool
}

// CreateOrderResult holds the placed order and its pending payment.
type CreateOrderResult struct {
	Order   *Order
	Payment *payment.Payment
}

// Service sequences order use cases: create, checkout, complete, cancel, and
// the manual payment-status path.
type Service struct {
	products  product.Repository
	stock     stock.Service
	discounts *discount.Evaluator
	orders    Repository
	carts     cart.Repository
	addresses AddressBook
	payments  Payments
	expiry    ExpiryScheduler
	notifier  notify.Notifier
	fees      map[ShippingType]decimal.Decimal
	lg        *zap.Logger
	now       func() time.Time
}

// NewService assembles the order orchestrator.
func NewService(
	products product.Repository,
	stockSvc stock.Service,
	discounts *discount.Evaluator,
	orders Repository,
	carts cart.Repository,
	addresses AddressBook,
	payments Payments,
	expiry ExpiryScheduler,
	notifier notify.Notifier,
	lg *zap.Logger,
) *Service {
	return &Service{
		products:  products,
		stock:     stockSvc,
		discounts: discounts,
		orders:    orders,
		carts:     carts,
		addresses: addresses,
		payments:  payments,
		expiry:    expiry,
		notifier:  notifier,
		fees: map[ShippingType]decimal.Decimal{
			ShippingSameDay:  decimal.NewFromInt(0),
			ShippingExpress:  decimal.NewFromInt(0),
			ShippingStandard: decimal.NewFromInt(0),
		},
		lg:  lg,
		now: time.Now,
	}
}

// SetShippingFees overrides the per-shipping-type fee table.
func (s *Service) SetShippingFees(fees map[ShippingType]decimal.Decimal) {
	for k, v := range fees {
		s.fees[k] = v
	}
}

// CreateOrder runs the pricing pipeline for an ad-hoc (non-cart) order:
// price validation, all-or-nothing stock reservation, discounting, totals,
// then the pending payment and its expiry deadline.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	return s.create(ctx, req, true)
}

// Checkout places an order from the user's cart. Claimed prices are not
// involved: the catalog's current final price is used directly, and the cart
// is cleared once the order is placed.
func (s *Service) Checkout(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	items, err := s.carts.Items(ctx, req.User.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := indexProducts(fetched)

	req.Items = make([]ItemRequest, len(items))
	for i, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, product.ErrNotFound
		}
		req.Items[i] = ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: p.FinalPrice,
		}
	}

	result, err := s.create(ctx, req, false)
	if err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, req.User.ID); err != nil {
		s.lg.Error("clear cart after checkout",
			zap.String("user_id", req.User.ID),
			zap.Error(err))
	}
	return result, nil
}

// create is the shared pipeline behind CreateOrder and Checkout. adHoc
// enables the catalog integrity checks for orders not sourced from a cart.
func (s *Service) create(ctx context.Context, req CreateOrderRequest, adHoc bool) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !req.Method.Valid() {
		return nil, errors.Errorf("unknown payment method %q", req.Method)
	}
	if req.Currency == "" {
		req.Currency = payment.DefaultCurrency
	}
	if !req.Currency.Valid() {
		return nil, errors.Errorf("unknown currency %q", req.Currency)
	}
	if req.Shipping == "" {
		req.Shipping = ShippingStandard
	}

	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		if it.Quantity < 1 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID}
		}
		ids[i] = it.ProductID
	}

	if req.AddressID != "" {
		if _, err := s.addresses.GetAddress(ctx, req.AddressID, req.User.ID); err != nil {
			return nil, errors.Wrap(ErrAddressNotFound, req.AddressID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := indexProducts(fetched)

	// Validate the claimed price of every line against the catalog before
	// touching stock. The claimed price must equal either the list price or
	// the advertised final price; anything else means the client saw stale
	// data and must refresh.
	lines := make([]Item, len(req.Items))
	reserve := make([]stock.Item, len(req.Items))
	for i, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, errors.Wrap(product.ErrNotFound, it.ProductID)
		}
		if adHoc {
			if err := p.ValidateImageURL(); err != nil {
				return nil, errors.Wrap(err, it.ProductID)
			}
		}
		if !it.UnitPrice.Equal(p.Price) && !it.UnitPrice.Equal(p.FinalPrice) {
			return nil, &PriceMismatchError{
				ProductID: it.ProductID,
				Claimed:   it.UnitPrice,
				Actual:    p.FinalPrice,
			}
		}
		lines[i] = Item{
			ProductID:         it.ProductID,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			OriginalUnitPrice: p.Price,
			Currency:          req.Currency,
			IsGift:            it.IsGift,
			CustomOption:      it.CustomOption,
		}
		reserve[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	// All-or-nothing: a shortfall on any line leaves no partial holds.
	if err := s.stock.ReserveAll(ctx, reserve); err != nil {
		return nil, err
	}
	held := true
	defer func() {
		if held {
			s.releaseHold(ctx, reserve)
		}
	}()

	o := s.price(lines, req)

	if req.DiscountCode != "" {
		amount, err := s.discounts.Evaluate(ctx, req.DiscountCode, o.SubTotal, o.TotalCost)
		if err != nil {
			return nil, err
		}
		o.DiscountCode = &req.DiscountCode
		o.DiscountAmount = amount
		s.applyTotals(o)
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	pay := &payment.Payment{
		OrderID:       o.ID,
		Method:        req.Method,
		Amount:        o.TotalAmount,
		Currency:      req.Currency,
		TransactionID: uuid.New().String(),
	}
	if req.Method == payment.MethodCashOnDelivery {
		pay.TransactionID = ""
	}
	if err := s.payments.CreatePending(ctx, pay, o.Method); err != nil {
		if cErr := s.orders.Cancel(ctx, o.ID, payment.StatusFailed); cErr != nil {
			s.lg.Error("cancel order after payment create failure",
				zap.String("order_id", o.ID), zap.Error(cErr))
		}
		return nil, errors.Wrap(err, "create payment")
	}
	held = false

	if pay.ExpiresAt != nil {
		if err := s.expiry.Schedule(ctx, pay.ID, *pay.ExpiresAt); err != nil {
			s.lg.Error("schedule payment expiry",
				zap.String("payment_id", pay.ID), zap.Error(err))
		}
	}

	s.notifier.Notify(ctx, notify.KindOrderConfirmed, req.User.Email, notify.OrderPayload{
		OrderID:     o.ID,
		TotalAmount: o.TotalAmount.String(),
		Currency:    string(o.Currency),
		Status:      string(o.Status),
	})

	return &CreateOrderResult{Order: o, Payment: pay}, nil
}

// price derives every monetary field of a new order from its lines.
func (s *Service) price(lines []Item, req CreateOrderRequest) *Order {
	now := s.now()

	subTotal := decimal.Zero
	totalCost := decimal.Zero
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		subTotal = subTotal.Add(l.OriginalUnitPrice.Mul(qty))
		totalCost = totalCost.Add(l.UnitPrice.Mul(qty))
	}

	o := &Order{
		ID:                uuid.New().String(),
		UserID:            req.User.ID,
		UserEmail:         req.User.Email,
		Items:             lines,
		SubTotal:          subTotal,
		TotalCost:         totalCost,
		ShippingFee:       s.fees[req.Shipping],
		Currency:          req.Currency,
		Method:            req.Method,
		PaymentStatus:     payment.StatusPending,
		Status:            StatusPending,
		AddressID:         req.AddressID,
		Shipping:          req.Shipping,
		EstimatedDelivery: now.Add(req.Shipping.DeliveryEstimate()),
		LoyaltyConsumed:   req.UseLoyalty,
		CreatedAt:         now,
	}
	s.applyTotals(o)
	return o
}

// applyTotals recomputes the dependent totals from the base amounts:
// totalCartPrice = totalCost - discount floored at zero, totalAmount adds the
// shipping fee, and loyalty points are twice the total, floored.
func (s *Service) applyTotals(o *Order) {
	cart := o.TotalCost.Sub(o.DiscountAmount)
	if cart.IsNegative() {
		cart = decimal.Zero
	}
	o.TotalCartPrice = cart
	o.TotalAmount = cart.Add(o.ShippingFee)
	o.LoyaltyPoints = o.TotalAmount.Mul(decimal.NewFromInt(2)).Floor().IntPart()
}

// CompleteOrder finalizes a shipped order: the stock hold is converted into
// a purchase and the order closes out.
func (s *Service) CompleteOrder(ctx context.Context, user User, orderID string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !user.canAccess(o) {
		return ErrUnauthorized
	}
	if o.Status != StatusShipped {
		return &IllegalStateError{OrderID: o.ID, Status: o.Status, Op: "complete"}
	}

	for _, it := range o.Items {
		if err := s.stock.Purchase(ctx, it.ProductID, it.Quantity); err != nil {
			return errors.Wrap(err, "purchase stock")
		}
	}

	// The delivery is recorded before the order closes out so the history
	// shows both steps.
	if err := s.orders.SetStatus(ctx, o.ID, StatusDelivered); err != nil {
		return errors.Wrap(err, "mark delivered")
	}
	if err := s.orders.SetStatus(ctx, o.ID, StatusCompleted); err != nil {
		return errors.Wrap(err, "complete order")
	}
	return nil
}

// CancelOrder cancels a Pending or processing order. A still-pending payment
// is cancelled through the state machine, which releases the stock hold
// exactly once; otherwise the hold is released here.
func (s *Service) CancelOrder(ctx context.Context, user User, orderID, reason string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !user.canAccess(o) {
		return ErrUnauthorized
	}
	if o.Status != StatusPending && o.Status != StatusProcessing {
		return &IllegalStateError{OrderID: o.ID, Status: o.Status, Op: "cancel"}
	}

	initiator := payment.InitiatorUser
	if user.Admin() {
		initiator = payment.InitiatorAdmin
	}

	pay, err := s.payments.LatestByOrder(ctx, o.ID)
	if err != nil && !errors.Is(err, payment.ErrNotFound) {
		return errors.Wrap(err, "load payment")
	}

	if pay != nil && pay.Status == payment.StatusPending {
		return s.payments.Cancel(ctx, pay.ID, reason, initiator)
	}

	// No pending payment to drive the release, so drop the hold directly.
	for _, it := range o.Items {
		if err := s.stock.Unreserve(ctx, it.ProductID, it.Quantity); err != nil {
			s.lg.Error("release stock hold on cancel",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err))
		}
	}
	if err := s.orders.Cancel(ctx, o.ID, payment.StatusCancelled); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	return nil
}

// GetOrder loads an order with the owner/admin authorization check.
func (s *Service) GetOrder(ctx context.Context, user User, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !user.canAccess(o) {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// releaseHold drops holds taken earlier in a pipeline run that failed before
// the payment was created.
func (s *Service) releaseHold(ctx context.Context, items []stock.Item) {
	for _, it := range items {
		if err := s.stock.Unreserve(ctx, it.ProductID, it.Quantity); err != nil {
			s.lg.Error("release stock hold",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err))
		}
	}
}

func indexProducts(products []product.Product) map[string]*product.Product {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return byID
}
