// Package order holds the order aggregate, the pricing pipeline that derives
// its totals, and the orchestrator sequencing stock, payments, discounts,
// and notifications across the order lifecycle.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// Status is the order lifecycle vocabulary. Wire strings are fixed,
// including the historical lowercase middle states.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// ShippingType selects the delivery estimate and fee bracket.
type ShippingType string

const (
	ShippingSameDay  ShippingType = "same_day"
	ShippingExpress  ShippingType = "express"
	ShippingStandard ShippingType = "standard"
)

// DeliveryEstimate returns the promised delivery offset from order time.
func (s ShippingType) DeliveryEstimate() time.Duration {
	switch s {
	case ShippingSameDay:
		return 24 * time.Hour
	case ShippingExpress:
		return 2 * 24 * time.Hour
	default:
		return 5 * 24 * time.Hour
	}
}

// Item is one priced order line. UnitPrice is the price the customer pays;
// OriginalUnitPrice is the list price at order time.
type Item struct {
	ProductID         string           `json:"product_id"`
	Quantity          int              `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	OriginalUnitPrice decimal.Decimal  `json:"original_unit_price"`
	Currency          payment.Currency `json:"currency"`
	IsGift            bool             `json:"is_gift,omitempty"`
	CustomOption      string           `json:"custom_option,omitempty"`
}

// Order is a customer's purchase request with derived totals. All monetary
// fields are computed by the pricing pipeline, never taken from the client.
type Order struct {
	ID        string
	UserID    string
	UserEmail string
	Items     []Item

	SubTotal       decimal.Decimal
	TotalCost      decimal.Decimal
	TotalCartPrice decimal.Decimal
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingFee    decimal.Decimal
	LoyaltyPoints  int64
	DiscountCode   *string

	Currency      payment.Currency
	Method        payment.Method
	PaymentStatus payment.Status
	Status        Status

	AddressID         string
	Shipping          ShippingType
	EstimatedDelivery time.Time

	// LoyaltyConsumed is set when the buyer spent points at checkout, in
	// which case completion must not credit them again.
	LoyaltyConsumed bool

	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository defines persistence operations for orders. Orders are logically
// deleted at most; a non-cancelled payment keeps the row alive.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// Cancel sets the order to Cancelled and records the payment status that
	// caused it.
	Cancel(ctx context.Context, id string, ps payment.Status) error
}

// ErrNotFound is returned when an order does not exist or is deleted.
var ErrNotFound = errors.New("order not found")

// ErrUnauthorized is returned when the caller neither owns the order nor
// holds the admin role.
var ErrUnauthorized = errors.New("not allowed to access this order")

// ErrEmptyItems is returned when an order request carries no items.
var ErrEmptyItems = errors.New("items required")

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return "quantity must be greater than 0 for product " + e.ProductID
}

// PriceMismatchError indicates a client-claimed unit price that does not
// match the authoritative catalog price. Terminal: the client must refresh.
type PriceMismatchError struct {
	ProductID string
	Claimed   decimal.Decimal
	Actual    decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return "price mismatch for product " + e.ProductID +
		": claimed " + e.Claimed.String() + ", current " + e.Actual.String()
}

// IllegalStateError indicates a lifecycle operation invoked in a state that
// does not permit it.
type IllegalStateError struct {
	OrderID string
	Status  Status
	Op      string
}

func (e *IllegalStateError) Error() string {
	return "cannot " + e.Op + " order " + e.OrderID + " in status " + string(e.Status)
}

// User is the authenticated principal acting on an order.
type User struct {
	ID    string
	Email string
	Role  string
}

// Admin reports whether the user holds the admin role.
func (u User) Admin() bool {
	return u.Role == "admin"
}

// canAccess reports whether u may act on order o.
func (u User) canAccess(o *Order) bool {
	return u.Admin() || u.ID == o.UserID
}

// Address is the delivery address read model from the address book service.
type Address struct {
	ID        string
	OwnerID   string
	Recipient string
	Line1     string
	City      string
	Country   string
}

// ErrAddressNotFound is returned when an address does not exist or is not
// owned by the ordering user.
var ErrAddressNotFound = errors.New("address not found")

// AddressBook resolves delivery addresses scoped to their owner.
type AddressBook interface {
	GetAddress(ctx context.Context, id, ownerID string) (*Address, error)
}
