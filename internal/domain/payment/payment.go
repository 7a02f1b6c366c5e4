// Package payment holds the payment aggregate, its canonical status and
// method vocabulary, and the guarded state machine that synchronizes orders,
// stock, the transaction ledger, and notifications on every transition.
package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the canonical payment status vocabulary. The wire strings are
// fixed; gateways and clients depend on them verbatim.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusCompleted         Status = "Completed"
	StatusFailed            Status = "Failed"
	StatusRefunded          Status = "Refunded"
	StatusCancelled         Status = "Cancelled"
	StatusPartiallyRefunded Status = "Partially Refunded"
	StatusExpired           Status = "Expired"
)

// validNext encodes the legal transitions: Pending may resolve to any
// terminal state, and a Completed payment may still be refunded.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusCompleted: {
		StatusRefunded:          true,
		StatusPartiallyRefunded: true,
	},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusExpired:           {},
	StatusRefunded:          {},
	StatusPartiallyRefunded: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether the status permits no further transition at all.
// Completed is post-terminal: refund transitions remain legal.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusCompleted
}

// Valid reports whether s is a known payment status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Method enumerates supported payment methods. Wire strings are fixed.
type Method string

const (
	MethodCreditCard     Method = "Credit Card"
	MethodPayPal         Method = "PayPal"
	MethodBankTransfer   Method = "Bank Transfer"
	MethodCashOnDelivery Method = "Cash on Delivery"
	MethodMomo           Method = "Momo"
	MethodZaloPay        Method = "ZaloPay"
	MethodVNPay          Method = "VNPay"
	MethodStripe         Method = "Stripe"
	MethodVietQR         Method = "VietQR"
	MethodInStore        Method = "In-Store"
)

var methods = map[Method]bool{
	MethodCreditCard:     true,
	MethodPayPal:         true,
	MethodBankTransfer:   true,
	MethodCashOnDelivery: true,
	MethodMomo:           true,
	MethodZaloPay:        true,
	MethodVNPay:          true,
	MethodStripe:         true,
	MethodVietQR:         true,
	MethodInStore:        true,
}

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	return methods[m]
}

// RequiresExpiry reports whether a pending payment with this method must
// carry an expiry deadline.
func (m Method) RequiresExpiry() bool {
	switch m {
	case MethodMomo, MethodVietQR, MethodZaloPay, MethodVNPay:
		return true
	}
	return false
}

// ExpiryWindow returns the gateway-specific duration after which a pending
// payment is forced to Expired.
func (m Method) ExpiryWindow() time.Duration {
	switch m {
	case MethodZaloPay, MethodVNPay, MethodMomo:
		return 15 * time.Minute
	case MethodStripe, MethodPayPal:
		return 30 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Immediate reports whether completion of this method delivers the order
// directly, with no shipping leg.
func (m Method) Immediate() bool {
	return m == MethodCashOnDelivery || m == MethodInStore
}

// Currency enumerates supported currencies. Wire strings are fixed.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
	CurrencyVND Currency = "VND"

	// DefaultCurrency is assumed when a request carries no currency.
	DefaultCurrency = CurrencyVND
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY, CurrencyVND:
		return true
	}
	return false
}

// Validation errors shared by the state machine and the repositories.
var (
	ErrMethodMismatch       = errors.New("payment method does not match order payment method")
	ErrTransactionIDMissing = errors.New("transaction id required for non cash-on-delivery payments")
	ErrExpiryMissing        = errors.New("expiry deadline required for this payment method")
	ErrRefundExceedsAmount  = errors.New("refund amount exceeds payment amount")
	ErrNotFound             = errors.New("payment not found")
)

// IllegalTransitionError reports an attempted transition forbidden by the
// state machine. It is terminal: callers must not retry.
type IllegalTransitionError struct {
	PaymentID string
	From      Status
	To        Status
}

func (e *IllegalTransitionError) Error() string {
	return "illegal payment transition " + string(e.From) + " -> " + string(e.To) + " for payment " + e.PaymentID
}

// Payment is one attempt to settle an order's total amount. Payments are
// never deleted; they form the audit trail of settlement attempts.
type Payment struct {
	ID              string
	OrderID         string
	Method          Method
	Status          Status
	Amount          decimal.Decimal
	Currency        Currency
	TransactionID   string
	GatewayResponse json.RawMessage
	IsRefunded      bool
	RefundedAt      *time.Time
	RefundAmount    decimal.Decimal
	ExpiresAt       *time.Time
	FailureReason   string

	// StockRestored guards the once-only stock restoration on failure paths.
	// It is flipped inside the same compare-and-set that claims the terminal
	// transition, so a webhook and an expiry firing cannot both restore.
	StockRestored bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate enforces the cross-record invariants that must hold before a
// payment is persisted. orderMethod is the parent order's payment method.
func (p *Payment) Validate(orderMethod Method) error {
	if !p.Method.Valid() {
		return errors.Errorf("unknown payment method %q", p.Method)
	}
	if p.Method != orderMethod {
		return ErrMethodMismatch
	}
	if p.Amount.IsNegative() {
		return errors.New("payment amount must not be negative")
	}
	if p.Method != MethodCashOnDelivery {
		if p.TransactionID == "" {
			return ErrTransactionIDMissing
		}
	}
	if p.Method.RequiresExpiry() && p.ExpiresAt == nil {
		return ErrExpiryMissing
	}
	if !p.Currency.Valid() {
		return errors.Errorf("unknown currency %q", p.Currency)
	}
	return nil
}

// StatusUpdate describes the mutation applied by a guarded transition.
type StatusUpdate struct {
	Status          Status
	FailureReason   string
	GatewayResponse json.RawMessage
	RefundAmount    *decimal.Decimal
	RefundedAt      *time.Time

	// MarkStockRestored claims the stock-restoration side effect in the same
	// write as the status change.
	MarkStockRestored bool
}

// Repository defines persistence for payments. Transition must be a single
// atomic compare-and-set: the update applies only while the payment's current
// status is one of from, and the updated row is returned. A failed guard
// returns ErrStale.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	LatestByOrder(ctx context.Context, orderID string) (*Payment, error)
	Transition(ctx context.Context, id string, from []Status, upd StatusUpdate) (*Payment, error)
}

// ErrStale is returned by Repository.Transition when the guard did not match:
// another actor already moved the payment out of the expected status.
var ErrStale = errors.New("payment status changed concurrently")
