// Package transaction maintains the append-only ledger of payment state
// changes. Entries are validated against their parent payment and order and
// are never mutated after creation, except to resolve their own completedAt
// or failureReason.
package transaction

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID            string
	OrderID       string
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	Status        payment.Status
	Method        payment.Method
	Fee           decimal.Decimal
	Initiator     payment.Initiator
	CompletedAt   *time.Time
	FailureReason string
	CreatedAt     time.Time
}

// Validation errors. All of them are terminal conflicts: retrying the same
// request cannot succeed.
var (
	ErrAmountExceedsPayment = errors.New("transaction amount exceeds payment amount")
	ErrMethodMismatch       = errors.New("transaction method does not match order and payment")
	ErrTransactionIDMissing = errors.New("transaction id required for non cash-on-delivery transactions")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// Repository persists ledger entries. Append must fail with
// ErrDuplicateTransaction when the transaction id is already recorded.
type Repository interface {
	Append(ctx context.Context, t *Transaction) error
	ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error)
	// Resolve sets completedAt and failureReason on an existing entry. No
	// other field of a recorded transaction may change.
	Resolve(ctx context.Context, id string, completedAt *time.Time, failureReason string) error
}
