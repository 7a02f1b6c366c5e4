package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// Bloom prefilter sizing: enough for a long process lifetime at a false
// positive rate that keeps the extra existence queries rare.
const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

// AppendRequest carries a candidate ledger entry plus the parent records it
// is validated against.
type AppendRequest struct {
	Order         OrderRef
	Payment       *payment.Payment
	TransactionID string
	Amount        decimal.Decimal
	Status        payment.Status
	Method        payment.Method
	Fee           decimal.Decimal
	Initiator     payment.Initiator
	FailureReason string
	CompletedAt   *time.Time
}

// OrderRef is the slice of the parent order the ledger validates against.
type OrderRef struct {
	ID     string
	Method payment.Method
}

// Ledger validates and appends transactions. A bloom filter screens
// transaction ids before hitting the database; the unique index remains the
// authority, so false positives only cost an existence query.
type Ledger struct {
	repo Repository
	now  func() time.Time

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewLedger creates a transaction ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  time.Now,
		seen: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// Append validates req and appends a new ledger entry.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Transaction, error) {
	if req.Payment == nil {
		return nil, errors.New("payment required")
	}
	if req.Amount.IsNegative() {
		return nil, errors.New("transaction amount must not be negative")
	}
	if req.Amount.GreaterThan(req.Payment.Amount) {
		return nil, ErrAmountExceedsPayment
	}
	if req.Method != req.Payment.Method || req.Method != req.Order.Method {
		return nil, ErrMethodMismatch
	}
	if req.Method != payment.MethodCashOnDelivery && req.TransactionID == "" {
		return nil, ErrTransactionIDMissing
	}
	if req.Fee.IsNegative() {
		return nil, errors.New("transaction fee must not be negative")
	}

	if req.TransactionID != "" {
		dup, err := l.checkDuplicate(ctx, req.TransactionID)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, ErrDuplicateTransaction
		}
	}

	t := &Transaction{
		ID:            uuid.New().String(),
		OrderID:       req.Order.ID,
		PaymentID:     req.Payment.ID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Status:        req.Status,
		Method:        req.Method,
		Fee:           req.Fee,
		Initiator:     req.Initiator,
		FailureReason: req.FailureReason,
		CompletedAt:   req.CompletedAt,
		CreatedAt:     l.now(),
	}
	if err := l.repo.Append(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Record implements payment.TransactionRecorder: the state machine appends
// one entry per observed state change. Ledger-internal transaction ids are
// suffixed with the status so the same gateway reference can appear once per
// state change while remaining unique.
func (l *Ledger) Record(ctx context.Context, rec payment.TransactionRecord) error {
	txID := rec.TransactionID
	if txID != "" {
		txID = txID + ":" + string(rec.Status)
	}
	_, err := l.Append(ctx, AppendRequest{
		Order:         OrderRef{ID: rec.OrderID, Method: rec.Method},
		Payment:       &payment.Payment{ID: rec.PaymentID, Method: rec.Method, Amount: rec.PaymentAmount},
		TransactionID: txID,
		Amount:        rec.Amount,
		Status:        rec.Status,
		Method:        rec.Method,
		Fee:           rec.Fee,
		Initiator:     rec.Initiator,
		FailureReason: rec.FailureReason,
		CompletedAt:   rec.CompletedAt,
	})
	return err
}

// checkDuplicate consults the bloom filter and falls back to the repository
// when the filter reports a possible hit. The filter is updated only when
// the id is genuinely new.
func (l *Ledger) checkDuplicate(ctx context.Context, transactionID string) (bool, error) {
	l.mu.Lock()
	maybeSeen := l.seen.TestString(transactionID)
	l.mu.Unlock()

	if maybeSeen {
		exists, err := l.repo.ExistsByTransactionID(ctx, transactionID)
		if err != nil {
			return false, errors.Wrap(err, "check duplicate transaction")
		}
		if exists {
			return true, nil
		}
	}

	l.mu.Lock()
	l.seen.AddString(transactionID)
	l.mu.Unlock()
	return false, nil
}
