package transaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

type memTxRepo struct {
	mu      sync.Mutex
	entries []*Transaction
	byTxID  map[string]*Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{byTxID: make(map[string]*Transaction)}
}

func (r *memTxRepo) Append(_ context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TransactionID != "" {
		if _, ok := r.byTxID[t.TransactionID]; ok {
			return ErrDuplicateTransaction
		}
		r.byTxID[t.TransactionID] = t
	}
	r.entries = append(r.entries, t)
	return nil
}

func (r *memTxRepo) ExistsByTransactionID(_ context.Context, transactionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byTxID[transactionID]
	return ok, nil
}

func (r *memTxRepo) Resolve(_ context.Context, id string, completedAt *time.Time, failureReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.entries {
		if t.ID == id {
			t.CompletedAt = completedAt
			if failureReason != "" {
				t.FailureReason = failureReason
			}
			return nil
		}
	}
	return ErrDuplicateTransaction
}

func validRequest() AppendRequest {
	return AppendRequest{
		Order: OrderRef{ID: "o1", Method: payment.MethodVNPay},
		Payment: &payment.Payment{
			ID:     "pay-1",
			Method: payment.MethodVNPay,
			Amount: decimal.RequireFromString("100.00"),
		},
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("100.00"),
		Status:        payment.StatusCompleted,
		Method:        payment.MethodVNPay,
		Initiator:     payment.InitiatorSystem,
	}
}

func TestAppend_Valid(t *testing.T) {
	repo := newMemTxRepo()
	l := NewLedger(repo)

	entry, err := l.Append(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "o1", entry.OrderID)
	assert.Equal(t, "pay-1", entry.PaymentID)
	assert.False(t, entry.CreatedAt.IsZero())
	require.Len(t, repo.entries, 1)
}

func TestAppend_AmountExceedsPayment(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	req := validRequest()
	req.Amount = decimal.RequireFromString("100.01")

	_, err := l.Append(context.Background(), req)
	require.ErrorIs(t, err, ErrAmountExceedsPayment)
}

func TestAppend_NegativeAmount(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	req := validRequest()
	req.Amount = decimal.RequireFromString("-1.00")

	_, err := l.Append(context.Background(), req)
	require.Error(t, err)
}

func TestAppend_MethodMustMatchPaymentAndOrder(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	req := validRequest()
	req.Method = payment.MethodMomo
	_, err := l.Append(context.Background(), req)
	require.ErrorIs(t, err, ErrMethodMismatch)

	req = validRequest()
	req.Order.Method = payment.MethodMomo
	_, err = l.Append(context.Background(), req)
	require.ErrorIs(t, err, ErrMethodMismatch)
}

func TestAppend_TransactionIDRequiredUnlessCOD(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	req := validRequest()
	req.TransactionID = ""
	_, err := l.Append(context.Background(), req)
	require.ErrorIs(t, err, ErrTransactionIDMissing)

	cod := validRequest()
	cod.TransactionID = ""
	cod.Method = payment.MethodCashOnDelivery
	cod.Payment.Method = payment.MethodCashOnDelivery
	cod.Order.Method = payment.MethodCashOnDelivery
	_, err = l.Append(context.Background(), cod)
	require.NoError(t, err)
}

func TestAppend_DuplicateTransactionID(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	_, err := l.Append(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = l.Append(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestAppend_DuplicateCaughtPastBloomFilter(t *testing.T) {
	// Seed the repository directly so the bloom filter never saw the id:
	// the repository existence check is the authority, not the filter.
	repo := newMemTxRepo()
	require.NoError(t, repo.Append(context.Background(), &Transaction{
		ID: "pre", TransactionID: "tx-1",
	}))

	l := NewLedger(repo)
	_, err := l.Append(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestRecord_SuffixesStatusPerStateChange(t *testing.T) {
	repo := newMemTxRepo()
	l := NewLedger(repo)

	rec := payment.TransactionRecord{
		OrderID:       "o1",
		PaymentID:     "pay-1",
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("100.00"),
		PaymentAmount: decimal.RequireFromString("100.00"),
		Status:        payment.StatusCompleted,
		Method:        payment.MethodVNPay,
		Initiator:     payment.InitiatorSystem,
	}
	require.NoError(t, l.Record(context.Background(), rec))

	refund := rec
	refund.Status = payment.StatusRefunded
	refund.Amount = decimal.RequireFromString("100.00")
	require.NoError(t, l.Record(context.Background(), refund))

	require.Len(t, repo.entries, 2)
	assert.Equal(t, "tx-1:Completed", repo.entries[0].TransactionID)
	assert.Equal(t, "tx-1:Refunded", repo.entries[1].TransactionID)

	// Replaying the same state change is a duplicate.
	require.ErrorIs(t, l.Record(context.Background(), rec), ErrDuplicateTransaction)
}

func TestRecord_CashOnDeliveryEntriesNeverCollide(t *testing.T) {
	repo := newMemTxRepo()
	l := NewLedger(repo)

	// COD payments carry no gateway reference; every entry stores the
	// empty transaction id and must still append.
	first := payment.TransactionRecord{
		OrderID:       "o1",
		PaymentID:     "pay-1",
		Amount:        decimal.RequireFromString("120.00"),
		PaymentAmount: decimal.RequireFromString("120.00"),
		Status:        payment.StatusCompleted,
		Method:        payment.MethodCashOnDelivery,
		Initiator:     payment.InitiatorAdmin,
	}
	require.NoError(t, l.Record(context.Background(), first))

	second := first
	second.OrderID = "o2"
	second.PaymentID = "pay-2"
	require.NoError(t, l.Record(context.Background(), second))

	require.Len(t, repo.entries, 2)
	assert.Empty(t, repo.entries[0].TransactionID)
	assert.Empty(t, repo.entries[1].TransactionID)
}

func TestRecord_RefundCannotExceedPaymentAmount(t *testing.T) {
	l := NewLedger(newMemTxRepo())

	rec := payment.TransactionRecord{
		OrderID:       "o1",
		PaymentID:     "pay-1",
		TransactionID: "tx-9",
		Amount:        decimal.RequireFromString("150.00"),
		PaymentAmount: decimal.RequireFromString("100.00"),
		Status:        payment.StatusRefunded,
		Method:        payment.MethodVNPay,
		Initiator:     payment.InitiatorAdmin,
	}
	require.ErrorIs(t, l.Record(context.Background(), rec), ErrAmountExceedsPayment)
}
