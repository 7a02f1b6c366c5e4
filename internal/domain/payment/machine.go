package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/stock"
	"github.com/vietcart/fulfillment/internal/notify"
)

// Initiator identifies who drove a payment state change.
type Initiator string

const (
	InitiatorUser   Initiator = "user"
	InitiatorAdmin  Initiator = "admin"
	InitiatorSystem Initiator = "system"
)

// OrderLine is the minimal view of an order item the machine needs for
// stock restoration.
type OrderLine struct {
	ProductID string
	Quantity  int
}

// OrderSnapshot is the order state returned by OrderUpdater mutations.
type OrderSnapshot struct {
	ID     string
	UserID string
	Email  string
	Lines  []OrderLine

	// LoyaltyPoints is the balance earned by the order; LoyaltyConsumed is
	// set when the points were already spent at checkout.
	LoyaltyPoints   int64
	LoyaltyConsumed bool

	// AlreadyCancelled reports that the order had been cancelled before this
	// mutation, meaning its stock was released by the cancellation flow.
	AlreadyCancelled bool

	// Fulfilled reports that the order reached delivery, i.e. the stock hold
	// was converted into a purchase.
	Fulfilled bool
}

// OrderUpdater synchronizes the parent order when a payment transitions.
// Implementations must persist the order change before returning.
type OrderUpdater interface {
	// MarkPaid moves the order into its post-payment state: processing, or
	// delivered when immediate is set (cash on delivery, in-store).
	MarkPaid(ctx context.Context, orderID string, immediate bool) (*OrderSnapshot, error)

	// MarkCancelled cancels the order after a Failed/Cancelled/Expired
	// payment and records the payment status on it.
	MarkCancelled(ctx context.Context, orderID string, ps Status) (*OrderSnapshot, error)

	// MarkRefunded records a (partial) refund against the order.
	MarkRefunded(ctx context.Context, orderID string, ps Status) (*OrderSnapshot, error)
}

// TransactionRecord describes one ledger entry appended per state change.
type TransactionRecord struct {
	OrderID       string
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	// PaymentAmount is the full payment amount, used to validate that the
	// recorded amount does not exceed it.
	PaymentAmount decimal.Decimal
	Fee           decimal.Decimal
	Status        Status
	Method        Method
	Initiator     Initiator
	FailureReason string
	CompletedAt   *time.Time
}

// TransactionRecorder appends entries to the immutable transaction ledger.
type TransactionRecorder interface {
	Record(ctx context.Context, rec TransactionRecord) error
}

// Rewards credits loyalty points to a user after a completed payment.
type Rewards interface {
	CreditPoints(ctx context.Context, userID string, points int64) error
}

// Machine drives every payment status change. All call sites mutate payments
// exclusively through it; the repository compare-and-set makes concurrent
// webhook and expiry deliveries race-safe.
type Machine struct {
	payments Repository
	orders   OrderUpdater
	stock    stock.Service
	ledger   TransactionRecorder
	rewards  Rewards
	notifier notify.Notifier
	lg       *zap.Logger
	now      func() time.Time
}

// NewMachine assembles a payment state machine from its collaborators.
func NewMachine(
	payments Repository,
	orders OrderUpdater,
	stockSvc stock.Service,
	ledger TransactionRecorder,
	rewards Rewards,
	notifier notify.Notifier,
	lg *zap.Logger,
) *Machine {
	return &Machine{
		payments: payments,
		orders:   orders,
		stock:    stockSvc,
		ledger:   ledger,
		rewards:  rewards,
		notifier: notifier,
		lg:       lg,
		now:      time.Now,
	}
}

// CreatePending validates and persists a new Pending payment. The expiry
// deadline is filled from the method's gateway window when required and not
// already set.
func (m *Machine) CreatePending(ctx context.Context, p *Payment, orderMethod Method) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	p.Status = StatusPending

	if p.Method.RequiresExpiry() && p.ExpiresAt == nil {
		deadline := m.now().Add(p.Method.ExpiryWindow())
		p.ExpiresAt = &deadline
	}

	if err := p.Validate(orderMethod); err != nil {
		return err
	}

	if err := m.payments.Create(ctx, p); err != nil {
		return errors.Wrap(err, "create payment")
	}
	return nil
}

// LatestByOrder returns the most recent payment attempt for an order.
func (m *Machine) LatestByOrder(ctx context.Context, orderID string) (*Payment, error) {
	return m.payments.LatestByOrder(ctx, orderID)
}

// Complete moves a pending payment to Completed: the order advances to
// processing (or delivered for immediate methods), loyalty points are
// credited, a ledger entry is appended, and a confirmation is queued.
// Completing an already-Completed payment is a logged no-op so webhook
// replays are harmless.
func (m *Machine) Complete(ctx context.Context, paymentID string, gatewayResponse json.RawMessage, initiator Initiator) error {
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if p.Status == StatusCompleted {
		m.lg.Info("payment already completed, skipping",
			zap.String("payment_id", p.ID))
		return nil
	}
	if !CanTransition(p.Status, StatusCompleted) {
		return &IllegalTransitionError{PaymentID: p.ID, From: p.Status, To: StatusCompleted}
	}

	p, err = m.payments.Transition(ctx, p.ID, []Status{StatusPending}, StatusUpdate{
		Status:          StatusCompleted,
		GatewayResponse: gatewayResponse,
	})
	if err != nil {
		if errors.Is(err, ErrStale) {
			return m.afterStale(ctx, paymentID, StatusCompleted)
		}
		return errors.Wrap(err, "transition payment")
	}

	snap, err := m.orders.MarkPaid(ctx, p.OrderID, p.Method.Immediate())
	if err != nil {
		return errors.Wrap(err, "sync order")
	}

	m.checkStockLevels(ctx, snap.Lines)

	if !snap.LoyaltyConsumed && snap.LoyaltyPoints > 0 {
		if err := m.rewards.CreditPoints(ctx, snap.UserID, snap.LoyaltyPoints); err != nil {
			m.lg.Error("credit loyalty points",
				zap.String("order_id", snap.ID),
				zap.String("user_id", snap.UserID),
				zap.Error(err))
		}
	}

	now := m.now()
	m.record(ctx, TransactionRecord{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		PaymentAmount: p.Amount,
		Status:        StatusCompleted,
		Method:        p.Method,
		Initiator:     initiator,
		CompletedAt:   &now,
	})

	m.notifier.Notify(ctx, notify.KindPaymentConfirmed, snap.Email, notify.PaymentPayload{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount.String(),
		Currency:  string(p.Currency),
		Status:    string(StatusCompleted),
	})
	return nil
}

// Fail moves a pending payment to Failed, cancelling the order and releasing
// its stock hold.
func (m *Machine) Fail(ctx context.Context, paymentID, reason string, initiator Initiator) error {
	return m.terminate(ctx, paymentID, StatusFailed, reason, initiator, false)
}

// Cancel moves a pending payment to Cancelled, cancelling the order and
// releasing its stock hold.
func (m *Machine) Cancel(ctx context.Context, paymentID, reason string, initiator Initiator) error {
	return m.terminate(ctx, paymentID, StatusCancelled, reason, initiator, false)
}

// Expire moves a pending payment to Expired. A payment that already reached
// any other status is left untouched: the expiry scheduler may fire after a
// webhook has resolved the payment, and that race must be a no-op.
func (m *Machine) Expire(ctx context.Context, paymentID string) error {
	return m.terminate(ctx, paymentID, StatusExpired, "payment window elapsed", InitiatorSystem, true)
}

// terminate implements the shared Pending -> {Failed,Cancelled,Expired} path.
// lenient skips the illegal-transition error when the payment already left
// Pending, which the expiry path requires.
func (m *Machine) terminate(ctx context.Context, paymentID string, to Status, reason string, initiator Initiator, lenient bool) error {
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if p.Status == to {
		return nil
	}
	if !CanTransition(p.Status, to) {
		if lenient {
			m.lg.Info("payment no longer pending, skipping",
				zap.String("payment_id", p.ID),
				zap.String("status", string(p.Status)),
				zap.String("wanted", string(to)))
			return nil
		}
		return &IllegalTransitionError{PaymentID: p.ID, From: p.Status, To: to}
	}

	restore := !p.StockRestored
	p, err = m.payments.Transition(ctx, p.ID, []Status{StatusPending}, StatusUpdate{
		Status:            to,
		FailureReason:     reason,
		MarkStockRestored: restore,
	})
	if err != nil {
		if errors.Is(err, ErrStale) {
			if lenient {
				return nil
			}
			return m.afterStale(ctx, paymentID, to)
		}
		return errors.Wrap(err, "transition payment")
	}

	snap, err := m.orders.MarkCancelled(ctx, p.OrderID, to)
	if err != nil {
		return errors.Wrap(err, "sync order")
	}

	// The compare-and-set above claimed the restoration: exactly one of the
	// racing webhook/expiry callers reaches this point.
	if restore && !snap.AlreadyCancelled {
		m.releaseLines(ctx, snap.Lines)
	}

	m.record(ctx, TransactionRecord{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		PaymentAmount: p.Amount,
		Status:        to,
		Method:        p.Method,
		Initiator:     initiator,
		FailureReason: reason,
	})

	m.notifier.Notify(ctx, notify.KindPaymentFailed, snap.Email, notify.PaymentPayload{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount.String(),
		Currency:  string(p.Currency),
		Status:    string(to),
		Reason:    reason,
	})
	return nil
}

// Refund moves a completed payment to Refunded (full amount) or Partially
// Refunded. Stock returns to the sellable pool unless the order was already
// cancelled and its hold released.
func (m *Machine) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, initiator Initiator) error {
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if amount.IsNegative() || amount.GreaterThan(p.Amount) {
		return ErrRefundExceedsAmount
	}

	to := StatusPartiallyRefunded
	if amount.Equal(p.Amount) {
		to = StatusRefunded
	}
	if !CanTransition(p.Status, to) {
		return &IllegalTransitionError{PaymentID: p.ID, From: p.Status, To: to}
	}

	now := m.now()
	p, err = m.payments.Transition(ctx, p.ID, []Status{StatusCompleted}, StatusUpdate{
		Status:            to,
		RefundAmount:      &amount,
		RefundedAt:        &now,
		MarkStockRestored: !p.StockRestored,
	})
	if err != nil {
		if errors.Is(err, ErrStale) {
			return m.afterStale(ctx, paymentID, to)
		}
		return errors.Wrap(err, "transition payment")
	}

	snap, err := m.orders.MarkRefunded(ctx, p.OrderID, to)
	if err != nil {
		return errors.Wrap(err, "sync order")
	}

	if !snap.AlreadyCancelled {
		if snap.Fulfilled {
			m.returnLines(ctx, snap.Lines)
		} else {
			m.releaseLines(ctx, snap.Lines)
		}
	}

	m.record(ctx, TransactionRecord{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Amount:        amount,
		PaymentAmount: p.Amount,
		Status:        to,
		Method:        p.Method,
		Initiator:     initiator,
		CompletedAt:   &now,
	})

	m.notifier.Notify(ctx, notify.KindRefundConfirmed, snap.Email, notify.PaymentPayload{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    amount.String(),
		Currency:  string(p.Currency),
		Status:    string(to),
	})
	return nil
}

// afterStale resolves a lost compare-and-set: when the concurrent writer
// applied the same status the call is idempotent, otherwise the transition
// was illegal.
func (m *Machine) afterStale(ctx context.Context, paymentID string, wanted Status) error {
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status == wanted {
		return nil
	}
	return &IllegalTransitionError{PaymentID: p.ID, From: p.Status, To: wanted}
}

// releaseLines drops the open reservation hold for each order line.
func (m *Machine) releaseLines(ctx context.Context, lines []OrderLine) {
	for _, l := range lines {
		if err := m.stock.Unreserve(ctx, l.ProductID, l.Quantity); err != nil {
			m.lg.Error("release stock hold",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}

// returnLines puts purchased quantities back into the sellable pool.
func (m *Machine) returnLines(ctx context.Context, lines []OrderLine) {
	for _, l := range lines {
		if err := m.stock.Restore(ctx, l.ProductID, l.Quantity); err != nil {
			m.lg.Error("restore stock",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}

// checkStockLevels is a defensive sanity check at completion time; it only
// logs, stock accounting stays authoritative.
func (m *Machine) checkStockLevels(ctx context.Context, lines []OrderLine) {
	for _, l := range lines {
		lvl, err := m.stock.Level(ctx, l.ProductID)
		if err != nil {
			m.lg.Warn("stock level check failed",
				zap.String("product_id", l.ProductID),
				zap.Error(err))
			continue
		}
		if lvl.Quantity <= 0 {
			m.lg.Warn("completed payment references product with no stock",
				zap.String("product_id", l.ProductID))
		}
	}
}

// record appends a ledger entry. The payment state is already committed at
// this point, so ledger errors are logged, not propagated.
func (m *Machine) record(ctx context.Context, rec TransactionRecord) {
	if err := m.ledger.Record(ctx, rec); err != nil {
		m.lg.Error("append transaction",
			zap.String("payment_id", rec.PaymentID),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}
