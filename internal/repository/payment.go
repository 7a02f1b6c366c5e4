package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments (
			id, order_id, payment_method, status, amount, currency,
			transaction_id, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`

	paymentColumns = `id, order_id, payment_method, status, amount, currency,
			COALESCE(transaction_id, ''), gateway_response, is_refunded,
			refunded_at, refund_amount, expires_at, failure_reason,
			stock_restored, created_at, updated_at`

	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	getPaymentByTransactionSQL = `SELECT ` + paymentColumns + `
		FROM payments WHERE transaction_id = $1`

	latestPaymentByOrderSQL = `SELECT ` + paymentColumns + `
		FROM payments WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`

	transitionPaymentSQL = `UPDATE payments SET
			status = $2,
			failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END,
			gateway_response = COALESCE($4, gateway_response),
			refund_amount = COALESCE($5, refund_amount),
			refunded_at = COALESCE($6, refunded_at),
			is_refunded = is_refunded OR $5 IS NOT NULL,
			stock_restored = stock_restored OR $7,
			updated_at = now()
		WHERE id = $1 AND status = ANY ($8) AND NOT (stock_restored AND $7)
		RETURNING ` + paymentColumns
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository stores payments in PostgreSQL. Transition is the single
// compare-and-set write the state machine relies on for exclusivity.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment. An empty transaction id is stored as NULL so
// the partial unique index ignores cash-on-delivery payments.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, string(p.Method), string(p.Status),
		p.Amount, string(p.Currency), p.TransactionID, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a payment by id.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentSQL, id)
}

// GetByTransactionID returns the payment holding the given gateway
// transaction id.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByTransactionSQL, transactionID)
}

// LatestByOrder returns the most recently created payment for an order.
func (r *PaymentRepository) LatestByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.one(ctx, latestPaymentByOrderSQL, orderID)
}

// Transition atomically moves the payment into upd.Status provided its
// current status is one of from. When the guard does not match, or the
// stock-restoration claim was already taken, it returns ErrStale.
func (r *PaymentRepository) Transition(ctx context.Context, id string, from []payment.Status, upd payment.StatusUpdate) (*payment.Payment, error) {
	guard := make([]string, len(from))
	for i, s := range from {
		guard[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, transitionPaymentSQL,
		id, string(upd.Status), upd.FailureReason,
		[]byte(upd.GatewayResponse), upd.RefundAmount, upd.RefundedAt,
		upd.MarkStockRestored, guard,
	)
	if err != nil {
		return nil, fmt.Errorf("transitioning payment %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrStale
		}
		return nil, fmt.Errorf("transitioning payment %q: %w", id, err)
	}
	return &p, nil
}

func (r *PaymentRepository) one(ctx context.Context, sql string, arg any) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment: %w", err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p        payment.Payment
		method   string
		status   string
		currency string
		gateway  []byte
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &method, &status, &p.Amount, &currency,
		&p.TransactionID, &gateway, &p.IsRefunded,
		&p.RefundedAt, &p.RefundAmount, &p.ExpiresAt, &p.FailureReason,
		&p.StockRestored, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	p.Currency = payment.Currency(currency)
	p.GatewayResponse = gateway
	return p, nil
}
