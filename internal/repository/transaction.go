package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/transaction"
)

const (
	appendTransactionSQL = `INSERT INTO transactions (
			id, order_id, payment_id, transaction_id, amount, status,
			payment_method, fee, initiator, completed_at, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	transactionExistsSQL = `SELECT EXISTS (
			SELECT 1 FROM transactions WHERE transaction_id = $1
		)`

	resolveTransactionSQL = `UPDATE transactions SET
			completed_at = COALESCE($2, completed_at),
			failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END
		WHERE id = $1`

	listTransactionsByOrderSQL = `SELECT id, order_id, payment_id,
			transaction_id, amount, status, payment_method, fee, initiator,
			completed_at, failure_reason, created_at
		FROM transactions WHERE order_id = $1 ORDER BY created_at`
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

var _ transaction.Repository = (*TransactionRepository)(nil)

// TransactionRepository stores ledger entries in PostgreSQL. The unique index
// on transaction_id is the final authority on duplicates; the ledger's bloom
// filter only short-circuits the common case.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository returns a TransactionRepository using the given pool.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Append inserts a new ledger entry.
func (r *TransactionRepository) Append(ctx context.Context, t *transaction.Transaction) error {
	_, err := r.pool.Exec(ctx, appendTransactionSQL,
		t.ID, t.OrderID, t.PaymentID, t.TransactionID, t.Amount,
		string(t.Status), string(t.Method), t.Fee, string(t.Initiator),
		t.CompletedAt, t.FailureReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return transaction.ErrDuplicateTransaction
		}
		return fmt.Errorf("appending transaction %q: %w", t.ID, err)
	}
	return nil
}

// ExistsByTransactionID reports whether a ledger entry with the given
// transaction id is already recorded.
func (r *TransactionRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, transactionExistsSQL, transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking transaction %q: %w", transactionID, err)
	}
	return exists, nil
}

// Resolve fills in completion details on an existing entry.
func (r *TransactionRepository) Resolve(ctx context.Context, id string, completedAt *time.Time, failureReason string) error {
	ct, err := r.pool.Exec(ctx, resolveTransactionSQL, id, completedAt, failureReason)
	if err != nil {
		return fmt.Errorf("resolving transaction %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return errors.Errorf("transaction %q not found", id)
	}
	return nil
}

// ListByOrder returns the order's ledger entries in chronological order.
func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]transaction.Transaction, error) {
	rows, err := r.pool.Query(ctx, listTransactionsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (transaction.Transaction, error) {
		var (
			t         transaction.Transaction
			status    string
			method    string
			initiator string
		)
		err := row.Scan(
			&t.ID, &t.OrderID, &t.PaymentID, &t.TransactionID, &t.Amount,
			&status, &method, &t.Fee, &initiator,
			&t.CompletedAt, &t.FailureReason, &t.CreatedAt,
		)
		if err != nil {
			return t, err
		}
		t.Status = payment.Status(status)
		t.Method = payment.Method(method)
		t.Initiator = payment.Initiator(initiator)
		return t, nil
	})
}
