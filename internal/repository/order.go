package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietcart/fulfillment/internal/domain/order"
	"github.com/vietcart/fulfillment/internal/domain/payment"
)

const (
	createOrderSQL = `INSERT INTO orders (
			id, user_id, user_email, items, sub_total, total_cost,
			total_cart_price, total_amount, discount_amount, shipping_fee,
			loyalty_points, discount_code, currency, payment_method,
			payment_status, order_status, address_id, shipping_type,
			loyalty_consumed, estimated_delivery
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)`

	getOrderSQL = `SELECT id, user_id, user_email, items, sub_total, total_cost,
			total_cart_price, total_amount, discount_amount, shipping_fee,
			loyalty_points, discount_code, currency, payment_method,
			payment_status, order_status, address_id, shipping_type,
			loyalty_consumed, estimated_delivery, created_at, updated_at
		FROM orders WHERE id = $1 AND NOT deleted`

	setOrderStatusSQL = `UPDATE orders SET order_status = $2, updated_at = now()
		WHERE id = $1 AND NOT deleted`

	cancelOrderSQL = `UPDATE orders SET order_status = 'Cancelled',
			payment_status = $2, updated_at = now()
		WHERE id = $1 AND NOT deleted`

	markPaidSQL = `WITH prev AS (
			SELECT order_status FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders SET payment_status = $2, order_status = $3, updated_at = now()
		WHERE id = $1
		RETURNING user_id, user_email, items, loyalty_points, loyalty_consumed,
			(SELECT order_status FROM prev)`

	markCancelledSQL = `WITH prev AS (
			SELECT order_status FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders SET payment_status = $2, updated_at = now(),
			order_status = CASE
				WHEN order_status IN ('Pending', 'processing') THEN 'Cancelled'
				ELSE order_status
			END
		WHERE id = $1
		RETURNING user_id, user_email, items, loyalty_points, loyalty_consumed,
			(SELECT order_status FROM prev)`

	markRefundedSQL = `WITH prev AS (
			SELECT order_status FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders SET payment_status = $2, updated_at = now()
		WHERE id = $1
		RETURNING user_id, user_email, items, loyalty_points, loyalty_consumed,
			(SELECT order_status FROM prev)`
)

var (
	_ order.Repository     = (*OrderRepository)(nil)
	_ payment.OrderUpdater = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and the state machine's
// payment.OrderUpdater backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The priced line items are serialized to JSON
// for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.UserEmail, itemsJSON, o.SubTotal, o.TotalCost,
		o.TotalCartPrice, o.TotalAmount, o.DiscountAmount, o.ShippingFee,
		o.LoyaltyPoints, o.DiscountCode, string(o.Currency), string(o.Method),
		string(o.PaymentStatus), string(o.Status), o.AddressID,
		string(o.Shipping), o.LoyaltyConsumed, o.EstimatedDelivery,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns an order by id, excluding logically-deleted rows.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// SetStatus updates the order lifecycle status.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, status order.Status) error {
	ct, err := r.pool.Exec(ctx, setOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Cancel sets the order to Cancelled with the payment status that caused it.
func (r *OrderRepository) Cancel(ctx context.Context, id string, ps payment.Status) error {
	ct, err := r.pool.Exec(ctx, cancelOrderSQL, id, string(ps))
	if err != nil {
		return fmt.Errorf("cancelling order %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// MarkPaid implements payment.OrderUpdater.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, immediate bool) (*payment.OrderSnapshot, error) {
	status := order.StatusProcessing
	if immediate {
		status = order.StatusDelivered
	}
	return r.mutate(ctx, markPaidSQL, orderID, payment.StatusCompleted, string(status))
}

// MarkCancelled implements payment.OrderUpdater. Orders past processing keep
// their lifecycle status; only the payment status is recorded.
func (r *OrderRepository) MarkCancelled(ctx context.Context, orderID string, ps payment.Status) (*payment.OrderSnapshot, error) {
	return r.mutate(ctx, markCancelledSQL, orderID, ps)
}

// MarkRefunded implements payment.OrderUpdater.
func (r *OrderRepository) MarkRefunded(ctx context.Context, orderID string, ps payment.Status) (*payment.OrderSnapshot, error) {
	return r.mutate(ctx, markRefundedSQL, orderID, ps)
}

func (r *OrderRepository) mutate(ctx context.Context, sql, orderID string, ps payment.Status, extra ...any) (*payment.OrderSnapshot, error) {
	args := append([]any{orderID, string(ps)}, extra...)

	var (
		snap       payment.OrderSnapshot
		itemsJSON  []byte
		prevStatus string
	)
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&snap.UserID, &snap.Email, &itemsJSON,
		&snap.LoyaltyPoints, &snap.LoyaltyConsumed, &prevStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("syncing order %q: %w", orderID, err)
	}
	snap.ID = orderID

	var items []order.Item
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	snap.Lines = make([]payment.OrderLine, len(items))
	for i, it := range items {
		snap.Lines[i] = payment.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	prev := order.Status(prevStatus)
	snap.AlreadyCancelled = prev == order.StatusCancelled
	snap.Fulfilled = prev == order.StatusDelivered || prev == order.StatusCompleted
	return &snap, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		currency  string
		method    string
		ps        string
		os        string
		shipping  string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.UserEmail, &itemsJSON, &o.SubTotal, &o.TotalCost,
		&o.TotalCartPrice, &o.TotalAmount, &o.DiscountAmount, &o.ShippingFee,
		&o.LoyaltyPoints, &o.DiscountCode, &currency, &method,
		&ps, &os, &o.AddressID, &shipping,
		&o.LoyaltyConsumed, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Currency = payment.Currency(currency)
	o.Method = payment.Method(method)
	o.PaymentStatus = payment.Status(ps)
	o.Status = order.Status(os)
	o.Shipping = order.ShippingType(shipping)
	return o, nil
}
