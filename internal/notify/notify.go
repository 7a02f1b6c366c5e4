// Package notify delivers user-facing notifications. Delivery is
// fire-and-forget: failures are logged, never propagated, and a committed
// payment or order state is never rolled back because a message was lost.
package notify

import "context"

// Kind labels the notification template to render downstream.
type Kind string

const (
	KindOrderConfirmed   Kind = "order.confirmed"
	KindPaymentConfirmed Kind = "payment.confirmed"
	KindPaymentFailed    Kind = "payment.failed"
	KindRefundConfirmed  Kind = "refund.confirmed"
)

// PaymentPayload is the message body for payment-related notifications.
type PaymentPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// OrderPayload is the message body for order lifecycle notifications.
type OrderPayload struct {
	OrderID     string `json:"order_id"`
	TotalAmount string `json:"total_amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// Notifier queues a notification for the given recipient.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, email string, payload any)
}

// Noop discards all notifications. Useful in tests and CLIs.
type Noop struct{}

func (Noop) Notify(context.Context, Kind, string, any) {}
