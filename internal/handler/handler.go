// Package handler exposes the order and webhook surface over HTTP. Handlers
// decode and validate transport concerns only; all business rules live in
// the domain services.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/order"
	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/product"
	"github.com/vietcart/fulfillment/internal/gateway"
)

// Payments is the slice of the payment state machine the handlers drive
// directly: refunds, manual status resolution, and payment lookups.
// Everything else goes through the order service.
type Payments interface {
	Complete(ctx context.Context, paymentID string, gatewayResponse json.RawMessage, initiator payment.Initiator) error
	Fail(ctx context.Context, paymentID, reason string, initiator payment.Initiator) error
	Cancel(ctx context.Context, paymentID, reason string, initiator payment.Initiator) error
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal, initiator payment.Initiator) error
	LatestByOrder(ctx context.Context, orderID string) (*payment.Payment, error)
}

// Webhooks reconciles gateway notifications.
type Webhooks interface {
	Handle(ctx context.Context, g gateway.Gateway, n gateway.Notification) error
}

// Handler wires the HTTP routes to the domain services.
type Handler struct {
	orders   *order.Service
	payments Payments
	webhooks Webhooks
	products product.Repository
	lg       *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders *order.Service,
	payments Payments,
	webhooks Webhooks,
	products product.Repository,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		webhooks: webhooks,
		products: products,
		lg:       lg,
	}
}

// Register mounts all routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Post("/checkout", h.checkout)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/payment", h.getOrderPayment)
		r.Put("/{id}/payment", h.setPaymentStatus)
		r.Post("/{id}/complete", h.completeOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/refund", h.refundOrder)
	})
	r.Get("/products/{id}", h.getProduct)
	r.Post("/webhooks/{gateway}", h.gatewayWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// userFrom reads the principal injected by the API gateway. An empty user id
// means the request never passed authentication.
func userFrom(r *http.Request) (order.User, bool) {
	u := order.User{
		ID:    r.Header.Get("X-User-ID"),
		Email: r.Header.Get("X-User-Email"),
		Role:  r.Header.Get("X-User-Role"),
	}
	return u, u.ID != ""
}
