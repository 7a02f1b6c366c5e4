package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/order"
	"github.com/vietcart/fulfillment/internal/domain/payment"
)

type orderItemRequest struct {
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsGift       bool            `json:"is_gift,omitempty"`
	CustomOption string          `json:"custom_option,omitempty"`
}

type createOrderRequest struct {
	Items        []orderItemRequest `json:"items"`
	AddressID    string             `json:"address_id"`
	Method       string             `json:"payment_method"`
	Currency     string             `json:"currency,omitempty"`
	DiscountCode string             `json:"discount_code,omitempty"`
	Shipping     string             `json:"shipping_type,omitempty"`
	UseLoyalty   bool               `json:"use_loyalty,omitempty"`
}

type checkoutRequest struct {
	AddressID    string `json:"address_id"`
	Method       string `json:"payment_method"`
	Currency     string `json:"currency,omitempty"`
	DiscountCode string `json:"discount_code,omitempty"`
	Shipping     string `json:"shipping_type,omitempty"`
	UseLoyalty   bool   `json:"use_loyalty,omitempty"`
}

type orderResponse struct {
	ID                string          `json:"id"`
	Items             []order.Item    `json:"items"`
	SubTotal          decimal.Decimal `json:"sub_total"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalCartPrice    decimal.Decimal `json:"total_cart_price"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	ShippingFee       decimal.Decimal `json:"shipping_fee"`
	LoyaltyPoints     int64           `json:"loyalty_points"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentStatus     string          `json:"payment_status"`
	OrderStatus       string          `json:"order_status"`
	ShippingType      string          `json:"shipping_type"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
	CreatedAt         time.Time       `json:"created_at"`
}

type paymentResponse struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Method        string          `json:"payment_method"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

type createOrderResponse struct {
	Order   orderResponse   `json:"order"`
	Payment paymentResponse `json:"payment"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code: "validation", Message: "invalid json body",
		}})
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			IsGift:       it.IsGift,
			CustomOption: it.CustomOption,
		}
	}

	res, err := h.orders.CreateOrder(r.Context(), order.CreateOrderRequest{
		User:         user,
		Items:        items,
		AddressID:    req.AddressID,
		Method:       payment.Method(req.Method),
		Currency:     payment.Currency(req.Currency),
		DiscountCode: req.DiscountCode,
		Shipping:     order.ShippingType(req.Shipping),
		UseLoyalty:   req.UseLoyalty,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:   toOrderResponse(res.Order),
		Payment: toPaymentResponse(res.Payment),
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code: "validation", Message: "invalid json body",
		}})
		return
	}

	res, err := h.orders.Checkout(r.Context(), order.CreateOrderRequest{
		User:         user,
		AddressID:    req.AddressID,
		Method:       payment.Method(req.Method),
		Currency:     payment.Currency(req.Currency),
		DiscountCode: req.DiscountCode,
		Shipping:     order.ShippingType(req.Shipping),
		UseLoyalty:   req.UseLoyalty,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:   toOrderResponse(res.Order),
		Payment: toPaymentResponse(res.Payment),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	o, err := h.orders.GetOrder(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) getOrderPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}
	orderID := chi.URLParam(r, "id")

	// Ownership check goes through the order read path.
	if _, err := h.orders.GetOrder(r.Context(), user, orderID); err != nil {
		h.respondError(w, r, err)
		return
	}

	p, err := h.payments.LatestByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	if err := h.orders.CompleteOrder(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
				Code: "validation", Message: "invalid json body",
			}})
			return
		}
	}

	if err := h.orders.CancelOrder(r.Context(), user, chi.URLParam(r, "id"), req.Reason); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPaymentStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// setPaymentStatus is the back-office path for payments no gateway will ever
// confirm: COD settled on delivery, bank transfers verified by hand. It
// drives the same state machine as the webhook reconciler.
func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok || !user.Admin() {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	var req setPaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code: "validation", Message: "invalid json body",
		}})
		return
	}

	p, err := h.payments.LatestByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	switch payment.Status(req.Status) {
	case payment.StatusCompleted:
		err = h.payments.Complete(r.Context(), p.ID, nil, payment.InitiatorAdmin)
	case payment.StatusFailed:
		err = h.payments.Fail(r.Context(), p.ID, req.Reason, payment.InitiatorAdmin)
	case payment.StatusCancelled:
		err = h.payments.Cancel(r.Context(), p.ID, req.Reason, payment.InitiatorAdmin)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code: "validation", Message: "status must be Completed, Failed, or Cancelled",
		}})
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refundOrderRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok || !user.Admin() {
		h.respondError(w, r, order.ErrUnauthorized)
		return
	}

	var req refundOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code: "validation", Message: "invalid json body",
		}})
		return
	}

	p, err := h.payments.LatestByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.payments.Refund(r.Context(), p.ID, req.Amount, payment.InitiatorAdmin); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type productResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Currency   string          `json:"currency"`
	ImageURL   string          `json:"image_url,omitempty"`
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price,
		FinalPrice: p.FinalPrice,
		Currency:   string(p.Currency),
		ImageURL:   p.ImageURL,
	})
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:                o.ID,
		Items:             o.Items,
		SubTotal:          o.SubTotal,
		TotalCost:         o.TotalCost,
		TotalCartPrice:    o.TotalCartPrice,
		TotalAmount:       o.TotalAmount,
		DiscountAmount:    o.DiscountAmount,
		ShippingFee:       o.ShippingFee,
		LoyaltyPoints:     o.LoyaltyPoints,
		Currency:          string(o.Currency),
		PaymentMethod:     string(o.Method),
		PaymentStatus:     string(o.PaymentStatus),
		OrderStatus:       string(o.Status),
		ShippingType:      string(o.Shipping),
		EstimatedDelivery: o.EstimatedDelivery,
		CreatedAt:         o.CreatedAt,
	}
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Method:        string(p.Method),
		Status:        string(p.Status),
		Amount:        p.Amount,
		Currency:      string(p.Currency),
		TransactionID: p.TransactionID,
		RefundAmount:  p.RefundAmount,
		ExpiresAt:     p.ExpiresAt,
		FailureReason: p.FailureReason,
	}
}
