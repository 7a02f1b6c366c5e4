package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/discount"
	"github.com/vietcart/fulfillment/internal/domain/order"
	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/product"
	"github.com/vietcart/fulfillment/internal/domain/stock"
	"github.com/vietcart/fulfillment/internal/domain/transaction"
	"github.com/vietcart/fulfillment/internal/gateway"
)

// errorBody is the JSON envelope returned for every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError classifies err into the public error vocabulary and writes
// the matching status code. Unclassified errors are logged and surface as an
// opaque 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		h.lg.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, errorBody{Error: errorDetail{
			Code:    code,
			Message: "internal error",
		}})
		return
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    code,
		Message: err.Error(),
	}})
}

func classify(err error) (string, int) {
	var (
		insufficientErr *stock.InsufficientStockError
		mismatchErr     *order.PriceMismatchError
		quantityErr     *order.InvalidQuantityError
		stateErr        *order.IllegalStateError
		transitionErr   *payment.IllegalTransitionError
	)
	switch {
	case errors.As(err, &insufficientErr):
		return "insufficient_stock", http.StatusConflict
	case errors.As(err, &mismatchErr),
		errors.As(err, &stateErr),
		errors.As(err, &transitionErr),
		errors.Is(err, transaction.ErrDuplicateTransaction),
		errors.Is(err, payment.ErrStale),
		errors.Is(err, payment.ErrRefundExceedsAmount):
		return "conflict", http.StatusConflict
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrAddressNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, stock.ErrProductNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, gateway.ErrInvalidSignature):
		return "forbidden", http.StatusForbidden
	case errors.As(err, &quantityErr),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, product.ErrInvalidImageURL),
		errors.Is(err, discount.ErrInvalidDiscount),
		errors.Is(err, discount.ErrDiscountExpired),
		errors.Is(err, discount.ErrUsageLimitReached),
		errors.Is(err, payment.ErrMethodMismatch),
		errors.Is(err, payment.ErrTransactionIDMissing),
		errors.Is(err, gateway.ErrUnknownGateway),
		errors.Is(err, gateway.ErrMalformedNotification):
		return "validation", http.StatusBadRequest
	default:
		return "internal", http.StatusInternalServerError
	}
}
