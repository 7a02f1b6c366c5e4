package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/gateway"
)

// maxWebhookBody bounds gateway notification payloads.
const maxWebhookBody = 1 << 20

type webhookBody struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Signature     string `json:"signature"`
}

// gatewayWebhook accepts a payment notification from an external gateway and
// feeds it to the reconciler. A 2xx tells the gateway to stop retrying, so
// conflicts that a retry cannot fix are also answered with 200.
func (h *Handler) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	g := gateway.Gateway(chi.URLParam(r, "gateway"))

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, r, gateway.ErrMalformedNotification)
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		h.respondError(w, r, gateway.ErrMalformedNotification)
		return
	}

	err = h.webhooks.Handle(r.Context(), g, gateway.Notification{
		TransactionID: body.TransactionID,
		Status:        body.Status,
		Signature:     body.Signature,
		Payload:       raw,
	})
	if err != nil {
		if _, status := classify(err); status == http.StatusConflict {
			h.lg.Info("webhook resolved as conflict",
				zap.String("gateway", string(g)),
				zap.String("transaction_id", body.TransactionID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
