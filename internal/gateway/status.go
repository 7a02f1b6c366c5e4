// Package gateway reconciles asynchronous payment-gateway notifications with
// the canonical payment state machine: it verifies webhook signatures, maps
// gateway-specific status codes to the canonical vocabulary, and drives the
// corresponding transition.
package gateway

import (
	"github.com/go-faster/errors"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// Gateway identifies a payment gateway in webhook URLs and status maps.
type Gateway string

const (
	GatewayMomo    Gateway = "momo"
	GatewayZaloPay Gateway = "zalopay"
	GatewayVNPay   Gateway = "vnpay"
	GatewayPayPal  Gateway = "paypal"
	GatewayStripe  Gateway = "stripe"
)

// ErrUnknownGateway is returned for a webhook addressed to an unconfigured
// gateway.
var ErrUnknownGateway = errors.New("unknown payment gateway")

// statusMaps holds the gateway-specific result code vocabularies. The
// entries are contractual: a changed code breaks reconciliation with the
// provider.
var statusMaps = map[Gateway]map[string]payment.Status{
	GatewayMomo: {
		"0":    payment.StatusCompleted,
		"9000": payment.StatusFailed,
	},
	GatewayZaloPay: {
		"1": payment.StatusCompleted,
		"2": payment.StatusFailed,
	},
	GatewayVNPay: {
		"00": payment.StatusCompleted,
		"24": payment.StatusCancelled,
	},
	GatewayPayPal: {
		"COMPLETED": payment.StatusCompleted,
		"DENIED":    payment.StatusFailed,
	},
	GatewayStripe: {
		"succeeded": payment.StatusCompleted,
		"failed":    payment.StatusFailed,
	},
}

// Known reports whether g is a supported gateway.
func Known(g Gateway) bool {
	_, ok := statusMaps[g]
	return ok
}

// MapStatus translates a gateway result code to the canonical status. An
// unmapped code maps to Failed and mapped reports false, so callers can log
// the unrecognized code; it is never silently ignored.
func MapStatus(g Gateway, code string) (status payment.Status, mapped bool) {
	m, ok := statusMaps[g]
	if !ok {
		return payment.StatusFailed, false
	}
	st, ok := m[code]
	if !ok {
		return payment.StatusFailed, false
	}
	return st, true
}
