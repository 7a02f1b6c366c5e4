package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// ErrInvalidSignature is returned when a webhook's HMAC does not match the
// gateway's shared secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedNotification is returned when a webhook payload lacks the
// required fields.
var ErrMalformedNotification = errors.New("malformed gateway notification")

// Notification is a parsed gateway webhook.
type Notification struct {
	TransactionID string
	Status        string
	Signature     string
	Payload       json.RawMessage
}

// Machine is the slice of the payment state machine the reconciler drives.
type Machine interface {
	Complete(ctx context.Context, paymentID string, gatewayResponse json.RawMessage, initiator payment.Initiator) error
	Fail(ctx context.Context, paymentID, reason string, initiator payment.Initiator) error
	Cancel(ctx context.Context, paymentID, reason string, initiator payment.Initiator) error
}

// PaymentReader resolves payments by their gateway transaction reference.
type PaymentReader interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error)
}

// Reconciler verifies, maps, and applies gateway notifications. Handling is
// idempotent: redelivered webhooks for an already-resolved payment are
// logged no-ops.
type Reconciler struct {
	machine  Machine
	payments PaymentReader
	secrets  map[Gateway][]byte
	lg       *zap.Logger
}

// NewReconciler creates a Reconciler with per-gateway webhook secrets. A
// gateway with no secret configured skips signature verification.
func NewReconciler(machine Machine, payments PaymentReader, secrets map[Gateway][]byte, lg *zap.Logger) *Reconciler {
	return &Reconciler{
		machine:  machine,
		payments: payments,
		secrets:  secrets,
		lg:       lg,
	}
}

// Handle processes one gateway notification end to end.
func (r *Reconciler) Handle(ctx context.Context, g Gateway, n Notification) error {
	if !Known(g) {
		return errors.Wrap(ErrUnknownGateway, string(g))
	}
	if n.TransactionID == "" {
		return ErrMalformedNotification
	}
	if err := r.verifySignature(g, n); err != nil {
		return err
	}

	mapped, ok := MapStatus(g, n.Status)
	if !ok {
		// Fail-safe: an unrecognized code resolves the payment as Failed
		// rather than leaving it dangling.
		r.lg.Warn("unmapped gateway status code",
			zap.String("gateway", string(g)),
			zap.String("code", n.Status),
			zap.String("transaction_id", n.TransactionID))
	}

	p, err := r.payments.GetByTransactionID(ctx, n.TransactionID)
	if err != nil {
		return err
	}

	// Replay protection: a completed payment only ever moves forward through
	// an explicit refund, never through webhook redelivery.
	if p.Status == payment.StatusCompleted && mapped != payment.StatusRefunded {
		r.lg.Info("webhook for completed payment ignored",
			zap.String("payment_id", p.ID),
			zap.String("gateway", string(g)),
			zap.String("mapped_status", string(mapped)))
		return nil
	}

	switch mapped {
	case payment.StatusCompleted:
		return r.machine.Complete(ctx, p.ID, n.Payload, payment.InitiatorSystem)
	case payment.StatusCancelled:
		return r.machine.Cancel(ctx, p.ID, "cancelled by gateway", payment.InitiatorSystem)
	default:
		reason := "gateway reported failure"
		if !ok {
			reason = "unrecognized gateway status " + n.Status
		}
		return r.machine.Fail(ctx, p.ID, reason, payment.InitiatorSystem)
	}
}

// verifySignature checks the hex HMAC-SHA256 of the raw payload against the
// gateway's shared secret using a constant-time comparison.
func (r *Reconciler) verifySignature(g Gateway, n Notification) error {
	secret, ok := r.secrets[g]
	if !ok || len(secret) == 0 {
		return nil
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(n.Payload)
	want := mac.Sum(nil)

	got, err := hex.DecodeString(n.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(want, got) {
		return ErrInvalidSignature
	}
	return nil
}
