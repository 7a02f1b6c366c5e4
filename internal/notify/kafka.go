package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Envelope is the wire format published to the notification topic. The
// mailer service consumes it and renders the template for kind.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Recipient  string          `json:"recipient"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Kafka publishes notifications to a Kafka topic through an async writer.
// Writes never block the caller beyond the channel handoff; write errors are
// logged by the flush loop.
type Kafka struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}
	lg    *zap.Logger
}

var _ Notifier = (*Kafka)(nil)

// NewKafka creates a Kafka notifier publishing to topic on the given brokers.
// Call Start before use and Close on shutdown.
func NewKafka(brokers []string, topic string, buf int, lg *zap.Logger) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		lg:    lg,
	}
}

// Start runs the flush loop until ctx is cancelled, then drains the inbox.
func (k *Kafka) Start(ctx context.Context) {
	go func() {
		defer close(k.done)
		for {
			select {
			case <-ctx.Done():
				close(k.inbox)
				for m := range k.inbox {
					k.write(m)
				}
				if err := k.w.Close(); err != nil {
					k.lg.Warn("close notification writer", zap.Error(err))
				}
				return
			case m, ok := <-k.inbox:
				if !ok {
					return
				}
				k.write(m)
			}
		}
	}()
}

// WaitClosed blocks until the flush loop has drained and exited.
func (k *Kafka) WaitClosed() {
	<-k.done
}

// Notify queues one notification. A full inbox drops the message with a log
// line rather than blocking the payment flow.
func (k *Kafka) Notify(_ context.Context, kind Kind, email string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		k.lg.Error("marshal notification payload",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return
	}
	env, err := json.Marshal(Envelope{
		Kind:       kind,
		Recipient:  email,
		Payload:    body,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		k.lg.Error("marshal notification envelope", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(email),
		Value: env,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-notification-kind", Value: []byte(kind)},
		},
	}
	select {
	case k.inbox <- msg:
	default:
		k.lg.Warn("notification inbox full, dropping",
			zap.String("kind", string(kind)),
			zap.String("recipient", email))
	}
}

func (k *Kafka) write(m kafka.Message) {
	if err := k.w.WriteMessages(context.Background(), m); err != nil {
		k.lg.Error("publish notification", zap.Error(err))
	}
}
