// Package rewards publishes loyalty point credits to the rewards service.
// The credit itself happens downstream; this package only emits the event.
package rewards

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// Credit is the event published for each earned loyalty balance.
type Credit struct {
	UserID     string    `json:"user_id"`
	Points     int64     `json:"points"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits loyalty credits to a Kafka topic. Unlike notifications,
// credits are written synchronously so the caller learns about broker
// failures and can log them.
type Publisher struct {
	w   *kafka.Writer
	now func() time.Time
}

// NewPublisher creates a Publisher for topic on the given brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		now: time.Now,
	}
}

// CreditPoints publishes one credit event keyed by user.
func (p *Publisher) CreditPoints(ctx context.Context, userID string, points int64) error {
	body, err := json.Marshal(Credit{
		UserID:     userID,
		Points:     points,
		OccurredAt: p.now(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal credit")
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: body,
	}); err != nil {
		return errors.Wrap(err, "publish credit")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Noop discards credits. Used in tests and when no rewards topic is
// configured.
type Noop struct{}

// CreditPoints implements the rewards sink without doing anything.
func (Noop) CreditPoints(context.Context, string, int64) error { return nil }
