package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryDelay is how long a failed expiration waits before it is re-queued.
const retryDelay = 30 * time.Second

// Expirer forces one pending payment to Expired. It must be idempotent: a
// payment that already reached a terminal status is a no-op.
type Expirer interface {
	Expire(ctx context.Context, paymentID string) error
}

// Scheduler polls the queue and expires due payments. Multiple instances may
// run concurrently against the same durable queue; the queue's claim
// semantics and the state machine's status guard make duplicate firings
// harmless.
type Scheduler struct {
	queue    Queue
	expirer  Expirer
	interval time.Duration
	lg       *zap.Logger
	now      func() time.Time
}

// NewScheduler creates a Scheduler polling at the given interval.
func NewScheduler(queue Queue, expirer Expirer, interval time.Duration, lg *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		queue:    queue,
		expirer:  expirer,
		interval: interval,
		lg:       lg,
		now:      time.Now,
	}
}

// Schedule registers a payment's expiry deadline. Safe to call repeatedly.
func (s *Scheduler) Schedule(ctx context.Context, paymentID string, at time.Time) error {
	return s.queue.Add(ctx, paymentID, at)
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims and processes all currently due entries. Exported so tests and
// alternative drivers can step the scheduler without the poll loop.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.queue.PopDue(ctx, s.now())
	if err != nil {
		s.lg.Error("pop due expiries", zap.Error(err))
		return
	}

	for _, id := range due {
		if err := s.expirer.Expire(ctx, id); err != nil {
			s.lg.Error("expire payment",
				zap.String("payment_id", id),
				zap.Error(err))
			// Re-queue so a transient failure is retried; the status guard
			// makes the retry safe if the payment resolved meanwhile.
			if qErr := s.queue.Add(ctx, id, s.now().Add(retryDelay)); qErr != nil {
				s.lg.Error("requeue expiry",
					zap.String("payment_id", id),
					zap.Error(qErr))
			}
			continue
		}
		s.lg.Debug("payment expiry processed", zap.String("payment_id", id))
	}
}
