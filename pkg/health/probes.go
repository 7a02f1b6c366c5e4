package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by pgxpool.Pool and similar connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes a connection pool.
func Ping(p Pinger) Probe {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineBudget fails when the process exceeds max goroutines. A steadily
// growing count usually means a leaked worker.
func GoroutineBudget(max int) Probe {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > max {
			return errors.Errorf("%d goroutines, budget %d", n, max)
		}
		return nil
	}
}

// GCPauseBudget fails when any recorded GC pause exceeds max.
func GCPauseBudget(max time.Duration) Probe {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > max {
				return errors.Errorf("GC pause %s over budget %s", pause, max)
			}
		}
		return nil
	}
}
