package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Dispatcher is a Sink that hands events to a bounded worker pool and
// publishes them to the wrapped sink in the background, so a slow transport
// never delays the command that produced the event. Failures are logged.
type Dispatcher struct {
	next    Sink
	pool    *ants.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher starts a pool of workers size publishing to next.
//
// Precondition: workers >= 1; timeout > 0.
func NewDispatcher(next Sink, workers int, timeout time.Duration, logger *zap.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		logger.Error("notification worker panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("notify: creating worker pool: %w", err)
	}
	return &Dispatcher{next: next, pool: pool, timeout: timeout, logger: logger}, nil
}

// Publish queues e. The caller's context only bounds the hand-off; the
// delivery itself runs under the dispatcher's own timeout.
func (d *Dispatcher) Publish(_ context.Context, e Event) error {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.next.Publish(ctx, e); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("kind", string(e.Kind)),
				zap.String("key", e.Key()),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("notify: queueing %s: %w", e.Kind, err)
	}
	return nil
}

// Running returns the number of deliveries in progress.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close waits up to the delivery timeout for queued events, then closes the
// wrapped sink.
func (d *Dispatcher) Close() error {
	if err := d.pool.ReleaseTimeout(d.timeout); err != nil {
		d.logger.Warn("notification pool did not drain", zap.Error(err))
	}
	return d.next.Close()
}
