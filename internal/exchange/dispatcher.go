package exchange

import (
	"context"

	"go.uber.org/zap"

	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/models"
)

// Matcher is the idempotent match-trigger contract the dispatcher drives.
type Matcher interface {
	AttemptMatch(ctx context.Context, orderID int64) (*models.Trade, error)
}

// Dispatcher queues match triggers and drives them from a background
// worker, decoupling order creation from settlement the way an external
// job queue would. Delivery is at-least-once: a failed attempt is logged
// and may be re-enqueued by the caller, and the engine tolerates duplicate
// triggers.
type Dispatcher struct {
	matcher Matcher
	queue   chan int64
	log     *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(matcher Matcher, buffer int, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		matcher: matcher,
		queue:   make(chan int64, buffer),
		log:     log,
	}
}

// Enqueue schedules a match attempt for the order. Blocks when the queue
// is full rather than dropping the trigger.
func (d *Dispatcher) Enqueue(orderID int64) {
	d.queue <- orderID
}

// Run consumes the queue until ctx is cancelled. Intended to be started as
// a goroutine from the server entry point.
//
// An attempt that fails on transient contention is re-enqueued so the
// trigger is not lost; any other failure is logged and dropped, since
// retrying a non-transient error would spin without making progress.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-d.queue:
			if _, err := d.matcher.AttemptMatch(ctx, orderID); err != nil {
				d.log.Error("match attempt failed",
					zap.Int64("order_id", orderID), zap.Error(err))
				if db.IsTransient(err) {
					select {
					case d.queue <- orderID:
					default:
						d.log.Warn("match queue full, dropping trigger",
							zap.Int64("order_id", orderID))
					}
				}
			}
		}
	}
}
