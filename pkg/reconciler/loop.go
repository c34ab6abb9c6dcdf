package reconciler

import (
	"context"

	"github.com/cuemby/promagent/pkg/events"
)

// CycleHook observes every finished cycle
type CycleHook func(res *Result, err error)

// Loop runs one cycle per event from sub until ctx is done or sub is
// closed. Cycles never overlap. A failed cycle is logged and recorded; the
// next event retries from the last committed state.
func (r *Reconciler) Loop(ctx context.Context, sub events.Subscriber, hook CycleHook) {
	r.logger.Info().Msg("Reconcile loop started")
	defer r.logger.Info().Msg("Reconcile loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			res, err := r.Reconcile(ctx, ev)
			if hook != nil {
				hook(res, err)
			}
		}
	}
}
