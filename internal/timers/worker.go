package timers

import (
	"context"
	"errors"
	"time"

	"daily-nudge/internal/model"
	"daily-nudge/internal/push"
)

// Dispatcher sends a payload to a user.
type Dispatcher interface {
	Send(ctx context.Context, userID string, p model.Payload) error
}

// sendTimeout bounds one background delivery.
const sendTimeout = 30 * time.Second

// Run consumes fired deliveries until ctx is done or Stop is called. It may
// be started by several goroutines.
func (r *Registry) Run(ctx context.Context) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case d := <-r.queue:
			r.deliver(ctx, d)
		}
	}
}

func (r *Registry) deliver(ctx context.Context, d Delivery) {
	u := r.user(d.UserID)
	u.sending.RLock()
	defer u.sending.RUnlock()

	if !r.current(d.UserID, d.Generation) {
		r.log.Debug().Str("user", d.UserID).Str("delivery", d.ID).Msg("dropped delivery from superseded plan")
		return
	}

	sendCtx, cancel := context.WithTimeout(push.WithSource(ctx, push.SourceTimer), sendTimeout)
	defer cancel()

	err := r.dispatcher.Send(sendCtx, d.UserID, d.Payload)
	switch {
	case err == nil:
		r.log.Info().Str("user", d.UserID).Str("delivery", d.ID).Time("fire_at", d.FireAt).Msg("nudge delivered")
	case errors.Is(err, push.ErrNoSubscription):
		r.log.Debug().Str("user", d.UserID).Str("delivery", d.ID).Msg("no subscription, nudge dropped")
	default:
		r.log.Warn().Err(err).Str("user", d.UserID).Str("delivery", d.ID).Msg("nudge delivery failed")
	}
}
