// Package push delivers notification payloads to a user's registered
// subscription.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
	"daily-nudge/internal/repository"
)

var (
	// ErrNoSubscription means the user has no registered endpoint.
	ErrNoSubscription = errors.New("no subscription for user")
	// ErrDeliveryFailed wraps every transport-level failure.
	ErrDeliveryFailed = errors.New("push delivery failed")
	// ErrExpired marks an endpoint the push service no longer accepts.
	ErrExpired = errors.New("push endpoint expired")
)

// MaxBodyLength bounds the body text in runes.
const MaxBodyLength = 140

const (
	defaultTitle = "Your focus nudge"
	defaultURL   = "/"
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub model.Subscription, p model.Payload) error
}

// Dispatcher looks up the user's subscription and hands the payload to the
// sender registered for the subscription kind. It never retries.
type Dispatcher struct {
	subs    repository.SubscriptionStore
	senders map[string]Sender
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewDispatcher wires senders by subscription kind. A nil limiter disables
// pacing.
func NewDispatcher(subs repository.SubscriptionStore, senders map[string]Sender, limiter *rate.Limiter, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{subs: subs, senders: senders, limiter: limiter, metrics: m, log: log}
}

// Send delivers p to userID. It returns nil, ErrNoSubscription, or an error
// wrapping ErrDeliveryFailed.
func (d *Dispatcher) Send(ctx context.Context, userID string, p model.Payload) error {
	source := SourceFrom(ctx)

	sub, err := d.subs.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		d.metrics.Delivery(source, "no_subscription")
		return ErrNoSubscription
	}
	if err != nil {
		d.metrics.Delivery(source, "failed")
		return fmt.Errorf("%w: load subscription: %v", ErrDeliveryFailed, err)
	}
	sub = sub.Normalized()

	sender, ok := d.senders[sub.Kind]
	if !ok {
		d.metrics.Delivery(source, "failed")
		return fmt.Errorf("%w: no transport for kind %q", ErrDeliveryFailed, sub.Kind)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.Delivery(source, "failed")
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}

	p = Normalize(p)
	if err := sender.Send(ctx, sub, p); err != nil {
		d.metrics.Delivery(source, "failed")
		d.log.Warn().Err(err).Str("user", userID).Str("kind", sub.Kind).Str("source", source).Msg("push send failed")
		if errors.Is(err, ErrExpired) {
			// A registration saved while the send was in flight must survive.
			removed, derr := d.subs.DeleteIf(ctx, userID, sub.Endpoint)
			switch {
			case derr != nil:
				d.log.Warn().Err(derr).Str("user", userID).Msg("drop expired subscription")
			case removed:
				d.log.Info().Str("user", userID).Msg("dropped expired subscription")
			default:
				d.log.Debug().Str("user", userID).Msg("expired subscription already replaced")
			}
		}
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	d.metrics.Delivery(source, "ok")
	d.log.Debug().Str("user", userID).Str("kind", sub.Kind).Str("source", source).Msg("push sent")
	return nil
}

// Normalize applies defaults and truncates the body.
func Normalize(p model.Payload) model.Payload {
	if strings.TrimSpace(p.Title) == "" {
		p.Title = defaultTitle
	}
	if strings.TrimSpace(p.URL) == "" {
		p.URL = defaultURL
	}
	p.Body = Truncate(p.Body, MaxBodyLength)
	return p
}

// Truncate shortens s to at most max runes, ending in an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}

type sourceKey struct{}

// Delivery sources used for logging and metrics.
const (
	SourceExplicit = "explicit"
	SourceTimer    = "timer"
	SourceReminder = "reminder"
)

// WithSource tags ctx with what triggered a send.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the tagged source, defaulting to explicit.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceExplicit
}
