package repository

import (
	"context"
	"errors"

	"daily-nudge/internal/model"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("not found")

// PreferenceStore holds per-user reminder preferences.
type PreferenceStore interface {
	// Get returns the stored preference or the defaults when none is stored.
	Get(ctx context.Context, userID string) (model.Preference, error)
	Set(ctx context.Context, userID string, pref model.Preference) error
}

// SubscriptionStore holds one push subscription per user.
type SubscriptionStore interface {
	Get(ctx context.Context, userID string) (model.Subscription, error)
	// Save replaces any previous subscription of the user.
	Save(ctx context.Context, userID string, sub model.Subscription) error
	Delete(ctx context.Context, userID string) error
	// DeleteIf removes the subscription only while it still points at
	// endpoint, and reports whether it did.
	DeleteIf(ctx context.Context, userID, endpoint string) (bool, error)
	UserIDs(ctx context.Context) ([]string, error)
}

// PlanStore keeps the current plan of each user.
type PlanStore interface {
	// Get returns the plan only if the stored plan is for date.
	Get(ctx context.Context, userID, date string) (model.Plan, error)
	// Put overwrites the user's current plan.
	Put(ctx context.Context, userID string, plan model.Plan) error
}

// Stores bundles the store implementations selected at startup.
type Stores struct {
	Preferences   PreferenceStore
	Subscriptions SubscriptionStore
	Plans         PlanStore
}
