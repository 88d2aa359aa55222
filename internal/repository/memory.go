package repository

import (
	"context"

	"daily-nudge/internal/model"
)

// NewMemoryStores returns process-local stores. Data is lost on restart.
func NewMemoryStores(defaultTimezone string) Stores {
	return Stores{
		Preferences:   NewMemoryPreferenceStore(defaultTimezone),
		Subscriptions: NewMemorySubscriptionStore(),
		Plans:         NewMemoryPlanStore(),
	}
}

type MemoryPreferenceStore struct {
	defaultTimezone string
	prefs           keyed[model.Preference]
}

func NewMemoryPreferenceStore(defaultTimezone string) *MemoryPreferenceStore {
	return &MemoryPreferenceStore{defaultTimezone: defaultTimezone}
}

func (s *MemoryPreferenceStore) Get(_ context.Context, userID string) (model.Preference, error) {
	if p, ok := s.prefs.get(userID); ok {
		return p, nil
	}
	return model.DefaultPreference(s.defaultTimezone), nil
}

func (s *MemoryPreferenceStore) Set(_ context.Context, userID string, pref model.Preference) error {
	s.prefs.set(userID, pref)
	return nil
}

type MemorySubscriptionStore struct {
	subs keyed[model.Subscription]
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{}
}

func (s *MemorySubscriptionStore) Get(_ context.Context, userID string) (model.Subscription, error) {
	sub, ok := s.subs.get(userID)
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemorySubscriptionStore) Save(_ context.Context, userID string, sub model.Subscription) error {
	s.subs.set(userID, sub.Normalized())
	return nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, userID string) error {
	s.subs.remove(userID)
	return nil
}

func (s *MemorySubscriptionStore) DeleteIf(_ context.Context, userID, endpoint string) (bool, error) {
	var removed bool
	s.subs.update(userID, func(cur model.Subscription, present bool) (model.Subscription, bool) {
		if !present || cur.Endpoint != endpoint {
			return cur, present
		}
		removed = true
		return model.Subscription{}, false
	})
	return removed, nil
}

func (s *MemorySubscriptionStore) UserIDs(_ context.Context) ([]string, error) {
	return s.subs.keys(), nil
}

// MemoryPlanStore keeps only the most recent plan per user.
type MemoryPlanStore struct {
	plans keyed[model.Plan]
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{}
}

func (s *MemoryPlanStore) Get(_ context.Context, userID, date string) (model.Plan, error) {
	p, ok := s.plans.get(userID)
	if !ok || p.Date != date {
		return model.Plan{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryPlanStore) Put(_ context.Context, userID string, plan model.Plan) error {
	s.plans.set(userID, plan.Clone())
	return nil
}
